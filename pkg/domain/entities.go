// Package domain defines the task-tracking entities, value types, and rule
// evaluation primitives shared by the taskledger engine and its backends.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in refs, Change records and persistence rows.
const (
	// EntityAccount identifies an owning customer account.
	EntityAccount EntityType = "account"
	// EntityUser identifies a user belonging to an account.
	EntityUser EntityType = "user"
	// EntityProject identifies a project owned by an account.
	EntityProject EntityType = "project"
	// EntityTask identifies a task within a project.
	EntityTask EntityType = "task"
	// EntityTimeEntry identifies hours booked against a task.
	EntityTimeEntry EntityType = "time_entry"
	// EntityInvoice identifies an invoice issued to an account.
	EntityInvoice EntityType = "invoice"
)

// EntityTypes lists every entity type in dependency order (owners first).
func EntityTypes() []EntityType {
	return []EntityType{EntityAccount, EntityUser, EntityProject, EntityTask, EntityTimeEntry, EntityInvoice}
}

// Valid reports whether t names a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Ref addresses a single entity. IDs are unique within an entity type.
type Ref struct {
	Entity EntityType `json:"entity"`
	ID     int64      `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Entity, r.ID)
}

// Entity is implemented by every addressable domain record.
type Entity interface {
	Ref() Ref
}

// StatusHolder is implemented by entities whose status transitions are audited.
type StatusHolder interface {
	Entity
	CurrentStatus() string
}

// UserRole enumerates the roles a user may hold.
type UserRole string

// Canonical user roles.
const (
	RoleDeveloper UserRole = "developer"
	RoleManager   UserRole = "manager"
	RoleAdmin     UserRole = "admin"
)

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

// Canonical project statuses. Completed is derived by the rule engine.
const (
	ProjectPlanned   ProjectStatus = "planned"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
)

// TaskStatus enumerates task workflow states.
type TaskStatus string

// Canonical task statuses.
const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

// InvoiceStatus enumerates invoice billing states.
type InvoiceStatus string

// Canonical invoice statuses.
const (
	InvoiceDraft   InvoiceStatus = "draft"
	InvoiceSent    InvoiceStatus = "sent"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOverdue InvoiceStatus = "overdue"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleDeveloper, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPlanned, ProjectActive, ProjectOnHold, ProjectCompleted:
		return true
	}
	return false
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskBlocked, TaskDone:
		return true
	}
	return false
}

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue:
		return true
	}
	return false
}

// Base contains common fields for all domain records.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account owns users, projects and invoices.
type Account struct {
	Base
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
}

// User is a member of an account. Email is unique across the process.
type User struct {
	Base
	AccountID int64    `json:"account_id"`
	FullName  string   `json:"full_name"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	Active    bool     `json:"active"`
}

// Project groups tasks for an account. Name is unique within the account.
type Project struct {
	Base
	AccountID int64           `json:"account_id"`
	Name      string          `json:"name"`
	Status    ProjectStatus   `json:"status"`
	Budget    decimal.Decimal `json:"budget"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

// Task is a unit of work inside a project. Title is unique within the project.
type Task struct {
	Base
	ProjectID      int64            `json:"project_id"`
	AssigneeID     *int64           `json:"assignee_id,omitempty"`
	Title          string           `json:"title"`
	Status         TaskStatus       `json:"status"`
	Priority       int              `json:"priority"`
	EstimatedHours *decimal.Decimal `json:"estimated_hours,omitempty"`
	DueDate        *time.Time       `json:"due_date,omitempty"`
}

// TimeEntry books hours spent by a user on a task for a single work date.
type TimeEntry struct {
	Base
	TaskID   int64           `json:"task_id"`
	UserID   int64           `json:"user_id"`
	WorkDate time.Time       `json:"work_date"`
	Hours    decimal.Decimal `json:"hours_spent"`
	Note     string          `json:"note,omitempty"`
}

// Invoice bills an account, optionally for a specific project.
type Invoice struct {
	Base
	AccountID int64           `json:"account_id"`
	ProjectID *int64          `json:"project_id,omitempty"`
	IssueDate time.Time       `json:"issue_date"`
	DueDate   time.Time       `json:"due_date"`
	Amount    decimal.Decimal `json:"amount"`
	Status    InvoiceStatus   `json:"status"`
}

func (a Account) Ref() Ref   { return Ref{Entity: EntityAccount, ID: a.ID} }
func (u User) Ref() Ref      { return Ref{Entity: EntityUser, ID: u.ID} }
func (p Project) Ref() Ref   { return Ref{Entity: EntityProject, ID: p.ID} }
func (t Task) Ref() Ref      { return Ref{Entity: EntityTask, ID: t.ID} }
func (e TimeEntry) Ref() Ref { return Ref{Entity: EntityTimeEntry, ID: e.ID} }
func (i Invoice) Ref() Ref   { return Ref{Entity: EntityInvoice, ID: i.ID} }

func (p Project) CurrentStatus() string { return string(p.Status) }
func (t Task) CurrentStatus() string    { return string(t.Status) }
func (i Invoice) CurrentStatus() string { return string(i.Status) }

// CloneEntity returns a deep copy of e so callers never share pointer fields
// with the store.
func CloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case Account:
		return v
	case User:
		return v
	case Project:
		cp := v
		cp.StartDate = cloneTime(v.StartDate)
		cp.EndDate = cloneTime(v.EndDate)
		return cp
	case Task:
		cp := v
		cp.AssigneeID = cloneInt64(v.AssigneeID)
		cp.DueDate = cloneTime(v.DueDate)
		if v.EstimatedHours != nil {
			h := *v.EstimatedHours
			cp.EstimatedHours = &h
		}
		return cp
	case TimeEntry:
		return v
	case Invoice:
		cp := v
		cp.ProjectID = cloneInt64(v.ProjectID)
		return cp
	default:
		return e
	}
}

// WithID returns a copy of e carrying the supplied identifier.
func WithID(e Entity, id int64) Entity {
	switch v := e.(type) {
	case Account:
		v.ID = id
		return v
	case User:
		v.ID = id
		return v
	case Project:
		v.ID = id
		return v
	case Task:
		v.ID = id
		return v
	case TimeEntry:
		v.ID = id
		return v
	case Invoice:
		v.ID = id
		return v
	default:
		return e
	}
}

// Stamp sets the audit timestamps on e. CreatedAt is only set when zero.
func Stamp(e Entity, now time.Time) Entity {
	stamp := func(b *Base) {
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		b.UpdatedAt = now
	}
	switch v := e.(type) {
	case Account:
		stamp(&v.Base)
		return v
	case User:
		stamp(&v.Base)
		return v
	case Project:
		stamp(&v.Base)
		return v
	case Task:
		stamp(&v.Base)
		return v
	case TimeEntry:
		stamp(&v.Base)
		return v
	case Invoice:
		stamp(&v.Base)
		return v
	default:
		return e
	}
}

// DecodeEntity unmarshals a JSON payload into the concrete type for entity.
func DecodeEntity(entity EntityType, raw []byte) (Entity, error) {
	switch entity {
	case EntityAccount:
		return decodeAs[Account](raw)
	case EntityUser:
		return decodeAs[User](raw)
	case EntityProject:
		return decodeAs[Project](raw)
	case EntityTask:
		return decodeAs[Task](raw)
	case EntityTimeEntry:
		return decodeAs[TimeEntry](raw)
	case EntityInvoice:
		return decodeAs[Invoice](raw)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
}

func decodeAs[T Entity](raw []byte) (Entity, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
