package domain

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock rejects the mutation and aborts the transaction.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action indicates the type of modification performed.
type Action string

// Change actions. Entities are never hard-deleted, so there is no delete action.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Change describes a mutation staged against an entity during a transaction.
// Before is nil for creates.
type Change struct {
	Entity EntityType
	ID     int64
	Action Action
	Before Entity
	After  Entity
}

// Ref returns the address of the changed entity.
func (c Change) Ref() Ref {
	return Ref{Entity: c.Entity, ID: c.ID}
}

// StatusTransition reports the old and new status of a status-bearing entity
// and whether the change moved it. Creates report an empty old status.
func (c Change) StatusTransition() (oldStatus, newStatus string, changed bool) {
	after, ok := c.After.(StatusHolder)
	if !ok {
		return "", "", false
	}
	newStatus = after.CurrentStatus()
	if before, ok := c.Before.(StatusHolder); ok {
		oldStatus = before.CurrentStatus()
	}
	return oldStatus, newStatus, oldStatus != newStatus
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	_, ok := r.FirstBlocking()
	return ok
}

// FirstBlocking returns the first blocking violation, if any.
func (r Result) FirstBlocking() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return v, true
		}
	}
	return Violation{}, false
}

// Block builds a single blocking violation result.
func Block(rule string, ref Ref, message string) Result {
	return Result{Violations: []Violation{{
		Rule:     rule,
		Severity: SeverityBlock,
		Message:  message,
		Entity:   ref.Entity,
		EntityID: ref.ID,
	}}}
}
