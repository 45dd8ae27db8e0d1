package core

import (
	"time"

	"github.com/shopspring/decimal"

	"taskledger/pkg/domain"
)

// ProjectSummary aggregates effort and billing for one project.
type ProjectSummary struct {
	ProjectID    int64           `json:"project_id" yaml:"project_id"`
	Name         string          `json:"name" yaml:"name"`
	Status       string          `json:"status" yaml:"status"`
	TaskCount    int             `json:"task_count" yaml:"task_count"`
	TotalHours   decimal.Decimal `json:"total_hours" yaml:"total_hours"`
	InvoiceTotal decimal.Decimal `json:"invoice_total" yaml:"invoice_total"`
	InvoicePaid  decimal.Decimal `json:"invoice_paid" yaml:"invoice_paid"`
	LastWorkDate *time.Time      `json:"last_work_date,omitempty" yaml:"last_work_date,omitempty"`
}

// AccountSummary rolls project summaries up to an account.
type AccountSummary struct {
	AccountID        int64                        `json:"account_id" yaml:"account_id"`
	Name             string                       `json:"name" yaml:"name"`
	Users            int                          `json:"users" yaml:"users"`
	ActiveUsers      int                          `json:"active_users" yaml:"active_users"`
	ProjectsByStatus map[domain.ProjectStatus]int `json:"projects_by_status" yaml:"projects_by_status"`
	TotalHours       decimal.Decimal              `json:"total_hours" yaml:"total_hours"`
	InvoiceTotal     decimal.Decimal              `json:"invoice_total" yaml:"invoice_total"`
	InvoicePaid      decimal.Decimal              `json:"invoice_paid" yaml:"invoice_paid"`
	Outstanding      decimal.Decimal              `json:"outstanding" yaml:"outstanding"`
}

// SummaryService computes read-only reports by scanning a view without
// taking locks. Results are a snapshot at call time and may miss
// transactions committing concurrently.
type SummaryService struct {
	view View
}

// NewSummaryService returns a summary service over view.
func NewSummaryService(view View) *SummaryService {
	return &SummaryService{view: view}
}

// Project summarizes one project.
func (s *SummaryService) Project(id int64) (ProjectSummary, error) {
	project, ok := viewGet[domain.Project](s.view, domain.EntityProject, id)
	if !ok {
		return ProjectSummary{}, domain.NotFoundError{Entity: domain.EntityProject, ID: id}
	}
	out := ProjectSummary{ProjectID: id, Name: project.Name, Status: string(project.Status)}

	tasks := make(map[int64]struct{})
	s.view.Scan(domain.EntityTask, func(e domain.Entity) bool {
		if t := e.(domain.Task); t.ProjectID == id {
			tasks[t.ID] = struct{}{}
		}
		return true
	})
	out.TaskCount = len(tasks)

	s.view.Scan(domain.EntityTimeEntry, func(e domain.Entity) bool {
		entry := e.(domain.TimeEntry)
		if _, ok := tasks[entry.TaskID]; !ok {
			return true
		}
		out.TotalHours = out.TotalHours.Add(entry.Hours)
		if out.LastWorkDate == nil || entry.WorkDate.After(*out.LastWorkDate) {
			d := entry.WorkDate
			out.LastWorkDate = &d
		}
		return true
	})

	s.view.Scan(domain.EntityInvoice, func(e domain.Entity) bool {
		inv := e.(domain.Invoice)
		if inv.ProjectID == nil || *inv.ProjectID != id {
			return true
		}
		out.InvoiceTotal = out.InvoiceTotal.Add(inv.Amount)
		if inv.Status == domain.InvoicePaid {
			out.InvoicePaid = out.InvoicePaid.Add(inv.Amount)
		}
		return true
	})
	return out, nil
}

// Account summarizes one account across its users, projects and invoices.
func (s *SummaryService) Account(id int64) (AccountSummary, error) {
	account, ok := viewGet[domain.Account](s.view, domain.EntityAccount, id)
	if !ok {
		return AccountSummary{}, domain.NotFoundError{Entity: domain.EntityAccount, ID: id}
	}
	out := AccountSummary{AccountID: id, Name: account.Name, ProjectsByStatus: make(map[domain.ProjectStatus]int)}

	s.view.Scan(domain.EntityUser, func(e domain.Entity) bool {
		if u := e.(domain.User); u.AccountID == id {
			out.Users++
			if u.Active {
				out.ActiveUsers++
			}
		}
		return true
	})

	projects := make(map[int64]struct{})
	s.view.Scan(domain.EntityProject, func(e domain.Entity) bool {
		if p := e.(domain.Project); p.AccountID == id {
			projects[p.ID] = struct{}{}
			out.ProjectsByStatus[p.Status]++
		}
		return true
	})
	tasks := make(map[int64]struct{})
	s.view.Scan(domain.EntityTask, func(e domain.Entity) bool {
		if t := e.(domain.Task); hasKey(projects, t.ProjectID) {
			tasks[t.ID] = struct{}{}
		}
		return true
	})
	s.view.Scan(domain.EntityTimeEntry, func(e domain.Entity) bool {
		if entry := e.(domain.TimeEntry); hasKey(tasks, entry.TaskID) {
			out.TotalHours = out.TotalHours.Add(entry.Hours)
		}
		return true
	})
	s.view.Scan(domain.EntityInvoice, func(e domain.Entity) bool {
		inv := e.(domain.Invoice)
		if inv.AccountID != id {
			return true
		}
		out.InvoiceTotal = out.InvoiceTotal.Add(inv.Amount)
		if inv.Status == domain.InvoicePaid {
			out.InvoicePaid = out.InvoicePaid.Add(inv.Amount)
		}
		return true
	})
	out.Outstanding = out.InvoiceTotal.Sub(out.InvoicePaid)
	return out, nil
}

func hasKey(set map[int64]struct{}, id int64) bool {
	_, ok := set[id]
	return ok
}

// Summaries returns a summary service over the committed store.
func (s *Service) Summaries() *SummaryService {
	return NewSummaryService(s.coord.store)
}

// ProjectSummary summarizes one project from committed state.
func (s *Service) ProjectSummary(id int64) (ProjectSummary, error) {
	return s.Summaries().Project(id)
}

// AccountSummary summarizes one account from committed state.
func (s *Service) AccountSummary(id int64) (AccountSummary, error) {
	return s.Summaries().Account(id)
}
