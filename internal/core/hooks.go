package core

import (
	"context"

	"taskledger/pkg/domain"
)

// HookContext is handed to after-commit hooks. It exposes the committed
// state, the audit log and a way to schedule follow-up transactions.
type HookContext struct {
	txID      string
	actor     string
	coord     *Coordinator
	followUps []followUp
}

// TxID returns the committed transaction's id.
func (hc *HookContext) TxID() string { return hc.txID }

// Actor returns the identity that issued the committed transaction.
func (hc *HookContext) Actor() string { return hc.actor }

// View returns the committed store.
func (hc *HookContext) View() View { return hc.coord.store }

// Audit appends a record attributed to the committed transaction.
func (hc *HookContext) Audit(ctx context.Context, record domain.AuditRecord) error {
	if record.Actor == "" {
		record.Actor = hc.actor
	}
	record.TxID = hc.txID
	_, err := hc.coord.audit.Append(ctx, record)
	return err
}

// Spawn schedules fn as a new transaction. It runs once the committing
// transaction has released its locks, with its own hooks.
func (hc *HookContext) Spawn(name string, fn TxFunc) {
	hc.followUps = append(hc.followUps, followUp{name: name, fn: fn})
}

type hookRegistration struct {
	entities []domain.EntityType
	hook     Hook
}

func defaultHooks() []hookRegistration {
	return []hookRegistration{
		{entities: []domain.EntityType{domain.EntityTask}, hook: NewProjectAutoCompleteHook()},
		{entities: []domain.EntityType{domain.EntityTask, domain.EntityInvoice, domain.EntityProject}, hook: NewStatusAuditHook()},
	}
}

// NewStatusAuditHook appends an AuditRecord whenever an update changes the
// status of a task, invoice or project.
func NewStatusAuditHook() Hook {
	return HookFunc{HookName: "status_audit", Fn: func(ctx context.Context, hc *HookContext, change domain.Change) error {
		if change.Action != domain.ActionUpdate {
			return nil
		}
		oldStatus, newStatus, changed := change.StatusTransition()
		if !changed {
			return nil
		}
		return hc.Audit(ctx, domain.AuditRecord{
			Entity:    change.Entity,
			EntityID:  change.ID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
		})
	}}
}

// NewProjectAutoCompleteHook completes a project once a task moves to done
// and every task of that project is done. Reopened tasks never reopen a
// completed project.
func NewProjectAutoCompleteHook() Hook {
	return HookFunc{HookName: "project_autocomplete", Fn: func(_ context.Context, hc *HookContext, change domain.Change) error {
		task, ok := change.After.(domain.Task)
		if !ok || task.Status != domain.TaskDone {
			return nil
		}
		if before, ok := change.Before.(domain.Task); ok && before.Status == domain.TaskDone {
			return nil
		}
		projectID := task.ProjectID
		hc.Spawn("project_autocomplete", func(ctx context.Context, tx *Tx) error {
			return completeProjectIfDone(ctx, tx, projectID)
		})
		return nil
	}}
}

func completeProjectIfDone(ctx context.Context, tx *Tx, projectID int64) error {
	project, err := tx.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Status == domain.ProjectCompleted {
		return nil
	}
	if !allTasksDone(tx.View(), projectID) {
		return nil
	}
	project.Status = domain.ProjectCompleted
	return tx.Stage(ctx, project)
}

// allTasksDone reports whether the project has at least one task and every
// task is done.
func allTasksDone(view View, projectID int64) bool {
	count := 0
	done := true
	view.Scan(domain.EntityTask, func(e domain.Entity) bool {
		t := e.(domain.Task)
		if t.ProjectID != projectID {
			return true
		}
		count++
		if t.Status != domain.TaskDone {
			done = false
			return false
		}
		return true
	})
	return count > 0 && done
}
