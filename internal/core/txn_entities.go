package core

import (
	"context"
	"fmt"

	"taskledger/pkg/domain"
)

func getAs[T domain.Entity](ctx context.Context, tx *Tx, entity domain.EntityType, id int64) (T, error) {
	var zero T
	e, err := tx.Get(ctx, domain.Ref{Entity: entity, ID: id})
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%s %d: unexpected type %T", entity, id, e)
	}
	return v, nil
}

func createAs[T domain.Entity](ctx context.Context, tx *Tx, e T) (T, error) {
	var zero T
	created, err := tx.Create(ctx, e)
	if err != nil {
		return zero, err
	}
	return created.(T), nil
}

// updateAs locks the entity, applies mutator to a copy and stages the
// result. The identifier cannot be changed by the mutator.
func updateAs[T domain.Entity](ctx context.Context, tx *Tx, entity domain.EntityType, id int64, mutator func(*T) error) (T, error) {
	var zero T
	current, err := getAs[T](ctx, tx, entity, id)
	if err != nil {
		return zero, err
	}
	if mutator != nil {
		if err := mutator(&current); err != nil {
			return zero, err
		}
	}
	updated := domain.WithID(current, id).(T)
	if err := tx.Stage(ctx, updated); err != nil {
		return zero, err
	}
	return updated, nil
}

// GetAccount locks and returns an account.
func (tx *Tx) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	return getAs[domain.Account](ctx, tx, domain.EntityAccount, id)
}

// GetUser locks and returns a user.
func (tx *Tx) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return getAs[domain.User](ctx, tx, domain.EntityUser, id)
}

// GetProject locks and returns a project.
func (tx *Tx) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return getAs[domain.Project](ctx, tx, domain.EntityProject, id)
}

// GetTask locks and returns a task.
func (tx *Tx) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return getAs[domain.Task](ctx, tx, domain.EntityTask, id)
}

// GetTimeEntry locks and returns a time entry.
func (tx *Tx) GetTimeEntry(ctx context.Context, id int64) (domain.TimeEntry, error) {
	return getAs[domain.TimeEntry](ctx, tx, domain.EntityTimeEntry, id)
}

// GetInvoice locks and returns an invoice.
func (tx *Tx) GetInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	return getAs[domain.Invoice](ctx, tx, domain.EntityInvoice, id)
}

func (tx *Tx) CreateAccount(ctx context.Context, a domain.Account) (domain.Account, error) {
	return createAs(ctx, tx, a)
}

func (tx *Tx) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	return createAs(ctx, tx, u)
}

func (tx *Tx) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	return createAs(ctx, tx, p)
}

// CreateTask locks the owning project first so the new task serializes with
// the project's auto-completion.
func (tx *Tx) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := tx.Lock(ctx, domain.Ref{Entity: domain.EntityProject, ID: t.ProjectID}); err != nil {
		return domain.Task{}, err
	}
	return createAs(ctx, tx, t)
}

func (tx *Tx) CreateTimeEntry(ctx context.Context, e domain.TimeEntry) (domain.TimeEntry, error) {
	return createAs(ctx, tx, e)
}

func (tx *Tx) CreateInvoice(ctx context.Context, i domain.Invoice) (domain.Invoice, error) {
	return createAs(ctx, tx, i)
}

// UpdateUser mutates a user under its lock.
func (tx *Tx) UpdateUser(ctx context.Context, id int64, mutator func(*domain.User) error) (domain.User, error) {
	return updateAs(ctx, tx, domain.EntityUser, id, mutator)
}

// UpdateProject mutates a project under its lock.
func (tx *Tx) UpdateProject(ctx context.Context, id int64, mutator func(*domain.Project) error) (domain.Project, error) {
	return updateAs(ctx, tx, domain.EntityProject, id, mutator)
}

// UpdateTask mutates a task under its lock.
func (tx *Tx) UpdateTask(ctx context.Context, id int64, mutator func(*domain.Task) error) (domain.Task, error) {
	return updateAs(ctx, tx, domain.EntityTask, id, mutator)
}

// UpdateTimeEntry mutates a time entry under its lock.
func (tx *Tx) UpdateTimeEntry(ctx context.Context, id int64, mutator func(*domain.TimeEntry) error) (domain.TimeEntry, error) {
	return updateAs(ctx, tx, domain.EntityTimeEntry, id, mutator)
}

// UpdateInvoice mutates an invoice under its lock.
func (tx *Tx) UpdateInvoice(ctx context.Context, id int64, mutator func(*domain.Invoice) error) (domain.Invoice, error) {
	return updateAs(ctx, tx, domain.EntityInvoice, id, mutator)
}
