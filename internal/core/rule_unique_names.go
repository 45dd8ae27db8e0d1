package core

import (
	"context"
	"fmt"
	"strings"

	"taskledger/pkg/domain"
)

// NewUniqueProjectNameRule rejects a second project with the same name in an
// account.
func NewUniqueProjectNameRule() Rule {
	return RuleFunc{RuleName: "unique_project_name", Fn: func(_ context.Context, view View, change domain.Change) (domain.Result, error) {
		p, ok := change.After.(domain.Project)
		if !ok {
			return domain.Result{}, nil
		}
		var clash bool
		view.Scan(domain.EntityProject, func(e domain.Entity) bool {
			other := e.(domain.Project)
			clash = other.ID != p.ID && other.AccountID == p.AccountID && other.Name == p.Name
			return !clash
		})
		if clash {
			return domain.Block("unique_project_name", p.Ref(), fmt.Sprintf("project %q already exists in account %d", p.Name, p.AccountID)), nil
		}
		return domain.Result{}, nil
	}}
}

// NewUniqueTaskTitleRule rejects a second task with the same title in a
// project.
func NewUniqueTaskTitleRule() Rule {
	return RuleFunc{RuleName: "unique_task_title", Fn: func(_ context.Context, view View, change domain.Change) (domain.Result, error) {
		t, ok := change.After.(domain.Task)
		if !ok {
			return domain.Result{}, nil
		}
		var clash bool
		view.Scan(domain.EntityTask, func(e domain.Entity) bool {
			other := e.(domain.Task)
			clash = other.ID != t.ID && other.ProjectID == t.ProjectID && other.Title == t.Title
			return !clash
		})
		if clash {
			return domain.Block("unique_task_title", t.Ref(), fmt.Sprintf("task %q already exists in project %d", t.Title, t.ProjectID)), nil
		}
		return domain.Result{}, nil
	}}
}

// NewUniqueUserEmailRule rejects an email already used by another user.
// Comparison is case-insensitive.
func NewUniqueUserEmailRule() Rule {
	return RuleFunc{RuleName: "unique_user_email", Fn: func(_ context.Context, view View, change domain.Change) (domain.Result, error) {
		u, ok := change.After.(domain.User)
		if !ok {
			return domain.Result{}, nil
		}
		var clash bool
		view.Scan(domain.EntityUser, func(e domain.Entity) bool {
			other := e.(domain.User)
			clash = other.ID != u.ID && strings.EqualFold(other.Email, u.Email)
			return !clash
		})
		if clash {
			return domain.Block("unique_user_email", u.Ref(), fmt.Sprintf("email %q already registered", u.Email)), nil
		}
		return domain.Result{}, nil
	}}
}
