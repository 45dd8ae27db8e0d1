package core

import (
	"context"
	"fmt"

	"taskledger/pkg/domain"
)

// NewProjectCompletionRule keeps completed a derived status: a project may
// only move to completed when it has tasks and all of them are done.
func NewProjectCompletionRule() Rule {
	return RuleFunc{RuleName: "project_completion_derived", Fn: func(_ context.Context, view View, change domain.Change) (domain.Result, error) {
		project, ok := change.After.(domain.Project)
		if !ok || project.Status != domain.ProjectCompleted {
			return domain.Result{}, nil
		}
		if before, ok := change.Before.(domain.Project); ok && before.Status == domain.ProjectCompleted {
			return domain.Result{}, nil
		}
		if !allTasksDone(view, project.ID) {
			return domain.Block("project_completion_derived", project.Ref(), fmt.Sprintf("project %d has open tasks or no tasks", project.ID)), nil
		}
		return domain.Result{}, nil
	}}
}
