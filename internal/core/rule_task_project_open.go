package core

import (
	"context"
	"fmt"

	"taskledger/pkg/domain"
)

// NewTaskProjectOpenRule rejects placing an unfinished task under a completed
// project, which would leave the project completed with open work.
func NewTaskProjectOpenRule() Rule {
	return RuleFunc{RuleName: "task_project_open", Fn: func(_ context.Context, view View, change domain.Change) (domain.Result, error) {
		t, ok := change.After.(domain.Task)
		if !ok || t.Status == domain.TaskDone {
			return domain.Result{}, nil
		}
		if before, ok := change.Before.(domain.Task); ok && before.ProjectID == t.ProjectID {
			return domain.Result{}, nil
		}
		project, ok := viewGet[domain.Project](view, domain.EntityProject, t.ProjectID)
		if !ok || project.Status != domain.ProjectCompleted {
			return domain.Result{}, nil
		}
		return domain.Block("task_project_open", t.Ref(), fmt.Sprintf("project %d is completed", t.ProjectID)), nil
	}}
}
