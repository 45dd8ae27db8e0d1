package core

import (
	"context"
	"fmt"

	"taskledger/pkg/domain"
)

// NewReferenceIntegrityRule rejects writes that point at missing owners or
// cross account boundaries.
func NewReferenceIntegrityRule() Rule {
	return referenceIntegrityRule{}
}

type referenceIntegrityRule struct{}

func (referenceIntegrityRule) Name() string { return "reference_integrity" }

func (r referenceIntegrityRule) Evaluate(_ context.Context, view View, change domain.Change) (domain.Result, error) {
	ref := change.Ref()
	switch v := change.After.(type) {
	case domain.User:
		if _, ok := view.Get(domain.EntityAccount, v.AccountID); !ok {
			return r.missing(ref, domain.EntityAccount, v.AccountID), nil
		}
	case domain.Project:
		if _, ok := view.Get(domain.EntityAccount, v.AccountID); !ok {
			return r.missing(ref, domain.EntityAccount, v.AccountID), nil
		}
	case domain.Task:
		project, ok := viewGet[domain.Project](view, domain.EntityProject, v.ProjectID)
		if !ok {
			return r.missing(ref, domain.EntityProject, v.ProjectID), nil
		}
		if v.AssigneeID != nil {
			user, ok := viewGet[domain.User](view, domain.EntityUser, *v.AssigneeID)
			if !ok {
				return r.missing(ref, domain.EntityUser, *v.AssigneeID), nil
			}
			if user.AccountID != project.AccountID {
				return domain.Block(r.Name(), ref, fmt.Sprintf("assignee %d belongs to account %d, project %d to account %d", user.ID, user.AccountID, project.ID, project.AccountID)), nil
			}
		}
	case domain.TimeEntry:
		task, ok := viewGet[domain.Task](view, domain.EntityTask, v.TaskID)
		if !ok {
			return r.missing(ref, domain.EntityTask, v.TaskID), nil
		}
		user, ok := viewGet[domain.User](view, domain.EntityUser, v.UserID)
		if !ok {
			return r.missing(ref, domain.EntityUser, v.UserID), nil
		}
		project, ok := viewGet[domain.Project](view, domain.EntityProject, task.ProjectID)
		if !ok {
			return r.missing(ref, domain.EntityProject, task.ProjectID), nil
		}
		if user.AccountID != project.AccountID {
			return domain.Block(r.Name(), ref, fmt.Sprintf("user %d cannot log time on project %d of another account", user.ID, project.ID)), nil
		}
	case domain.Invoice:
		if _, ok := view.Get(domain.EntityAccount, v.AccountID); !ok {
			return r.missing(ref, domain.EntityAccount, v.AccountID), nil
		}
		if v.ProjectID != nil {
			project, ok := viewGet[domain.Project](view, domain.EntityProject, *v.ProjectID)
			if !ok {
				return r.missing(ref, domain.EntityProject, *v.ProjectID), nil
			}
			if project.AccountID != v.AccountID {
				return domain.Block(r.Name(), ref, fmt.Sprintf("project %d does not belong to account %d", project.ID, v.AccountID)), nil
			}
		}
	}
	return domain.Result{}, nil
}

func (r referenceIntegrityRule) missing(ref domain.Ref, entity domain.EntityType, id int64) domain.Result {
	return domain.Block(r.Name(), ref, fmt.Sprintf("references missing %s %d", entity, id))
}
