package core

import (
	"context"
	"fmt"
	"strings"

	"taskledger/pkg/domain"
)

// NewFieldValuesRule checks required fields, enum membership and numeric
// ranges that do not depend on other entities.
func NewFieldValuesRule() Rule {
	return fieldValuesRule{}
}

type fieldValuesRule struct{}

func (fieldValuesRule) Name() string { return "field_values" }

func (r fieldValuesRule) Evaluate(_ context.Context, _ View, change domain.Change) (domain.Result, error) {
	if msg := r.check(change.After); msg != "" {
		return domain.Block(r.Name(), change.Ref(), msg), nil
	}
	return domain.Result{}, nil
}

func (fieldValuesRule) check(e domain.Entity) string {
	switch v := e.(type) {
	case domain.Account:
		if strings.TrimSpace(v.Name) == "" {
			return "account name is required"
		}
	case domain.User:
		if strings.TrimSpace(v.FullName) == "" {
			return "full_name is required"
		}
		if !strings.Contains(v.Email, "@") {
			return fmt.Sprintf("email %q is not an address", v.Email)
		}
		if !v.Role.Valid() {
			return fmt.Sprintf("unknown role %q", v.Role)
		}
	case domain.Project:
		if strings.TrimSpace(v.Name) == "" {
			return "project name is required"
		}
		if !v.Status.Valid() {
			return fmt.Sprintf("unknown project status %q", v.Status)
		}
		if v.Budget.IsNegative() {
			return fmt.Sprintf("budget %s is negative", v.Budget)
		}
		if v.StartDate != nil && v.EndDate != nil && v.EndDate.Before(*v.StartDate) {
			return "end_date precedes start_date"
		}
	case domain.Task:
		if strings.TrimSpace(v.Title) == "" {
			return "task title is required"
		}
		if !v.Status.Valid() {
			return fmt.Sprintf("unknown task status %q", v.Status)
		}
		if v.EstimatedHours != nil && !v.EstimatedHours.IsPositive() {
			return fmt.Sprintf("estimated_hours %s must be positive", v.EstimatedHours)
		}
	case domain.Invoice:
		if !v.Status.Valid() {
			return fmt.Sprintf("unknown invoice status %q", v.Status)
		}
	}
	return ""
}
