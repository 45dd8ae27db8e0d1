package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"taskledger/pkg/domain"
)

// MaxHoursPerEntry is the compliance limit for a single time entry.
var MaxHoursPerEntry = decimal.NewFromInt(12)

// NewTimeEntryHoursRule rejects time entries outside (0, MaxHoursPerEntry].
func NewTimeEntryHoursRule() Rule {
	return timeEntryHoursRule{}
}

type timeEntryHoursRule struct{}

func (timeEntryHoursRule) Name() string { return "time_entry_daily_max" }

func (r timeEntryHoursRule) Evaluate(_ context.Context, _ View, change domain.Change) (domain.Result, error) {
	entry, ok := change.After.(domain.TimeEntry)
	if !ok {
		return domain.Result{}, nil
	}
	if !entry.Hours.IsPositive() {
		return domain.Block(r.Name(), entry.Ref(), fmt.Sprintf("hours_spent must be positive, got %s", entry.Hours)), nil
	}
	if entry.Hours.GreaterThan(MaxHoursPerEntry) {
		return domain.Block(r.Name(), entry.Ref(), fmt.Sprintf("hours_spent %s exceeds daily maximum of %s", entry.Hours, MaxHoursPerEntry)), nil
	}
	return domain.Result{}, nil
}
