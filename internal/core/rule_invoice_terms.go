package core

import (
	"context"
	"fmt"
	"time"

	"taskledger/pkg/domain"
)

// NewInvoiceTermsRule rejects invoices due before they are issued or with a
// negative amount.
func NewInvoiceTermsRule() Rule {
	return invoiceTermsRule{}
}

type invoiceTermsRule struct{}

func (invoiceTermsRule) Name() string { return "invoice_terms" }

func (r invoiceTermsRule) Evaluate(_ context.Context, _ View, change domain.Change) (domain.Result, error) {
	inv, ok := change.After.(domain.Invoice)
	if !ok {
		return domain.Result{}, nil
	}
	if inv.DueDate.Before(inv.IssueDate) {
		return domain.Block(r.Name(), inv.Ref(), fmt.Sprintf("due_date %s precedes issue_date %s", inv.DueDate.Format(time.DateOnly), inv.IssueDate.Format(time.DateOnly))), nil
	}
	if inv.Amount.IsNegative() {
		return domain.Block(r.Name(), inv.Ref(), fmt.Sprintf("amount %s is negative", inv.Amount)), nil
	}
	return domain.Result{}, nil
}
