package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskledger/pkg/domain"
)

func newSummaryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Effort and billing rollups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "project <id>",
		Short: "Summarize tasks, hours and invoices of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(_ context.Context, a *app) error {
				s, err := a.svc.ProjectSummary(id)
				if err != nil {
					return err
				}
				return a.render(s, table.Row{"Project", "Name", "Status", "Tasks", "Hours", "Invoiced", "Paid", "Last work"}, []table.Row{{
					s.ProjectID, s.Name, s.Status, s.TaskCount, s.TotalHours.String(),
					fmtMoney(s.InvoiceTotal), fmtMoney(s.InvoicePaid), fmtDate(s.LastWorkDate),
				}})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "account <id>",
		Short: "Roll projects, hours and invoices up to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(_ context.Context, a *app) error {
				s, err := a.svc.AccountSummary(id)
				if err != nil {
					return err
				}
				return a.render(s, table.Row{"Account", "Name", "Users", "Active", "Projects", "Hours", "Invoiced", "Paid", "Outstanding"}, []table.Row{{
					s.AccountID, s.Name, s.Users, s.ActiveUsers, projectsByStatus(s.ProjectsByStatus), s.TotalHours.String(),
					fmtMoney(s.InvoiceTotal), fmtMoney(s.InvoicePaid), fmtMoney(s.Outstanding),
				}})
			})
		},
	})
	return cmd
}

func projectsByStatus(m map[domain.ProjectStatus]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, m[domain.ProjectStatus(k)])
	}
	return out
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
