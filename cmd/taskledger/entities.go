package main

import (
	"context"
	"errors"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"taskledger/pkg/domain"
)

var taskHeader = table.Row{"ID", "Project", "Title", "Status", "Priority", "Assignee", "Due"}

func taskRow(t domain.Task) table.Row {
	return table.Row{t.ID, t.ProjectID, t.Title, t.Status, t.Priority, fmtOptID(t.AssigneeID), fmtDate(t.DueDate)}
}

func newTaskCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Create, transition, assign and log time on tasks"}

	var (
		projectID int64
		title     string
		priority  int
		estimate  string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a task in a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task := domain.Task{ProjectID: projectID, Title: title, Priority: priority}
			if estimate != "" {
				h, err := decimal.NewFromString(estimate)
				if err != nil {
					return err
				}
				task.EstimatedHours = &h
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				created, err := a.svc.CreateTask(ctx, a.actor(), task)
				if err != nil {
					return err
				}
				return a.render(created, taskHeader, []table.Row{taskRow(created)})
			})
		},
	}
	create.Flags().Int64Var(&projectID, "project", 0, "owning project id")
	create.Flags().StringVar(&title, "title", "", "task title, unique within the project")
	create.Flags().IntVar(&priority, "priority", 3, "priority")
	create.Flags().StringVar(&estimate, "estimate", "", "estimated hours")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("title")

	status := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a task to todo, in_progress, blocked or done",
		Long: `Move a task to a new status. Moving the last open task of a project to done
completes the project; reopening a task leaves a completed project as is.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				updated, err := a.svc.SetTaskStatus(ctx, a.actor(), id, domain.TaskStatus(args[1]))
				if err != nil {
					return err
				}
				return a.render(updated, taskHeader, []table.Row{taskRow(updated)})
			})
		},
	}

	var (
		userID        int64
		clearAssignee bool
	)
	assign := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a task to a user or clear its assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if clearAssignee == (userID != 0) {
				return errors.New("exactly one of --user or --clear is required")
			}
			var assignee *int64
			if !clearAssignee {
				assignee = &userID
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				updated, err := a.svc.AssignTask(ctx, a.actor(), id, assignee)
				if err != nil {
					return err
				}
				return a.render(updated, taskHeader, []table.Row{taskRow(updated)})
			})
		},
	}
	assign.Flags().Int64Var(&userID, "user", 0, "assignee user id")
	assign.Flags().BoolVar(&clearAssignee, "clear", false, "remove the assignee")

	var (
		logUser int64
		logDate string
		hours   string
		note    string
	)
	logTime := &cobra.Command{
		Use:   "log <task-id>",
		Short: "Book hours against a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			entry := domain.TimeEntry{TaskID: id, UserID: logUser, Note: note}
			if entry.WorkDate, err = parseDay(logDate); err != nil {
				return err
			}
			if entry.Hours, err = decimal.NewFromString(hours); err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				created, err := a.svc.LogTime(ctx, a.actor(), entry)
				if err != nil {
					return err
				}
				return a.render(created, table.Row{"ID", "Task", "User", "Date", "Hours"}, []table.Row{{
					created.ID, created.TaskID, created.UserID, created.WorkDate.Format(time.DateOnly), created.Hours.String(),
				}})
			})
		},
	}
	logTime.Flags().Int64Var(&logUser, "user", 0, "user id")
	logTime.Flags().StringVar(&logDate, "date", "", "work date (YYYY-MM-DD)")
	logTime.Flags().StringVar(&hours, "hours", "", "hours spent")
	logTime.Flags().StringVar(&note, "note", "", "optional note")
	_ = logTime.MarkFlagRequired("user")
	_ = logTime.MarkFlagRequired("date")
	_ = logTime.MarkFlagRequired("hours")

	cmd.AddCommand(create, status, assign, logTime)
	return cmd
}

func newInvoiceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "invoice", Short: "Invoice billing transitions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an invoice to draft, sent, paid or overdue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				inv, err := a.svc.SetInvoiceStatus(ctx, a.actor(), id, domain.InvoiceStatus(args[1]))
				if err != nil {
					return err
				}
				return a.render(inv, table.Row{"ID", "Account", "Project", "Issued", "Due", "Amount", "Status"}, []table.Row{{
					inv.ID, inv.AccountID, fmtOptID(inv.ProjectID), fmtDate(&inv.IssueDate), fmtDate(&inv.DueDate), fmtMoney(inv.Amount), inv.Status,
				}})
			})
		},
	})
	return cmd
}

func newProjectCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Project lifecycle transitions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a project to planned, active, on_hold or completed",
		Long: `Move a project to a new status. Completed is accepted only when the project
has at least one task and every task is done.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.svc.SetProjectStatus(ctx, a.actor(), id, domain.ProjectStatus(args[1]))
				if err != nil {
					return err
				}
				return a.render(p, table.Row{"ID", "Account", "Name", "Status", "Budget"}, []table.Row{{
					p.ID, p.AccountID, p.Name, p.Status, fmtMoney(p.Budget),
				}})
			})
		},
	})
	return cmd
}
