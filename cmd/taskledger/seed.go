package main

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"taskledger/pkg/domain"
)

//go:embed seed_demo.yaml
var demoSeed []byte

// seedDoc is the YAML layout accepted by `taskledger seed`. Users, projects
// and invoices nest under their account; tasks under their project. Users
// are referenced by email, projects by name within the account.
type seedDoc struct {
	Accounts []seedAccount `yaml:"accounts"`
}

type seedAccount struct {
	Name     string        `yaml:"name"`
	Industry string        `yaml:"industry"`
	Users    []seedUser    `yaml:"users"`
	Projects []seedProject `yaml:"projects"`
	Invoices []seedInvoice `yaml:"invoices"`
}

type seedUser struct {
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Inactive bool   `yaml:"inactive"`
}

type seedProject struct {
	Name      string     `yaml:"name"`
	Status    string     `yaml:"status"`
	Budget    string     `yaml:"budget"`
	StartDate string     `yaml:"start_date"`
	EndDate   string     `yaml:"end_date"`
	Tasks     []seedTask `yaml:"tasks"`
}

type seedTask struct {
	Title          string          `yaml:"title"`
	Status         string          `yaml:"status"`
	Priority       int             `yaml:"priority"`
	Assignee       string          `yaml:"assignee"`
	EstimatedHours string          `yaml:"estimated_hours"`
	DueDate        string          `yaml:"due_date"`
	TimeEntries    []seedTimeEntry `yaml:"time_entries"`
}

type seedTimeEntry struct {
	User     string `yaml:"user"`
	WorkDate string `yaml:"work_date"`
	Hours    string `yaml:"hours"`
	Note     string `yaml:"note"`
}

type seedInvoice struct {
	Project   string `yaml:"project"`
	IssueDate string `yaml:"issue_date"`
	DueDate   string `yaml:"due_date"`
	Amount    string `yaml:"amount"`
	Status    string `yaml:"status"`
}

// seedCounts reports how many entities of each type a seed created.
type seedCounts struct {
	Accounts    int `json:"accounts" yaml:"accounts"`
	Users       int `json:"users" yaml:"users"`
	Projects    int `json:"projects" yaml:"projects"`
	Tasks       int `json:"tasks" yaml:"tasks"`
	TimeEntries int `json:"time_entries" yaml:"time_entries"`
	Invoices    int `json:"invoices" yaml:"invoices"`
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load accounts, projects, tasks, time entries and invoices from YAML",
		Long: `Load a dataset through the transactional service. Each entity is created in
its own transaction, so every rule applies exactly as it would to a live
caller. Without --file a small demo dataset is loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := demoSeed
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read seed file: %w", err)
				}
				raw = data
			}
			doc, err := parseSeed(raw)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				counts, err := applySeed(ctx, a, doc)
				if err != nil {
					return err
				}
				a.logger.Info("seed loaded", "accounts", counts.Accounts, "tasks", counts.Tasks)
				return a.render(counts, table.Row{"Entity", "Created"}, []table.Row{
					{domain.EntityAccount, counts.Accounts},
					{domain.EntityUser, counts.Users},
					{domain.EntityProject, counts.Projects},
					{domain.EntityTask, counts.Tasks},
					{domain.EntityTimeEntry, counts.TimeEntries},
					{domain.EntityInvoice, counts.Invoices},
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file")
	return cmd
}

func parseSeed(raw []byte) (seedDoc, error) {
	var doc seedDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return seedDoc{}, fmt.Errorf("parse seed: %w", err)
	}
	if len(doc.Accounts) == 0 {
		return seedDoc{}, fmt.Errorf("parse seed: no accounts")
	}
	return doc, nil
}

func applySeed(ctx context.Context, a *app, doc seedDoc) (seedCounts, error) {
	var counts seedCounts
	actor := a.actor()
	for _, sa := range doc.Accounts {
		account, err := a.svc.CreateAccount(ctx, actor, domain.Account{Name: sa.Name, Industry: sa.Industry})
		if err != nil {
			return counts, fmt.Errorf("account %q: %w", sa.Name, err)
		}
		counts.Accounts++

		users := make(map[string]int64, len(sa.Users))
		for _, su := range sa.Users {
			user, err := a.svc.CreateUser(ctx, actor, domain.User{
				AccountID: account.ID,
				FullName:  su.FullName,
				Email:     su.Email,
				Role:      domain.UserRole(su.Role),
				Active:    !su.Inactive,
			})
			if err != nil {
				return counts, fmt.Errorf("user %q: %w", su.Email, err)
			}
			users[su.Email] = user.ID
			counts.Users++
		}

		projects := make(map[string]int64, len(sa.Projects))
		for _, sp := range sa.Projects {
			pid, n, err := seedProjectTree(ctx, a, account.ID, users, sp)
			counts.Tasks += n.Tasks
			counts.TimeEntries += n.TimeEntries
			if err != nil {
				return counts, fmt.Errorf("project %q: %w", sp.Name, err)
			}
			projects[sp.Name] = pid
			counts.Projects++
		}

		for i, si := range sa.Invoices {
			inv := domain.Invoice{AccountID: account.ID, Status: domain.InvoiceStatus(si.Status)}
			if si.Project != "" {
				pid, ok := projects[si.Project]
				if !ok {
					return counts, fmt.Errorf("invoice %d: unknown project %q", i, si.Project)
				}
				inv.ProjectID = &pid
			}
			if inv.IssueDate, err = parseDay(si.IssueDate); err != nil {
				return counts, fmt.Errorf("invoice %d issue_date: %w", i, err)
			}
			if inv.DueDate, err = parseDay(si.DueDate); err != nil {
				return counts, fmt.Errorf("invoice %d due_date: %w", i, err)
			}
			if inv.Amount, err = decimal.NewFromString(si.Amount); err != nil {
				return counts, fmt.Errorf("invoice %d amount: %w", i, err)
			}
			if _, err := a.svc.CreateInvoice(ctx, actor, inv); err != nil {
				return counts, fmt.Errorf("invoice %d: %w", i, err)
			}
			counts.Invoices++
		}
	}
	return counts, nil
}

// seedProjectTree creates a project with its tasks and their time entries.
// Task statuses are applied in a second pass, once every task of the
// project exists, so auto-completion sees the whole project.
func seedProjectTree(ctx context.Context, a *app, accountID int64, users map[string]int64, sp seedProject) (int64, seedCounts, error) {
	var counts seedCounts
	actor := a.actor()
	project := domain.Project{AccountID: accountID, Name: sp.Name, Status: domain.ProjectStatus(sp.Status)}
	var err error
	if sp.Budget != "" {
		if project.Budget, err = decimal.NewFromString(sp.Budget); err != nil {
			return 0, counts, fmt.Errorf("budget: %w", err)
		}
	}
	if project.StartDate, err = parseOptDay(sp.StartDate); err != nil {
		return 0, counts, fmt.Errorf("start_date: %w", err)
	}
	if project.EndDate, err = parseOptDay(sp.EndDate); err != nil {
		return 0, counts, fmt.Errorf("end_date: %w", err)
	}
	created, err := a.svc.CreateProject(ctx, actor, project)
	if err != nil {
		return 0, counts, err
	}

	taskIDs := make([]int64, len(sp.Tasks))
	for i, st := range sp.Tasks {
		task := domain.Task{ProjectID: created.ID, Title: st.Title, Priority: st.Priority}
		if st.Assignee != "" {
			uid, ok := users[st.Assignee]
			if !ok {
				return created.ID, counts, fmt.Errorf("task %q: unknown assignee %q", st.Title, st.Assignee)
			}
			task.AssigneeID = &uid
		}
		if st.EstimatedHours != "" {
			h, err := decimal.NewFromString(st.EstimatedHours)
			if err != nil {
				return created.ID, counts, fmt.Errorf("task %q estimated_hours: %w", st.Title, err)
			}
			task.EstimatedHours = &h
		}
		if task.DueDate, err = parseOptDay(st.DueDate); err != nil {
			return created.ID, counts, fmt.Errorf("task %q due_date: %w", st.Title, err)
		}
		createdTask, err := a.svc.CreateTask(ctx, actor, task)
		if err != nil {
			return created.ID, counts, fmt.Errorf("task %q: %w", st.Title, err)
		}
		taskIDs[i] = createdTask.ID
		counts.Tasks++

		for _, se := range st.TimeEntries {
			uid, ok := users[se.User]
			if !ok {
				return created.ID, counts, fmt.Errorf("time entry on %q: unknown user %q", st.Title, se.User)
			}
			entry := domain.TimeEntry{TaskID: createdTask.ID, UserID: uid, Note: se.Note}
			if entry.WorkDate, err = parseDay(se.WorkDate); err != nil {
				return created.ID, counts, fmt.Errorf("time entry on %q work_date: %w", st.Title, err)
			}
			if entry.Hours, err = decimal.NewFromString(se.Hours); err != nil {
				return created.ID, counts, fmt.Errorf("time entry on %q hours: %w", st.Title, err)
			}
			if _, err := a.svc.LogTime(ctx, actor, entry); err != nil {
				return created.ID, counts, fmt.Errorf("time entry on %q: %w", st.Title, err)
			}
			counts.TimeEntries++
		}
	}

	for i, st := range sp.Tasks {
		if st.Status == "" || domain.TaskStatus(st.Status) == domain.TaskTodo {
			continue
		}
		if _, err := a.svc.SetTaskStatus(ctx, actor, taskIDs[i], domain.TaskStatus(st.Status)); err != nil {
			return created.ID, counts, fmt.Errorf("task %q status: %w", st.Title, err)
		}
	}
	return created.ID, counts, nil
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

func parseOptDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDay(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
