package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"taskledger/internal/config"
	"taskledger/internal/core"
	"taskledger/internal/infra/logging"
	"taskledger/internal/infra/metrics"
	"taskledger/pkg/domain"
)

// ledger runs CLI invocations against one sqlite file so state carries over
// between commands.
type ledger struct {
	t   *testing.T
	dir string
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("TASKLEDGER_BLOB_FS_ROOT", filepath.Join(dir, "archive"))
	t.Setenv("TASKLEDGER_LOG_LEVEL", "error")
	return &ledger{t: t, dir: dir}
}

func (l *ledger) run(args ...string) (string, error) {
	l.t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	base := []string{"--store", "sqlite", "--sqlite-path", filepath.Join(l.dir, "ledger.db"), "--actor", "tester"}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (l *ledger) mustJSON(v any, args ...string) {
	l.t.Helper()
	out, err := l.run(append(args, "-o", "json")...)
	require.NoError(l.t, err, "taskledger %s", strings.Join(args, " "))
	require.NoError(l.t, json.Unmarshal([]byte(out), v), out)
}

func TestRootCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, "taskledger", cmd.Use)
	for _, path := range [][]string{
		{"seed"},
		{"summary", "project"},
		{"summary", "account"},
		{"audit"},
		{"task", "create"},
		{"task", "status"},
		{"task", "assign"},
		{"task", "log"},
		{"invoice", "status"},
		{"project", "status"},
		{"archive"},
		{"archive", "list"},
		{"metrics", "serve"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "o", output.Shorthand)
	assert.Equal(t, "table", output.DefValue)
}

func TestInvalidOutputFormat(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("summary", "project", "1", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestSeedAndSummaries(t *testing.T) {
	l := newLedger(t)

	var counts seedCounts
	l.mustJSON(&counts, "seed")
	assert.Equal(t, seedCounts{Accounts: 2, Users: 4, Projects: 3, Tasks: 5, TimeEntries: 5, Invoices: 3}, counts)

	var planner core.ProjectSummary
	l.mustJSON(&planner, "summary", "project", "1")
	assert.Equal(t, "Route Planner", planner.Name)
	assert.Equal(t, string(domain.ProjectActive), planner.Status)
	assert.Equal(t, 3, planner.TaskCount)
	assert.True(t, decimal.RequireFromString("21.5").Equal(planner.TotalHours), planner.TotalHours.String())
	assert.True(t, decimal.RequireFromString("16800").Equal(planner.InvoiceTotal))
	assert.True(t, decimal.RequireFromString("9600").Equal(planner.InvoicePaid))
	require.NotNil(t, planner.LastWorkDate)
	assert.Equal(t, "2024-03-11", planner.LastWorkDate.Format("2006-01-02"))

	var telemetry core.ProjectSummary
	l.mustJSON(&telemetry, "summary", "project", "2")
	assert.Equal(t, string(domain.ProjectCompleted), telemetry.Status, "single done task completes the project")

	var account core.AccountSummary
	l.mustJSON(&account, "summary", "account", "1")
	assert.Equal(t, 3, account.Users)
	assert.Equal(t, 2, account.ActiveUsers)
	assert.Equal(t, map[domain.ProjectStatus]int{domain.ProjectActive: 1, domain.ProjectCompleted: 1}, account.ProjectsByStatus)
	assert.True(t, decimal.RequireFromString("25.5").Equal(account.TotalHours))
	assert.True(t, decimal.RequireFromString("7550").Equal(account.Outstanding))

	out, err := l.run("summary", "account", "2", "-o", "yaml")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "Bluefin Studio", doc["name"])

	table, err := l.run("summary", "project", "1")
	require.NoError(t, err)
	assert.Contains(t, table, "Route Planner")
	assert.Contains(t, table, "16800.00")
}

func TestSummaryMissingProject(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("summary", "project", "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestAuditTrail(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("seed")
	require.NoError(t, err)

	var taskTrail []auditRow
	l.mustJSON(&taskTrail, "audit", "task", "4")
	require.Len(t, taskTrail, 1)
	assert.Equal(t, "todo", taskTrail[0].OldStatus)
	assert.Equal(t, "done", taskTrail[0].NewStatus)
	assert.Equal(t, "tester", taskTrail[0].Actor)

	var projectTrail []auditRow
	l.mustJSON(&projectTrail, "audit", "project", "2")
	require.Len(t, projectTrail, 1)
	assert.Equal(t, "active", projectTrail[0].OldStatus)
	assert.Equal(t, "completed", projectTrail[0].NewStatus)
	assert.Greater(t, projectTrail[0].Seq, taskTrail[0].Seq)

	_, err = l.run("audit", "widget", "1")
	require.Error(t, err)

	var all []auditRow
	l.mustJSON(&all, "audit", "--all")
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Seq, all[i].Seq)
	}
}

func TestTaskTransitions(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("seed")
	require.NoError(t, err)

	var reopened domain.Task
	l.mustJSON(&reopened, "task", "status", "4", "in_progress")
	assert.Equal(t, domain.TaskInProgress, reopened.Status)

	var telemetry core.ProjectSummary
	l.mustJSON(&telemetry, "summary", "project", "2")
	assert.Equal(t, string(domain.ProjectCompleted), telemetry.Status, "reopening a task keeps the project completed")

	_, err = l.run("task", "status", "1", "shipped")
	require.Error(t, err)
	assert.Equal(t, exitRejected, exitCode(err))

	var created domain.Task
	l.mustJSON(&created, "task", "create", "--project", "3", "--title", "Logo variants", "--estimate", "5")
	assert.Equal(t, domain.TaskTodo, created.Status)

	_, err = l.run("task", "create", "--project", "3", "--title", "Logo variants")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidationRejected)

	var assigned domain.Task
	l.mustJSON(&assigned, "task", "assign", fmt.Sprint(created.ID), "--user", "4")
	require.NotNil(t, assigned.AssigneeID)
	assert.Equal(t, int64(4), *assigned.AssigneeID)

	_, err = l.run("task", "assign", fmt.Sprint(created.ID), "--user", "1")
	require.Error(t, err, "user of another account")
	assert.Equal(t, exitRejected, exitCode(err))

	l.mustJSON(&assigned, "task", "assign", fmt.Sprint(created.ID), "--clear")
	assert.Nil(t, assigned.AssigneeID)
}

func TestLogTimeLimits(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("seed")
	require.NoError(t, err)

	_, err = l.run("task", "log", "5", "--user", "4", "--date", "2024-05-03", "--hours", "13")
	require.Error(t, err)
	assert.Equal(t, exitRejected, exitCode(err))

	var entry domain.TimeEntry
	l.mustJSON(&entry, "task", "log", "5", "--user", "4", "--date", "2024-05-03", "--hours", "12")
	assert.True(t, decimal.NewFromInt(12).Equal(entry.Hours))
}

func TestInvoiceAndProjectStatus(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("seed")
	require.NoError(t, err)

	var inv domain.Invoice
	l.mustJSON(&inv, "invoice", "status", "2", "paid")
	assert.Equal(t, domain.InvoicePaid, inv.Status)

	_, err = l.run("project", "status", "1", "completed")
	require.Error(t, err, "open tasks block manual completion")
	assert.Equal(t, exitRejected, exitCode(err))

	var p domain.Project
	l.mustJSON(&p, "project", "status", "1", "on_hold")
	assert.Equal(t, domain.ProjectOnHold, p.Status)
}

func TestSeedLeavesCompletionDerived(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("seed")
	require.NoError(t, err)

	var planner core.ProjectSummary
	l.mustJSON(&planner, "summary", "project", "1")
	assert.Equal(t, string(domain.ProjectActive), planner.Status, "a done task among open siblings keeps the project active")

	var trail []auditRow
	l.mustJSON(&trail, "audit", "project", "1")
	assert.Empty(t, trail)

	_, err = l.run("task", "create", "--project", "2", "--title", "Late addition")
	require.Error(t, err, "completed project takes no open tasks")
	assert.ErrorIs(t, err, domain.ErrValidationRejected)
	assert.Equal(t, exitRejected, exitCode(err))
}

func TestArchiveIsIncremental(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("seed")
	require.NoError(t, err)

	var first core.ArchiveResult
	l.mustJSON(&first, "archive")
	assert.Equal(t, int64(1), first.FirstSeq)
	assert.Positive(t, first.Records)
	assert.Equal(t, fmt.Sprintf("audit/%012d-%012d.jsonl", first.FirstSeq, first.LastSeq), first.Key)
	_, err = os.Stat(filepath.Join(l.dir, "archive", first.Key))
	require.NoError(t, err)

	var again core.ArchiveResult
	l.mustJSON(&again, "archive")
	assert.Zero(t, again.Records)

	_, err = l.run("invoice", "status", "3", "sent")
	require.NoError(t, err)

	var next core.ArchiveResult
	l.mustJSON(&next, "archive")
	assert.Equal(t, 1, next.Records)
	assert.Equal(t, first.LastSeq+1, next.FirstSeq)

	var segments []map[string]any
	l.mustJSON(&segments, "archive", "list")
	assert.Len(t, segments, 2)
}

func TestSeedFileErrors(t *testing.T) {
	l := newLedger(t)
	path := filepath.Join(l.dir, "seed.yaml")

	require.NoError(t, os.WriteFile(path, []byte("accounts:\n  - name: X\n    colour: red\n"), 0o644))
	_, err := l.run("seed", "--file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse seed")

	require.NoError(t, os.WriteFile(path, []byte("accounts: []\n"), 0o644))
	_, err = l.run("seed", "--file", path)
	require.Error(t, err)

	bad := `accounts:
  - name: Solo
    invoices:
      - issue_date: 2024-01-10
        due_date: 2024-01-09
        amount: "10"
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
	_, err = l.run("seed", "--file", path)
	require.Error(t, err)
	assert.Equal(t, exitRejected, exitCode(err))
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	svc, err := core.New(ctx)
	require.NoError(t, err)
	account, err := svc.CreateAccount(ctx, "tester", domain.Account{Name: "Acme"})
	require.NoError(t, err)
	project, err := svc.CreateProject(ctx, "tester", domain.Project{AccountID: account.ID, Name: "Ops"})
	require.NoError(t, err)

	a := &app{
		cfg:     &config.Config{},
		logger:  logging.New(logging.Config{Level: "error", Out: io.Discard}),
		metrics: metrics.NewRecorder(),
		svc:     svc,
	}
	srv := httptest.NewServer(newRouter(a))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")

	code, body = get(fmt.Sprintf("/projects/%d/summary", project.ID))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"name":"Ops"`)

	code, _ = get("/projects/99/summary")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get("/accounts/abc/summary")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(fmt.Sprintf("/audit/project/%d", project.ID))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]\n", body)
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{domain.RuleViolationError{Violation: domain.Violation{Rule: "x"}}, exitRejected},
		{fmt.Errorf("wrapped: %w", domain.ErrDeadlock), exitConflict},
		{domain.ErrLockTimeout, exitConflict},
		{domain.NotFoundError{Entity: domain.EntityTask, ID: 1}, exitNotFound},
		{io.EOF, exitFailure},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
