package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taskledger/internal/core"
	memory "taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

const actor = "tester"

// fixture is a small account with one user and one active project.
type fixture struct {
	svc     *core.Service
	backend *memory.Store
	account domain.Account
	user    domain.User
	project domain.Project
}

func newService(t *testing.T, opts ...core.Option) (*core.Service, *memory.Store) {
	t.Helper()
	backend := memory.New()
	svc, err := core.New(context.Background(), append([]core.Option{core.WithBackend(backend)}, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, backend
}

func newFixture(t *testing.T, opts ...core.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	svc, backend := newService(t, opts...)
	f := &fixture{svc: svc, backend: backend}
	var err error
	if f.account, err = svc.CreateAccount(ctx, actor, domain.Account{Name: "Acme"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if f.user, err = svc.CreateUser(ctx, actor, domain.User{AccountID: f.account.ID, FullName: "Ada", Email: "ada@acme.example", Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if f.project, err = svc.CreateProject(ctx, actor, domain.Project{AccountID: f.account.ID, Name: "Launch", Status: domain.ProjectActive}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return f
}

func (f *fixture) task(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), actor, domain.Task{ProjectID: f.project.ID, Title: title})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func (f *fixture) setStatus(t *testing.T, id int64, status domain.TaskStatus) domain.Task {
	t.Helper()
	task, err := f.svc.SetTaskStatus(context.Background(), actor, id, status)
	if err != nil {
		t.Fatalf("set task %d to %s: %v", id, status, err)
	}
	return task
}

func (f *fixture) currentProject(t *testing.T) domain.Project {
	t.Helper()
	e, err := f.svc.Store().Lookup(f.project.Ref())
	if err != nil {
		t.Fatalf("lookup project: %v", err)
	}
	return e.(domain.Project)
}

func (f *fixture) currentTask(t *testing.T, id int64) domain.Task {
	t.Helper()
	e, err := f.svc.Store().Lookup(domain.Ref{Entity: domain.EntityTask, ID: id})
	if err != nil {
		t.Fatalf("lookup task %d: %v", id, err)
	}
	return e.(domain.Task)
}

// waitQueued blocks until the transaction is parked on a lock.
func waitQueued(t *testing.T, svc *core.Service, txID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := svc.Coordinator().Locks().WaitingFor(txID); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transaction %s never queued", txID)
}

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func hours(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// frozenClock returns the same instant on every call.
type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

// countingMetrics records engine metrics for assertions.
type countingMetrics struct {
	mu           sync.Mutex
	lockOutcomes map[string]int
	txOutcomes   map[string]int
	rejections   map[string]int
	audits       map[domain.EntityType]int
	followUps    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		lockOutcomes: map[string]int{},
		txOutcomes:   map[string]int{},
		rejections:   map[string]int{},
		audits:       map[domain.EntityType]int{},
		followUps:    map[string]int{},
	}
}

func (m *countingMetrics) ObserveLockWait(_ domain.EntityType, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockOutcomes[outcome]++
}

func (m *countingMetrics) ObserveTransaction(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txOutcomes[outcome]++
}

func (m *countingMetrics) IncRuleRejection(rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[rule]++
}

func (m *countingMetrics) IncAuditAppend(entity domain.EntityType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[entity]++
}

func (m *countingMetrics) IncFollowUpFailure(hook string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followUps[hook]++
}

func (m *countingMetrics) get(table map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return table[key]
}
