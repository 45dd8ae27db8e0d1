package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskledger/internal/core"
	memory "taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

func TestStatusTransitionsAuditedOnce(t *testing.T) {
	metrics := newCountingMetrics()
	f := newFixture(t, core.WithMetrics(metrics))
	ctx := context.Background()
	task := f.task(t, "Audited")

	if n := len(f.svc.AuditTrail(task.Ref())); n != 0 {
		t.Fatalf("creation must not be audited, got %d records", n)
	}
	f.setStatus(t, task.ID, domain.TaskInProgress)
	f.setStatus(t, task.ID, domain.TaskInProgress)
	if _, err := f.svc.AssignTask(ctx, actor, task.ID, &f.user.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.setStatus(t, task.ID, domain.TaskBlocked)

	trail := f.svc.AuditTrail(task.Ref())
	if len(trail) != 2 {
		t.Fatalf("records = %+v", trail)
	}
	want := [][2]domain.TaskStatus{{domain.TaskTodo, domain.TaskInProgress}, {domain.TaskInProgress, domain.TaskBlocked}}
	for i, w := range want {
		if trail[i].OldStatus != string(w[0]) || trail[i].NewStatus != string(w[1]) {
			t.Fatalf("record %d = %s -> %s", i, trail[i].OldStatus, trail[i].NewStatus)
		}
		if trail[i].Entity != domain.EntityTask || trail[i].EntityID != task.ID || trail[i].TxID == "" {
			t.Fatalf("record %d = %+v", i, trail[i])
		}
	}
	if trail[0].TxID == trail[1].TxID {
		t.Fatalf("distinct transactions share a tx id")
	}
	if metrics.audits[domain.EntityTask] != 2 {
		t.Fatalf("audit appends counted = %d", metrics.audits[domain.EntityTask])
	}
}

func TestInvoiceAndProjectTransitionsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, actor, domain.Invoice{AccountID: f.account.ID, IssueDate: day("2024-06-01"), DueDate: day("2024-06-30"), Amount: hours("10")})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	for _, s := range []domain.InvoiceStatus{domain.InvoiceSent, domain.InvoiceOverdue, domain.InvoicePaid} {
		if _, err := f.svc.SetInvoiceStatus(ctx, "billing", inv.ID, s); err != nil {
			t.Fatalf("invoice %s: %v", s, err)
		}
	}
	trail := f.svc.AuditTrail(inv.Ref())
	if len(trail) != 3 || trail[2].NewStatus != string(domain.InvoicePaid) || trail[2].Actor != "billing" {
		t.Fatalf("invoice trail = %+v", trail)
	}

	if _, err := f.svc.SetProjectStatus(ctx, actor, f.project.ID, domain.ProjectOnHold); err != nil {
		t.Fatalf("project on hold: %v", err)
	}
	if trail := f.svc.AuditTrail(f.project.Ref()); len(trail) != 1 || trail[0].OldStatus != string(domain.ProjectActive) {
		t.Fatalf("project trail = %+v", trail)
	}
}

func TestAuditTimestampsStrictlyIncreaseUnderFrozenClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 123456789, time.UTC)
	f := newFixture(t, core.WithClock(frozenClock{at: at}))
	task := f.task(t, "Frozen")

	for _, s := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskBlocked, domain.TaskInProgress, domain.TaskTodo} {
		f.setStatus(t, task.ID, s)
	}
	trail := f.svc.AuditTrail(task.Ref())
	if len(trail) != 4 {
		t.Fatalf("records = %d", len(trail))
	}
	base := at.Truncate(time.Microsecond)
	for i, r := range trail {
		want := base.Add(time.Duration(i) * time.Microsecond)
		if !r.Timestamp.Equal(want) {
			t.Fatalf("record %d at %s, want %s", i, r.Timestamp, want)
		}
		if i > 0 && r.Seq <= trail[i-1].Seq {
			t.Fatalf("sequence not increasing at %d", i)
		}
	}

	// Another entity starts from the clock again.
	other := f.task(t, "Other")
	f.setStatus(t, other.ID, domain.TaskDone)
	if got := f.svc.AuditTrail(other.Ref())[0].Timestamp; !got.Equal(base) {
		t.Fatalf("unrelated entity timestamp = %s", got)
	}
}

func TestAuditLogAppendQueries(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	clock := frozenClock{at: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	log := core.NewAuditLog(backend, clock, nil)

	ref := domain.Ref{Entity: domain.EntityInvoice, ID: 7}
	for _, s := range []string{"sent", "paid"} {
		if _, err := log.Append(ctx, domain.AuditRecord{Entity: ref.Entity, EntityID: ref.ID, NewStatus: s, Actor: actor, TxID: "tx"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := log.Append(ctx, domain.AuditRecord{Entity: domain.EntityTask, EntityID: 1, NewStatus: "done", Actor: actor, TxID: "tx"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if log.Len() != 3 {
		t.Fatalf("len = %d", log.Len())
	}
	if got := log.ForEntity(ref); len(got) != 2 || got[1].NewStatus != "paid" {
		t.Fatalf("for entity = %+v", got)
	}
	if got := log.Since(1); len(got) != 2 || got[0].Seq != 2 {
		t.Fatalf("since = %+v", got)
	}
	if got := log.Since(3); len(got) != 0 {
		t.Fatalf("since last = %+v", got)
	}

	// Hydrate restores order and continues sequences and timestamps.
	snap, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	restored := core.NewAuditLog(backend, clock, nil)
	restored.Hydrate([]domain.AuditRecord{snap.Audit[2], snap.Audit[0], snap.Audit[1]})
	if got := restored.All(); len(got) != 3 || got[0].Seq != 1 || got[2].Seq != 3 {
		t.Fatalf("hydrated = %+v", got)
	}
	next, err := restored.Append(ctx, domain.AuditRecord{Entity: ref.Entity, EntityID: ref.ID, NewStatus: "overdue", Actor: actor, TxID: "tx2"})
	if err != nil {
		t.Fatalf("append after hydrate: %v", err)
	}
	if next.Seq != 4 || !next.Timestamp.After(snap.Audit[1].Timestamp) {
		t.Fatalf("next = %+v", next)
	}

	backend.SetFailure(errors.New("gone"))
	if _, err := restored.Append(ctx, domain.AuditRecord{Entity: ref.Entity, EntityID: ref.ID, NewStatus: "paid"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("append on failing backend: %v", err)
	}
	if restored.Len() != 4 {
		t.Fatalf("failed append was published")
	}
}
