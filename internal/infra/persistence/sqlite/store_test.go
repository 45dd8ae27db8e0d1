package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taskledger/pkg/domain"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store, path
}

func TestStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	store, path := openTemp(t)

	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	projectID := int64(1)
	batch := []domain.Entity{
		domain.Account{Base: domain.Base{ID: 1}, Name: "Acme", Industry: "retail"},
		domain.Invoice{Base: domain.Base{ID: 1}, AccountID: 1, ProjectID: &projectID, IssueDate: due, DueDate: due, Amount: decimal.RequireFromString("99.95"), Status: domain.InvoiceSent},
	}
	if err := store.SaveEntities(ctx, batch); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Upsert replaces the row rather than duplicating it.
	batch[1] = domain.Invoice{Base: domain.Base{ID: 1}, AccountID: 1, IssueDate: due, DueDate: due, Amount: decimal.RequireFromString("99.95"), Status: domain.InvoicePaid}
	if err := store.SaveEntities(ctx, batch[1:]); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ts := time.Date(2024, 3, 2, 10, 0, 0, 123456000, time.UTC)
	if err := store.AppendAudit(ctx, domain.AuditRecord{Seq: 1, Entity: domain.EntityInvoice, EntityID: 1, OldStatus: "sent", NewStatus: "paid", Actor: "ana", TxID: "t1", Timestamp: ts}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	snap, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(snap.Entities))
	}
	var inv domain.Invoice
	for _, e := range snap.Entities {
		if v, ok := e.(domain.Invoice); ok {
			inv = v
		}
	}
	if inv.Status != domain.InvoicePaid || !inv.Amount.Equal(decimal.RequireFromString("99.95")) || inv.ProjectID != nil {
		t.Fatalf("invoice not restored: %+v", inv)
	}
	if len(snap.Audit) != 1 || !snap.Audit[0].Timestamp.Equal(ts) || snap.Audit[0].NewStatus != "paid" {
		t.Fatalf("audit not restored: %+v", snap.Audit)
	}
}

func TestStoreDuplicateAuditSeqFails(t *testing.T) {
	ctx := context.Background()
	store, _ := openTemp(t)
	defer store.Close()
	rec := domain.AuditRecord{Seq: 7, Entity: domain.EntityTask, EntityID: 1, NewStatus: "done", Actor: "a", TxID: "t", Timestamp: time.Now()}
	if err := store.AppendAudit(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendAudit(ctx, rec); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store error on duplicate seq, got %v", err)
	}
}

func TestStoreClosedReportsUnavailable(t *testing.T) {
	store, _ := openTemp(t)
	_ = store.Close()
	err := store.SaveEntities(context.Background(), []domain.Entity{domain.Account{Base: domain.Base{ID: 1}, Name: "x"}})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestStoreLoadRejectsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	store, _ := openTemp(t)
	defer store.Close()
	if _, err := store.DB().ExecContext(ctx, `INSERT INTO entities(ref, entity, id, payload) VALUES('task:1','task',1,'{')`); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}
