package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"taskledger/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetList(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "audit/000001-000002.jsonl", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"last_seq": "2"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "audit/000001-000002.jsonl", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "audit/000001-000002.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "hello" || got.ETag != info.ETag || got.Metadata["last_seq"] != "2" {
		t.Fatalf("unexpected get %q %+v", b, got)
	}
	if _, err := store.Put(ctx, "other.txt", bytes.NewReader([]byte("o")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "audit/")
	if err != nil || len(list) != 1 || list[0].Key != "audit/000001-000002.jsonl" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if all, _ := store.List(ctx, ""); len(all) != 2 {
		t.Fatalf("expected 2 blobs, got %d", len(all))
	}
}

func TestStoreMissingAndBrokenSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, metaPath, _ := store.pathFor("k")
	if err := os.WriteFile(metaPath, []byte("{"), 0o644); err != nil {
		t.Fatalf("corrupt meta: %v", err)
	}
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected sidecar decode error")
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStorePutReadError(t *testing.T) {
	store := newTempStore(t)
	if _, err := store.Put(context.Background(), "bad.bin", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 0 {
		t.Fatalf("failed put left %d blobs", len(list))
	}
}

func TestSanitizeKeyErrors(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for %q", key)
		}
	}
	if k, err := sanitizeKey("a//b"); err != nil || k != "a/b" {
		t.Fatalf("expected clean key, got %q %v", k, err)
	}
}
