// Package memory provides an in-process implementation of
// domain.PersistentStore. Entities are kept as encoded JSON so every load
// exercises the same decoding path as the SQL backends.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"taskledger/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Store keeps durable state in process memory.
type Store struct {
	mu       sync.Mutex
	entities map[domain.Ref][]byte
	audit    []domain.AuditRecord
	failure  error
	closed   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{entities: make(map[domain.Ref][]byte)}
}

// SetFailure makes every subsequent operation fail with err until it is
// cleared with nil. It simulates an unavailable backend.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Store) checkLocked(op string) error {
	if s.closed {
		return &domain.StoreError{Op: op, Err: fmt.Errorf("store closed")}
	}
	if s.failure != nil {
		return &domain.StoreError{Op: op, Err: s.failure}
	}
	return nil
}

// Load decodes every stored entity and returns audit records by sequence.
func (s *Store) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("load"); err != nil {
		return domain.Snapshot{}, err
	}
	refs := make([]domain.Ref, 0, len(s.entities))
	for ref := range s.entities {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Entity != refs[j].Entity {
			return refs[i].Entity < refs[j].Entity
		}
		return refs[i].ID < refs[j].ID
	})
	snap := domain.Snapshot{Entities: make([]domain.Entity, 0, len(refs))}
	for _, ref := range refs {
		e, err := domain.DecodeEntity(ref.Entity, s.entities[ref])
		if err != nil {
			return domain.Snapshot{}, &domain.StoreError{Op: "load", Err: fmt.Errorf("decode %s: %w", ref, err)}
		}
		snap.Entities = append(snap.Entities, e)
	}
	snap.Audit = append([]domain.AuditRecord(nil), s.audit...)
	return snap, nil
}

// SaveEntities encodes the whole batch before storing any of it.
func (s *Store) SaveEntities(_ context.Context, entities []domain.Entity) error {
	encoded := make(map[domain.Ref][]byte, len(entities))
	for _, e := range entities {
		b, err := json.Marshal(e)
		if err != nil {
			return &domain.StoreError{Op: "save entities", Err: fmt.Errorf("encode %s: %w", e.Ref(), err)}
		}
		encoded[e.Ref()] = b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("save entities"); err != nil {
		return err
	}
	for ref, b := range encoded {
		s.entities[ref] = b
	}
	return nil
}

// AppendAudit stores one audit record.
func (s *Store) AppendAudit(_ context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("append audit"); err != nil {
		return err
	}
	s.audit = append(s.audit, record)
	return nil
}

// Close marks the store closed. Later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
