package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"taskledger/pkg/domain"
)

// maxStoredHours is the raw storage limit for a single time entry. The rule
// engine enforces a stricter business limit on top of it.
var maxStoredHours = decimal.NewFromInt(24)

// View provides read-only access to entities for rules, hooks and reports.
type View interface {
	Get(entity domain.EntityType, id int64) (domain.Entity, bool)
	Scan(entity domain.EntityType, fn func(domain.Entity) bool)
}

// EntityStore holds the current committed value of every entity. It is a
// plain keyed map: lock discipline is the Transaction Coordinator's job.
// Reads take a shared lock so they never block each other.
type EntityStore struct {
	applyMu sync.Mutex // serializes Apply/Put so constraint checks see a stable image

	mu      sync.RWMutex
	tables  map[domain.EntityType]map[int64]domain.Entity
	seq     map[domain.EntityType]int64
	backend domain.PersistentStore
}

// NewEntityStore constructs an empty store. A nil backend keeps state in
// memory only.
func NewEntityStore(backend domain.PersistentStore) *EntityStore {
	tables := make(map[domain.EntityType]map[int64]domain.Entity, len(domain.EntityTypes()))
	for _, t := range domain.EntityTypes() {
		tables[t] = make(map[int64]domain.Entity)
	}
	return &EntityStore{
		tables:  tables,
		seq:     make(map[domain.EntityType]int64),
		backend: backend,
	}
}

// Get returns a copy of the committed entity.
func (s *EntityStore) Get(entity domain.EntityType, id int64) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tables[entity][id]
	if !ok {
		return nil, false
	}
	return domain.CloneEntity(e), true
}

// Lookup is Get returning a NotFoundError for missing entities.
func (s *EntityStore) Lookup(ref domain.Ref) (domain.Entity, error) {
	e, ok := s.Get(ref.Entity, ref.ID)
	if !ok {
		return nil, domain.NotFoundError{Entity: ref.Entity, ID: ref.ID}
	}
	return e, nil
}

// Scan visits committed entities of one type in ascending id order until fn
// returns false. fn receives copies and must not write to the store.
func (s *EntityStore) Scan(entity domain.EntityType, fn func(domain.Entity) bool) {
	for _, e := range s.List(entity) {
		if !fn(e) {
			return
		}
	}
}

// List returns copies of all committed entities of one type ordered by id.
func (s *EntityStore) List(entity domain.EntityType) []domain.Entity {
	s.mu.RLock()
	table := s.tables[entity]
	out := make([]domain.Entity, 0, len(table))
	for _, e := range table {
		out = append(out, domain.CloneEntity(e))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().ID < out[j].Ref().ID })
	return out
}

// NextID reserves the next identifier for entity.
func (s *EntityStore) NextID(entity domain.EntityType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[entity]++
	return s.seq[entity]
}

// Put writes a single entity without constraint checks or persistence. It is
// the store's raw contract; callers outside the coordinator use it only to
// hydrate state.
func (s *EntityStore) Put(e domain.Entity) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.publish([]domain.Entity{e})
}

// Apply validates storage constraints for the batch, persists it to the
// backend and then publishes it atomically. Nothing is published when any
// step fails.
func (s *EntityStore) Apply(ctx context.Context, writes []domain.Entity) error {
	if len(writes) == 0 {
		return nil
	}
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if err := s.checkConstraints(writes); err != nil {
		return err
	}
	if s.backend != nil {
		if err := s.backend.SaveEntities(ctx, writes); err != nil {
			var storeErr *domain.StoreError
			if errors.As(err, &storeErr) {
				return err
			}
			return &domain.StoreError{Op: "save entities", Err: err}
		}
	}
	s.publish(writes)
	return nil
}

// Hydrate replaces the in-memory image with entities loaded from a backend.
func (s *EntityStore) Hydrate(entities []domain.Entity) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	for _, t := range domain.EntityTypes() {
		s.tables[t] = make(map[int64]domain.Entity)
		s.seq[t] = 0
	}
	s.mu.Unlock()
	s.publish(entities)
}

func (s *EntityStore) publish(writes []domain.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range writes {
		ref := e.Ref()
		table, ok := s.tables[ref.Entity]
		if !ok {
			table = make(map[int64]domain.Entity)
			s.tables[ref.Entity] = table
		}
		table[ref.ID] = domain.CloneEntity(e)
		if ref.ID > s.seq[ref.Entity] {
			s.seq[ref.Entity] = ref.ID
		}
	}
}

// checkConstraints enforces the raw storage constraints: value ranges and
// unique keys. Business rules live in the RulesEngine.
func (s *EntityStore) checkConstraints(writes []domain.Entity) error {
	batch := make(map[domain.Ref]domain.Entity, len(writes))
	for _, e := range writes {
		batch[e.Ref()] = e
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := func(entity domain.EntityType, fn func(domain.Entity)) {
		for id, e := range s.tables[entity] {
			if staged, ok := batch[domain.Ref{Entity: entity, ID: id}]; ok {
				e = staged
			}
			fn(e)
		}
		for ref, e := range batch {
			if ref.Entity != entity {
				continue
			}
			if _, exists := s.tables[entity][ref.ID]; !exists {
				fn(e)
			}
		}
	}

	for _, e := range writes {
		switch v := e.(type) {
		case domain.TimeEntry:
			if !v.Hours.IsPositive() || v.Hours.GreaterThan(maxStoredHours) {
				return constraintViolation("time_entry_hours_range", v.Ref(), fmt.Sprintf("hours_spent %s outside (0, %s]", v.Hours, maxStoredHours))
			}
		case domain.Project:
			dup := false
			current(domain.EntityProject, func(other domain.Entity) {
				p := other.(domain.Project)
				if p.ID != v.ID && p.AccountID == v.AccountID && p.Name == v.Name {
					dup = true
				}
			})
			if dup {
				return constraintViolation("unique_project_name", v.Ref(), fmt.Sprintf("project %q already exists in account %d", v.Name, v.AccountID))
			}
		case domain.Task:
			dup := false
			current(domain.EntityTask, func(other domain.Entity) {
				t := other.(domain.Task)
				if t.ID != v.ID && t.ProjectID == v.ProjectID && t.Title == v.Title {
					dup = true
				}
			})
			if dup {
				return constraintViolation("unique_task_title", v.Ref(), fmt.Sprintf("task %q already exists in project %d", v.Title, v.ProjectID))
			}
		case domain.User:
			dup := false
			current(domain.EntityUser, func(other domain.Entity) {
				u := other.(domain.User)
				if u.ID != v.ID && strings.EqualFold(u.Email, v.Email) {
					dup = true
				}
			})
			if dup {
				return constraintViolation("unique_user_email", v.Ref(), fmt.Sprintf("email %q already registered", v.Email))
			}
		}
	}
	return nil
}

func constraintViolation(name string, ref domain.Ref, msg string) error {
	return domain.RuleViolationError{Violation: domain.Violation{
		Rule:     "storage." + name,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   ref.Entity,
		EntityID: ref.ID,
	}}
}
