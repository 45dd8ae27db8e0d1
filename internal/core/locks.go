package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskledger/pkg/domain"
)

// LockManager grants exclusive per-entity locks to transactions. Waiters are
// served in FIFO order. Every blocking request is checked against the
// wait-for graph and fails with ErrDeadlock instead of closing a cycle.
type LockManager struct {
	mu      sync.Mutex
	locks   map[domain.Ref]*lockEntry
	waiting map[string]*lockWaiter // owner -> its single pending request
	held    map[string]map[domain.Ref]*LockHandle
	metrics MetricsRecorder
	now     func() time.Time
}

type lockEntry struct {
	owner string
	queue []*lockWaiter
}

type lockWaiter struct {
	owner   string
	ref     domain.Ref
	handle  *LockHandle
	granted chan struct{}
}

// LockHandle is returned for a granted lock. Release is idempotent.
type LockHandle struct {
	mgr      *LockManager
	ref      domain.Ref
	owner    string
	released bool
}

// NewLockManager constructs a lock manager. A nil recorder disables metrics.
func NewLockManager(metrics MetricsRecorder) *LockManager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LockManager{
		locks:   make(map[domain.Ref]*lockEntry),
		waiting: make(map[string]*lockWaiter),
		held:    make(map[string]map[domain.Ref]*LockHandle),
		metrics: metrics,
		now:     time.Now,
	}
}

// Ref returns the locked entity address.
func (h *LockHandle) Ref() domain.Ref { return h.ref }

// Owner returns the transaction holding the lock.
func (h *LockHandle) Owner() string { return h.owner }

// Release gives the lock up and wakes the next waiter.
func (h *LockHandle) Release() {
	if h == nil || h.mgr == nil {
		return
	}
	h.mgr.release(h)
}

// Acquire blocks until owner holds ref, the timeout expires, ctx is done, or
// the request would deadlock. A non-positive timeout waits on ctx alone.
// Acquiring a lock the owner already holds returns the existing handle.
func (m *LockManager) Acquire(ctx context.Context, owner string, ref domain.Ref, timeout time.Duration) (*LockHandle, error) {
	if owner == "" {
		return nil, errors.New("lock owner required")
	}
	started := m.now()

	m.mu.Lock()
	if h, ok := m.held[owner][ref]; ok {
		m.mu.Unlock()
		return h, nil
	}
	if _, busy := m.waiting[owner]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("owner %s already waiting for a lock", owner)
	}
	entry, ok := m.locks[ref]
	if !ok {
		entry = &lockEntry{}
		m.locks[ref] = entry
	}
	if entry.owner == "" && len(entry.queue) == 0 {
		h := m.grantLocked(entry, owner, ref, nil)
		m.mu.Unlock()
		m.metrics.ObserveLockWait(ref.Entity, LockOutcomeGranted, 0)
		return h, nil
	}
	if m.closesCycleLocked(owner, entry) {
		m.mu.Unlock()
		m.metrics.ObserveLockWait(ref.Entity, LockOutcomeDeadlock, 0)
		return nil, fmt.Errorf("%w: %s requesting %s held by %s", domain.ErrDeadlock, owner, ref, entry.owner)
	}
	w := &lockWaiter{
		owner:   owner,
		ref:     ref,
		handle:  &LockHandle{mgr: m, ref: ref, owner: owner},
		granted: make(chan struct{}),
	}
	entry.queue = append(entry.queue, w)
	m.waiting[owner] = w
	m.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-w.granted:
		m.metrics.ObserveLockWait(ref.Entity, LockOutcomeGranted, m.now().Sub(started))
		return w.handle, nil
	case <-expired:
		return m.abandon(w, fmt.Errorf("%w: %s waiting for %s after %s", domain.ErrLockTimeout, owner, ref, timeout), LockOutcomeTimeout, started)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return m.abandon(w, fmt.Errorf("%w: %s waiting for %s: %w", domain.ErrLockTimeout, owner, ref, ctx.Err()), LockOutcomeTimeout, started)
		}
		return m.abandon(w, fmt.Errorf("acquire %s: %w", ref, ctx.Err()), LockOutcomeCanceled, started)
	}
}

// abandon withdraws a queued request. A grant that raced the expiry wins.
func (m *LockManager) abandon(w *lockWaiter, cause error, outcome string, started time.Time) (*LockHandle, error) {
	m.mu.Lock()
	select {
	case <-w.granted:
		m.mu.Unlock()
		m.metrics.ObserveLockWait(w.ref.Entity, LockOutcomeGranted, m.now().Sub(started))
		return w.handle, nil
	default:
	}
	delete(m.waiting, w.owner)
	if entry, ok := m.locks[w.ref]; ok {
		for i, queued := range entry.queue {
			if queued == w {
				entry.queue = append(entry.queue[:i], entry.queue[i+1:]...)
				break
			}
		}
		if entry.owner == "" && len(entry.queue) == 0 {
			delete(m.locks, w.ref)
		}
	}
	m.mu.Unlock()
	m.metrics.ObserveLockWait(w.ref.Entity, outcome, m.now().Sub(started))
	return nil, cause
}

func (m *LockManager) grantLocked(entry *lockEntry, owner string, ref domain.Ref, h *LockHandle) *LockHandle {
	if h == nil {
		h = &LockHandle{mgr: m, ref: ref, owner: owner}
	}
	entry.owner = owner
	owned, ok := m.held[owner]
	if !ok {
		owned = make(map[domain.Ref]*LockHandle)
		m.held[owner] = owned
	}
	owned[ref] = h
	return h
}

func (m *LockManager) release(h *LockHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if owned, ok := m.held[h.owner]; ok {
		delete(owned, h.ref)
		if len(owned) == 0 {
			delete(m.held, h.owner)
		}
	}
	entry, ok := m.locks[h.ref]
	if !ok || entry.owner != h.owner {
		return
	}
	entry.owner = ""
	if len(entry.queue) == 0 {
		delete(m.locks, h.ref)
		return
	}
	next := entry.queue[0]
	entry.queue = entry.queue[1:]
	delete(m.waiting, next.owner)
	m.grantLocked(entry, next.owner, h.ref, next.handle)
	close(next.granted)
}

// ReleaseAll releases every lock owner holds and returns how many were freed.
func (m *LockManager) ReleaseAll(owner string) int {
	m.mu.Lock()
	handles := make([]*LockHandle, 0, len(m.held[owner]))
	for _, h := range m.held[owner] {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		h.Release()
	}
	return len(handles)
}

// Holder reports which transaction currently holds ref.
func (m *LockManager) Holder(ref domain.Ref) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[ref]
	if !ok || entry.owner == "" {
		return "", false
	}
	return entry.owner, true
}

// WaitingFor reports the lock owner is currently blocked on.
func (m *LockManager) WaitingFor(owner string) (domain.Ref, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.waiting[owner]
	if !ok {
		return domain.Ref{}, false
	}
	return w.ref, true
}

// closesCycleLocked reports whether queuing requester behind entry would
// create a cycle in the wait-for graph. A waiter waits for the holder and,
// because service is FIFO, for every waiter queued ahead of it.
func (m *LockManager) closesCycleLocked(requester string, entry *lockEntry) bool {
	frontier := blockersLocked(entry, len(entry.queue))
	visited := make(map[string]struct{})
	for len(frontier) > 0 {
		next := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if next == requester {
			return true
		}
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}
		w, ok := m.waiting[next]
		if !ok {
			continue
		}
		blocked := m.locks[w.ref]
		if blocked == nil {
			continue
		}
		pos := len(blocked.queue)
		for i, queued := range blocked.queue {
			if queued == w {
				pos = i
				break
			}
		}
		frontier = append(frontier, blockersLocked(blocked, pos)...)
	}
	return false
}

func blockersLocked(entry *lockEntry, ahead int) []string {
	out := make([]string, 0, ahead+1)
	if entry.owner != "" {
		out = append(out, entry.owner)
	}
	for _, queued := range entry.queue[:ahead] {
		out = append(out, queued.owner)
	}
	return out
}
