package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"taskledger/pkg/domain"
)

// AuditLog is the append-only, insertion-ordered record of status
// transitions. Appends are serialized so records never interleave.
type AuditLog struct {
	mu      sync.Mutex
	records []domain.AuditRecord
	byRef   map[domain.Ref][]int
	lastTS  map[domain.Ref]time.Time
	seq     int64
	backend domain.PersistentStore
	clock   Clock
	metrics MetricsRecorder
}

// NewAuditLog constructs an empty audit log. A nil backend keeps records in
// memory only.
func NewAuditLog(backend domain.PersistentStore, clock Clock, metrics MetricsRecorder) *AuditLog {
	if clock == nil {
		clock = systemClock()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AuditLog{
		byRef:   make(map[domain.Ref][]int),
		lastTS:  make(map[domain.Ref]time.Time),
		backend: backend,
		clock:   clock,
		metrics: metrics,
	}
}

// Append assigns the next sequence number and a timestamp strictly after the
// previous record for the same entity, persists the record and publishes it.
// It fails only when the backend is unavailable.
func (l *AuditLog) Append(ctx context.Context, record domain.AuditRecord) (domain.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ref := record.Ref()
	record.Seq = l.seq + 1
	ts := l.clock.Now().UTC().Truncate(time.Microsecond)
	if last, ok := l.lastTS[ref]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	record.Timestamp = ts

	if l.backend != nil {
		if err := l.backend.AppendAudit(ctx, record); err != nil {
			var storeErr *domain.StoreError
			if errors.As(err, &storeErr) {
				return domain.AuditRecord{}, err
			}
			return domain.AuditRecord{}, &domain.StoreError{Op: "append audit", Err: err}
		}
	}
	l.publishLocked(record)
	l.metrics.IncAuditAppend(record.Entity)
	return record, nil
}

// ForEntity returns the records for ref in insertion order.
func (l *AuditLog) ForEntity(ref domain.Ref) []domain.AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.byRef[ref]
	out := make([]domain.AuditRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.records[i])
	}
	return out
}

// All returns every record in insertion order.
func (l *AuditLog) All() []domain.AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AuditRecord(nil), l.records...)
}

// Since returns records with a sequence number greater than seq.
func (l *AuditLog) Since(seq int64) []domain.AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].Seq > seq })
	return append([]domain.AuditRecord(nil), l.records[i:]...)
}

// Len returns the number of records.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Hydrate loads previously persisted records, ordered by sequence.
func (l *AuditLog) Hydrate(records []domain.AuditRecord) {
	sorted := append([]domain.AuditRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.byRef = make(map[domain.Ref][]int)
	l.lastTS = make(map[domain.Ref]time.Time)
	l.seq = 0
	for _, r := range sorted {
		l.publishLocked(r)
	}
}

func (l *AuditLog) publishLocked(record domain.AuditRecord) {
	ref := record.Ref()
	l.records = append(l.records, record)
	l.byRef[ref] = append(l.byRef[ref], len(l.records)-1)
	l.lastTS[ref] = record.Timestamp
	if record.Seq > l.seq {
		l.seq = record.Seq
	}
}
