package domain

import "context"

// Snapshot is the durable image loaded when an engine starts.
type Snapshot struct {
	Entities []Entity
	Audit    []AuditRecord
}

// PersistentStore is the contract for durable backends. Implementations must
// apply each SaveEntities batch atomically and each audit append as a single
// write; failures are reported as *StoreError.
type PersistentStore interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveEntities(ctx context.Context, entities []Entity) error
	AppendAudit(ctx context.Context, record AuditRecord) error
	Close() error
}
