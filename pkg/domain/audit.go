package domain

import "time"

// AuditRecord captures a single observed status transition. Records are
// append-only and never mutated after creation.
type AuditRecord struct {
	Seq       int64      `json:"seq"`
	Entity    EntityType `json:"entity"`
	EntityID  int64      `json:"entity_id"`
	OldStatus string     `json:"old_status,omitempty"`
	NewStatus string     `json:"new_status"`
	Actor     string     `json:"actor"`
	TxID      string     `json:"tx_id"`
	Timestamp time.Time  `json:"ts"`
}

// Ref returns the audited entity address.
func (r AuditRecord) Ref() Ref {
	return Ref{Entity: r.Entity, ID: r.EntityID}
}
