// Package postgres provides a Postgres-backed domain.PersistentStore through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"taskledger/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/taskledger?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		ref TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		id BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGINT PRIMARY KEY,
		entity TEXT NOT NULL,
		entity_id BIGINT NOT NULL,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_entity ON audit_log(entity, entity_id, seq)`,
}

// Store persists entities as JSONB rows keyed by ref and audit records as
// rows of audit_log.
type Store struct {
	db *sql.DB
}

// Open connects using dsn (falls back to defaultDSN), pings the server and
// applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, storeErr("ping", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Load reads every entity row and the audit log.
func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	rows, err := s.db.QueryContext(ctx, `SELECT entity, payload FROM entities ORDER BY entity, id`)
	if err != nil {
		return snap, storeErr("load entities", err)
	}
	for rows.Next() {
		var entity string
		var payload []byte
		if err := rows.Scan(&entity, &payload); err != nil {
			_ = rows.Close()
			return snap, storeErr("scan entity", err)
		}
		e, err := domain.DecodeEntity(domain.EntityType(entity), payload)
		if err != nil {
			_ = rows.Close()
			return snap, storeErr("decode entity", err)
		}
		snap.Entities = append(snap.Entities, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return snap, storeErr("iterate entities", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT seq, entity, entity_id, old_status, new_status, actor, tx_id, ts FROM audit_log ORDER BY seq`)
	if err != nil {
		return snap, storeErr("load audit", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r domain.AuditRecord
		var entity string
		var ts time.Time
		if err := rows.Scan(&r.Seq, &entity, &r.EntityID, &r.OldStatus, &r.NewStatus, &r.Actor, &r.TxID, &ts); err != nil {
			return snap, storeErr("scan audit", err)
		}
		r.Entity = domain.EntityType(entity)
		r.Timestamp = ts.UTC()
		snap.Audit = append(snap.Audit, r)
	}
	if err := rows.Err(); err != nil {
		return snap, storeErr("iterate audit", err)
	}
	return snap, nil
}

// SaveEntities upserts the batch in one SQL transaction.
func (s *Store) SaveEntities(ctx context.Context, entities []domain.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, e := range entities {
		ref := e.Ref()
		payload, err := json.Marshal(e)
		if err != nil {
			return storeErr("encode "+ref.String(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities(ref, entity, id, payload) VALUES($1,$2,$3,$4) ON CONFLICT(ref) DO UPDATE SET payload=EXCLUDED.payload`,
			ref.String(), string(ref.Entity), ref.ID, string(payload)); err != nil {
			return storeErr("upsert "+ref.String(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	committed = true
	return nil
}

// AppendAudit inserts one audit record.
func (s *Store) AppendAudit(ctx context.Context, r domain.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(seq, entity, entity_id, old_status, new_status, actor, tx_id, ts) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.Seq, string(r.Entity), r.EntityID, r.OldStatus, r.NewStatus, r.Actor, r.TxID, r.Timestamp.UTC())
	if err != nil {
		return storeErr("append audit", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func storeErr(op string, err error) error {
	return &domain.StoreError{Op: "postgres " + op, Err: err}
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
