// Package sqlite provides a SQLite-backed domain.PersistentStore using the
// pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"taskledger/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "taskledger.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		ref TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		id INTEGER NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY,
		entity TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		ts TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_entity ON audit_log(entity, entity_id, seq)`,
}

// Store writes each committed entity as a JSON row keyed by its ref and each
// audit record as a row in audit_log.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, stmt := range append([]string{`PRAGMA journal_mode=WAL`}, schema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Load reads every entity row and the audit log ordered by sequence.
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
		var entity, ts string
		if err := rows.Scan(&r.Seq, &entity, &r.EntityID, &r.OldStatus, &r.NewStatus, &r.Actor, &r.TxID, &ts); err != nil {
			return snap, storeErr("scan audit", err)
		}
		r.Entity = domain.EntityType(entity)
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return snap, storeErr("parse audit timestamp", err)
		}
		snap.Audit = append(snap.Audit, r)
	}
	if err := rows.Err(); err != nil {
		return snap, storeErr("iterate audit", err)
	}
	return snap, nil
}

// SaveEntities upserts the batch in one SQL transaction.
func (s *Store) SaveEntities(ctx context.Context, entities []domain.Entity) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer func() {
		if retErr != nil {
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
			`INSERT INTO entities(ref, entity, id, payload) VALUES(?,?,?,?) ON CONFLICT(ref) DO UPDATE SET payload=excluded.payload`,
			ref.String(), string(ref.Entity), ref.ID, string(payload)); err != nil {
			return storeErr("upsert "+ref.String(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// AppendAudit inserts one audit record.
func (s *Store) AppendAudit(ctx context.Context, r domain.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(seq, entity, entity_id, old_status, new_status, actor, tx_id, ts) VALUES(?,?,?,?,?,?,?,?)`,
		r.Seq, string(r.Entity), r.EntityID, r.OldStatus, r.NewStatus, r.Actor, r.TxID, r.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeErr("append audit", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

func storeErr(op string, err error) error {
	return &domain.StoreError{Op: "sqlite " + op, Err: err}
}
