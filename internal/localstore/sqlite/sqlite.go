// Package sqlite implements the local slot store on an embedded SQLite file.
//
// The database runs in embedded mode using the ncruces/go-sqlite3 driver (a
// wasm build of SQLite, no cgo) with WAL enabled so the CLI and a running
// `farmbook serve` can share the file.
//
// Layout:
//   - Database file: $XDG_DATA_HOME/farmbook/farmbook.db by default
//   - Table slots(name, payload, updated_at): one row per named slot, payload
//     is the JSON snapshot
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kpfarm/farmbook/internal/localstore"
	"github.com/kpfarm/farmbook/internal/schema"
)

// Store is a localstore.Store backed by one row of a SQLite table.
type Store struct {
	conn *sql.DB
	path string
	slot string
}

var _ localstore.Store = (*Store)(nil)

// Open creates a store at path using the given slot name.
//
// The parent directory and schema are created when missing. An empty slot
// selects localstore.DefaultSlot.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := sqlite.Open("/home/me/.local/share/farmbook/farmbook.db", "")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path, slot string) (*Store, error) {
	if slot == "" {
		slot = localstore.DefaultSlot
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One slot row is written at a time; a small pool is plenty.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, slot: slot}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the slots table. It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS slots (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create slots table: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Slot returns the slot name this store reads and writes.
func (s *Store) Slot() string { return s.slot }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Load implements localstore.Store.
func (s *Store) Load(ctx context.Context) (schema.Snapshot, error) {
	var payload []byte
	err := s.conn.QueryRowContext(ctx, `SELECT payload FROM slots WHERE name = ?`, s.slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Snapshot{}, localstore.ErrNotFound
	}
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("failed to read slot %s: %w", s.slot, err)
	}
	return schema.DecodeSnapshot(payload)
}

// Save implements localstore.Store.
func (s *Store) Save(ctx context.Context, snap schema.Snapshot) error {
	payload, err := schema.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	const query = `
	INSERT INTO slots (name, payload, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, s.slot, payload, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", s.slot, err)
	}
	return nil
}

// Clear implements localstore.Store.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM slots WHERE name = ?`, s.slot); err != nil {
		return fmt.Errorf("failed to clear slot %s: %w", s.slot, err)
	}
	return nil
}

// UpdatedAt returns when the slot was last written, or the zero time if it is
// empty.
func (s *Store) UpdatedAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT updated_at FROM slots WHERE name = ?`, s.slot).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read slot timestamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot timestamp %q: %w", raw, err)
	}
	return t, nil
}
