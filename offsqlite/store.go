// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offsqlite implements the offsync local store on SQLite.
//
// Two tables hold everything: _offsync_records (one row per entity, keyed by
// type and id) and _offsync_queue (the outbox, ordered by its autoincrement id).
// _offsync_aliases remembers which server id replaced each local id.
package offsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const (
	// DriverCgo is the mattn/go-sqlite3 driver
	DriverCgo = "sqlite3"
	// DriverPure is the cgo-free modernc.org/sqlite driver
	DriverPure = "sqlite"
)

// Config holds configuration for opening a Store
type Config struct {
	Path        string        // database file, or ":memory:"
	Driver      string        // DriverCgo (default) or DriverPure
	BusyTimeout time.Duration // 5s
}

// Store is an offsync.Store backed by a single SQLite connection
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ offsync.Store = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path and prepares the sync tables.
// Entries left in flight by a previous process are returned to the queue.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path must be provided")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverCgo
	}
	if cfg.Driver != DriverCgo && cfg.Driver != DriverPure {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection: serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, logger: logger}
	if err := s.initialize(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initialize(ctx context.Context, cfg Config) error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		fmt.Sprintf(`PRAGMA busy_timeout=%d`, cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS _offsync_records (
			entity_type TEXT    NOT NULL,
			id          TEXT    NOT NULL,
			scope       TEXT    NOT NULL DEFAULT '',
			status      TEXT    NOT NULL,
			last_error  TEXT    NOT NULL DEFAULT '',
			has_remote  INTEGER NOT NULL DEFAULT 0,
			deleted     INTEGER NOT NULL DEFAULT 0,  -- tombstone awaiting DELETE delivery
			data        TEXT    NOT NULL,            -- entity JSON
			updated_at  INTEGER NOT NULL,            -- unix nanoseconds
			PRIMARY KEY (entity_type, id)
		)`,
		`CREATE INDEX IF NOT EXISTS _offsync_records_scope ON _offsync_records (entity_type, scope)`,

		`CREATE TABLE IF NOT EXISTS _offsync_queue (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,  -- FIFO order
			entity_type     TEXT    NOT NULL,
			entity_id       TEXT    NOT NULL,
			action          TEXT    NOT NULL CHECK (action IN ('CREATE','UPDATE','DELETE')),
			payload         TEXT,
			state           TEXT    NOT NULL DEFAULT 'PENDING' CHECK (state IN ('PENDING','IN_FLIGHT')),
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT    NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS _offsync_queue_entity ON _offsync_queue (entity_type, entity_id, id)`,

		// local ids replaced by server ids, so callers holding a local id still reach the record
		`CREATE TABLE IF NOT EXISTS _offsync_aliases (
			entity_type TEXT    NOT NULL,
			local_id    TEXT    NOT NULL,
			server_id   TEXT    NOT NULL,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (entity_type, local_id)
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create sync table: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE _offsync_queue SET state = 'PENDING' WHERE state = 'IN_FLIGHT'`)
	if err != nil {
		return fmt.Errorf("failed to reset in-flight entries: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("Returned interrupted entries to the sync queue", "count", n)
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx offsync.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{tx: sqlTx, now: time.Now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx offsync.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(ctx, &tx{tx: sqlTx, now: time.Now, readOnly: true})
}
