// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxTxAttempts = 3

// PostgresBackend stores documents as JSONB rows of the offsync_entities table
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresBackend creates the backend and its table if missing
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PostgresBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &PostgresBackend{pool: pool, logger: logger}
	if err := b.initialize(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initialize(ctx context.Context) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		createSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS offsync_entities (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	PRIMARY KEY (collection, id)
)`
		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create offsync_entities table: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`CREATE INDEX IF NOT EXISTS offsync_entities_scope_idx ON offsync_entities (collection, scope)`); err != nil {
			return fmt.Errorf("failed to create offsync_entities scope index: %w", err)
		}
		return nil
	})
}

func (b *PostgresBackend) Insert(ctx context.Context, doc Document) (Document, error) {
	out := doc
	err := b.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO offsync_entities (collection, id, scope, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (collection, id) DO NOTHING
RETURNING data, created_at, updated_at`,
			doc.Collection, doc.ID, doc.Scope, []byte(doc.Data))
		var data []byte
		if err := row.Scan(&data, &out.CreatedAt, &out.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConflict
			}
			return err
		}
		out.Data = data
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func (b *PostgresBackend) Replace(ctx context.Context, doc Document) (Document, error) {
	out := doc
	err := b.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE offsync_entities
SET scope = $3, data = $4, updated_at = clock_timestamp()
WHERE collection = $1 AND id = $2
RETURNING data, created_at, updated_at`,
			doc.Collection, doc.ID, doc.Scope, []byte(doc.Data))
		var data []byte
		if err := row.Scan(&data, &out.CreatedAt, &out.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		out.Data = data
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, collection, id string) error {
	return b.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM offsync_entities WHERE collection = $1 AND id = $2`, collection, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (b *PostgresBackend) Get(ctx context.Context, collection, id string) (Document, error) {
	doc := Document{Collection: collection, ID: id}
	var data []byte
	err := b.pool.QueryRow(ctx, `
SELECT scope, data, created_at, updated_at FROM offsync_entities
WHERE collection = $1 AND id = $2`, collection, id).
		Scan(&doc.Scope, &data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	doc.Data = data
	return doc, nil
}

func (b *PostgresBackend) List(ctx context.Context, collection, scope string) ([]Document, error) {
	rows, err := b.pool.Query(ctx, `
SELECT id, scope, data, created_at, updated_at FROM offsync_entities
WHERE collection = $1 AND ($2 = '' OR scope = $2)
ORDER BY created_at, id`, collection, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc := Document{Collection: collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &doc.Scope, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", collection, err)
	}
	return docs, nil
}

// inTx runs fn in a transaction, retrying serialization failures and deadlocks
func (b *PostgresBackend) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, b.pool, fn)
		if err == nil || !isRetryablePGTxError(err) {
			return err
		}
		b.logger.Warn("Retrying postgres transaction", "attempt", attempt, "error", err)
		if serr := sleepWithContext(ctx, time.Duration(attempt)*20*time.Millisecond); serr != nil {
			return serr
		}
	}
	return err
}

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
