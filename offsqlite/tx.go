// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

var errReadOnly = errors.New("write attempted in read-only transaction")

type tx struct {
	tx       *sql.Tx
	now      func() time.Time
	readOnly bool
}

const recordColumns = `entity_type, id, scope, status, last_error, has_remote, deleted, data, updated_at`

const entryColumns = `id, entity_type, entity_id, action, payload, state, attempts, next_attempt_at, last_error, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*offsync.Record, error) {
	var (
		rec        offsync.Record
		status     string
		data       string
		hasRemote  bool
		deleted    bool
		updatedAtN int64
	)
	if err := row.Scan(&rec.EntityType, &rec.ID, &rec.Scope, &status, &rec.LastError, &hasRemote, &deleted, &data, &updatedAtN); err != nil {
		return nil, err
	}
	st, err := offsync.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("record %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	rec.Status = st
	rec.HasRemote = hasRemote
	rec.Deleted = deleted
	rec.Data = []byte(data)
	rec.UpdatedAt = fromNanos(updatedAtN)
	return &rec, nil
}

func scanEntry(row scanner) (*offsync.QueueEntry, error) {
	var (
		e        offsync.QueueEntry
		action   string
		state    string
		payload  sql.NullString
		nextN    int64
		createdN int64
	)
	if err := row.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &payload, &state, &e.Attempts, &nextN, &e.LastError, &createdN); err != nil {
		return nil, err
	}
	e.Action = offsync.Action(action)
	e.State = offsync.EntryState(state)
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	e.NextAttemptAt = fromNanos(nextN)
	e.CreatedAt = fromNanos(createdN)
	return &e, nil
}

func (t *tx) GetRecord(ctx context.Context, entityType, id string) (*offsync.Record, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM _offsync_records WHERE entity_type = ? AND id = ?`, entityType, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &offsync.NotFoundError{EntityType: entityType, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s/%s: %w", entityType, id, err)
	}
	return rec, nil
}

func (t *tx) ListRecords(ctx context.Context, entityType string, filter offsync.RecordFilter) ([]*offsync.Record, error) {
	where := []string{`entity_type = ?`}
	args := []any{entityType}
	if filter.Scope != "" {
		where = append(where, `scope = ?`)
		args = append(args, filter.Scope)
	}
	if filter.Status != 0 {
		where = append(where, `status = ?`)
		args = append(args, filter.Status.String())
	}
	if !filter.IncludeDeleted {
		where = append(where, `deleted = 0`)
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM _offsync_records WHERE `+strings.Join(where, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", entityType, err)
	}
	defer rows.Close()

	var out []*offsync.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", entityType, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *tx) PutRecord(ctx context.Context, rec *offsync.Record) error {
	if t.readOnly {
		return errReadOnly
	}
	rec.UpdatedAt = t.now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO _offsync_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			scope = excluded.scope,
			status = excluded.status,
			last_error = excluded.last_error,
			has_remote = excluded.has_remote,
			deleted = excluded.deleted,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.EntityType, rec.ID, rec.Scope, rec.Status.String(), rec.LastError,
		rec.HasRemote, rec.Deleted, string(rec.Data), toNanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to store record %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	return nil
}

func (t *tx) DeleteRecord(ctx context.Context, entityType, id string) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM _offsync_records WHERE entity_type = ? AND id = ?`, entityType, id); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", entityType, id, err)
	}
	return nil
}

func (t *tx) RenameRecord(ctx context.Context, entityType, oldID, newID string) error {
	if t.readOnly {
		return errReadOnly
	}
	if oldID == newID {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM _offsync_records WHERE entity_type = ? AND id = ?`, entityType, newID); err != nil {
		return fmt.Errorf("failed to clear record %s/%s: %w", entityType, newID, err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE _offsync_records SET id = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		newID, toNanos(t.now()), entityType, oldID)
	if err != nil {
		return fmt.Errorf("failed to rename record %s/%s: %w", entityType, oldID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &offsync.NotFoundError{EntityType: entityType, ID: oldID}
	}
	return nil
}

func (t *tx) AppendEntry(ctx context.Context, entry *offsync.QueueEntry) (int64, error) {
	if t.readOnly {
		return 0, errReadOnly
	}
	if !entry.Action.Valid() {
		return 0, fmt.Errorf("invalid queue action %q", entry.Action)
	}
	now := t.now()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO _offsync_queue (entity_type, entity_id, action, payload, state, attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, 'PENDING', 0, 0, '', ?)`,
		entry.EntityType, entry.EntityID, string(entry.Action), nullablePayload(entry.Payload), toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("failed to append %s entry for %s/%s: %w", entry.Action, entry.EntityType, entry.EntityID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read entry id: %w", err)
	}
	entry.ID = id
	entry.State = offsync.EntryPending
	entry.Attempts = 0
	entry.NextAttemptAt = time.Time{}
	entry.LastError = ""
	entry.CreatedAt = now
	return id, nil
}

func (t *tx) ListEntries(ctx context.Context, filter offsync.EntryFilter) ([]*offsync.QueueEntry, error) {
	var where []string
	var args []any
	if filter.EntityType != "" {
		where = append(where, `entity_type = ?`)
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, `entity_id = ?`)
		args = append(args, filter.EntityID)
	}
	if filter.State != "" {
		where = append(where, `state = ?`)
		args = append(args, string(filter.State))
	}
	q := `SELECT ` + entryColumns + ` FROM _offsync_queue`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var out []*offsync.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) UpdateEntry(ctx context.Context, entry *offsync.QueueEntry) error {
	if t.readOnly {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE _offsync_queue SET
			entity_id = ?, payload = ?, state = ?, attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		entry.EntityID, nullablePayload(entry.Payload), string(entry.State), entry.Attempts,
		toNanos(entry.NextAttemptAt), entry.LastError, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %d: %w", entry.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue entry %d: %w", entry.ID, offsync.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteEntry(ctx context.Context, id int64) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM _offsync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	return nil
}

func (t *tx) DeleteEntries(ctx context.Context, entityType, entityID string, pendingOnly bool) (int, error) {
	if t.readOnly {
		return 0, errReadOnly
	}
	q := `DELETE FROM _offsync_queue WHERE entity_type = ? AND entity_id = ?`
	if pendingOnly {
		q += ` AND state = 'PENDING'`
	}
	res, err := t.tx.ExecContext(ctx, q, entityType, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue entries of %s/%s: %w", entityType, entityID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *tx) ResetInFlight(ctx context.Context, entityType string) (int, error) {
	if t.readOnly {
		return 0, errReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE _offsync_queue SET state = 'PENDING' WHERE entity_type = ? AND state = 'IN_FLIGHT'`, entityType)
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight %s entries: %w", entityType, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *tx) PutAlias(ctx context.Context, entityType, localID, serverID string) error {
	if t.readOnly {
		return errReadOnly
	}
	// earlier aliases pointing at localID now lead straight to serverID
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE _offsync_aliases SET server_id = ? WHERE entity_type = ? AND server_id = ?`,
		serverID, entityType, localID); err != nil {
		return fmt.Errorf("failed to update aliases of %s/%s: %w", entityType, localID, err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO _offsync_aliases (entity_type, local_id, server_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, local_id) DO UPDATE SET server_id = excluded.server_id`,
		entityType, localID, serverID, toNanos(t.now())); err != nil {
		return fmt.Errorf("failed to store alias %s/%s: %w", entityType, localID, err)
	}
	return nil
}

func (t *tx) ResolveAlias(ctx context.Context, entityType, id string) (string, bool, error) {
	var serverID string
	err := t.tx.QueryRowContext(ctx,
		`SELECT server_id FROM _offsync_aliases WHERE entity_type = ? AND local_id = ?`,
		entityType, id).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve alias %s/%s: %w", entityType, id, err)
	}
	return serverID, true, nil
}

func nullablePayload(p []byte) any {
	if p == nil {
		return nil
	}
	return string(p)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
