// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
)

// Store is the process-local durable store holding entity records and the sync queue.
// One Store is opened per process and handed to every repository, service and reconciler.
type Store interface {
	// RunInTx runs fn inside a read-write transaction. Everything fn writes commits
	// together when it returns nil and is discarded otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn against a consistent read-only snapshot
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}

// Tx is the set of operations available inside a store transaction
type Tx interface {
	// GetRecord returns the record or an error matching ErrNotFound
	GetRecord(ctx context.Context, entityType, id string) (*Record, error)
	ListRecords(ctx context.Context, entityType string, filter RecordFilter) ([]*Record, error)
	// PutRecord inserts or replaces the record and stamps UpdatedAt
	PutRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, entityType, id string) error
	// RenameRecord moves a record to a new id, replacing any record already stored under newID
	RenameRecord(ctx context.Context, entityType, oldID, newID string) error

	// AppendEntry stores a new entry in PENDING state and returns its id
	AppendEntry(ctx context.Context, entry *QueueEntry) (int64, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]*QueueEntry, error)
	UpdateEntry(ctx context.Context, entry *QueueEntry) error
	DeleteEntry(ctx context.Context, id int64) error
	// DeleteEntries removes the entries of one entity; pendingOnly keeps in-flight ones
	DeleteEntries(ctx context.Context, entityType, entityID string, pendingOnly bool) (int, error)
	// ResetInFlight moves the in-flight entries of one entity type back to pending
	ResetInFlight(ctx context.Context, entityType string) (int, error)

	// PutAlias records that the server replaced localID with serverID
	PutAlias(ctx context.Context, entityType, localID, serverID string) error
	// ResolveAlias returns the server id that replaced id, if any
	ResolveAlias(ctx context.Context, entityType, id string) (string, bool, error)
}
