// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offserver is the reference remote API the sync engine talks to:
// one REST collection per entity type, backed by Postgres or memory.
package offserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist in its collection
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when inserting an id that is already taken
	ErrConflict = errors.New("document already exists")
)

// Document is one stored entity
type Document struct {
	Collection string
	ID         string
	Scope      string // "" when the collection is unscoped
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Backend stores the documents of every collection
type Backend interface {
	Insert(ctx context.Context, doc Document) (Document, error)
	// Replace overwrites an existing document, returning ErrNotFound when absent
	Replace(ctx context.Context, doc Document) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (Document, error)
	// List returns documents in insertion order; scope "" lists the whole collection
	List(ctx context.Context, collection, scope string) ([]Document, error)
}
