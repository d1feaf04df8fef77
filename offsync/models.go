// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation intent carried by a queue entry
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether a is one of the declared actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// EntryState is the persisted delivery state of a queue entry.
// Delivered and dead entries are removed, so only two states are ever stored.
type EntryState string

const (
	EntryPending  EntryState = "PENDING"
	EntryInFlight EntryState = "IN_FLIGHT"
)

// Record is the stored form of an entity together with its sync metadata
type Record struct {
	EntityType string
	ID         string
	Scope      string // scope key used by pull-merge (e.g. organization id)
	Status     Status
	LastError  string          // cleared on every successful delivery
	HasRemote  bool            // the server knows this record (CREATE delivered or pulled)
	Deleted    bool            // tombstone kept until the DELETE is delivered
	Data       json.RawMessage // entity fields as JSON
	UpdatedAt  time.Time
}

// QueueEntry is one pending mutation intent in the outbox
type QueueEntry struct {
	ID            int64 // monotonic; defines FIFO order
	EntityType    string
	EntityID      string
	Action        Action
	Payload       json.RawMessage // snapshot taken when the intent was recorded
	State         EntryState
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// Due reports whether the entry may be attempted at now
func (e *QueueEntry) Due(now time.Time) bool {
	return e.NextAttemptAt.IsZero() || !e.NextAttemptAt.After(now)
}

// RecordFilter narrows ListRecords
type RecordFilter struct {
	Scope          string // empty matches every scope
	Status         Status // zero matches every status
	IncludeDeleted bool
}

// EntryFilter narrows ListEntries. Results are always ordered by entry ID.
type EntryFilter struct {
	EntityType string // empty matches every type
	EntityID   string // empty matches every entity
	State      EntryState
	Limit      int
}

// Entity is implemented by every domain type the engine stores and syncs.
// Implementations are pointer types so the engine can assign server ids.
type Entity interface {
	GetID() string
	SetID(id string)
	Validate() error
}

// Reference declares that a JSON field of one entity type holds the id of another entity type
type Reference struct {
	Field  string
	Target string
}

// Descriptor tells the generic repository, sync service and reconciler how to handle one entity type
type Descriptor[E Entity] struct {
	Type       string
	New        func() E
	Scope      func(E) string // optional
	References []Reference
}

func (d *Descriptor[E]) validate() error {
	if d == nil {
		return fmt.Errorf("descriptor cannot be nil")
	}
	if d.Type == "" {
		return fmt.Errorf("descriptor type must be provided")
	}
	if d.New == nil {
		return fmt.Errorf("descriptor %s: New must be provided", d.Type)
	}
	return nil
}

func (d *Descriptor[E]) scopeOf(e E) string {
	if d.Scope == nil {
		return ""
	}
	return d.Scope(e)
}

func (d *Descriptor[E]) decode(data json.RawMessage) (E, error) {
	e := d.New()
	if err := json.Unmarshal(data, e); err != nil {
		var zero E
		return zero, fmt.Errorf("failed to decode %s payload: %w", d.Type, err)
	}
	return e, nil
}

// Tracked is an entity as seen by local readers, together with its sync state
type Tracked[E Entity] struct {
	Entity    E
	Status    Status
	LastError string
	HasRemote bool
	Deleted   bool
	UpdatedAt time.Time
}

func tracked[E Entity](d *Descriptor[E], rec *Record) (*Tracked[E], error) {
	e, err := d.decode(rec.Data)
	if err != nil {
		return nil, err
	}
	// the row key is authoritative; payloads written before an id rewrite may lag
	e.SetID(rec.ID)
	return &Tracked[E]{
		Entity:    e,
		Status:    rec.Status,
		LastError: rec.LastError,
		HasRemote: rec.HasRemote,
		Deleted:   rec.Deleted,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
