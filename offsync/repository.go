// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks ids generated on the device before the server assigns one
const LocalIDPrefix = "tmp-"

// IDGenerator produces local ids for entities added without one
type IDGenerator func() string

// UUIDLocalIDs generates ids of the form tmp-<uuid>
func UUIDLocalIDs() string {
	return LocalIDPrefix + uuid.NewString()
}

// SequentialIDs returns a generator producing <prefix>1, <prefix>2, ...
func SequentialIDs(prefix string) IDGenerator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// RepositoryConfig holds optional settings of a Repository
type RepositoryConfig struct {
	IDs     IDGenerator            // defaults to UUIDLocalIDs
	OnWrite func(entityType string) // called after every committed local write
}

// Repository applies local mutations of one entity type. Each mutation writes the
// record and its queue entry in a single store transaction and never touches the network.
type Repository[E Entity] struct {
	store   Store
	desc    *Descriptor[E]
	ids     IDGenerator
	onWrite func(string)
	logger  *slog.Logger
}

// NewRepository creates a repository for the entity type described by desc
func NewRepository[E Entity](store Store, desc *Descriptor[E], cfg *RepositoryConfig, logger *slog.Logger) (*Repository[E], error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &RepositoryConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = UUIDLocalIDs
	}
	return &Repository[E]{
		store:   store,
		desc:    desc,
		ids:     ids,
		onWrite: cfg.OnWrite,
		logger:  logger.With("entity_type", desc.Type),
	}, nil
}

// EntityType returns the type name this repository manages
func (r *Repository[E]) EntityType() string { return r.desc.Type }

// Add stores a new entity with status NEW and queues its CREATE.
// A local id is generated when the entity has none.
func (r *Repository[E]) Add(ctx context.Context, e E) (*Tracked[E], error) {
	if err := validateEntity(e); err != nil {
		return nil, err
	}
	if e.GetID() == "" {
		e.SetID(r.ids())
	}

	var out *Tracked[E]
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetRecord(ctx, r.desc.Type, e.GetID())
		if err == nil {
			return NewValidationError("id", fmt.Sprintf("%s %q already exists", r.desc.Type, e.GetID()))
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, aliased, err := tx.ResolveAlias(ctx, r.desc.Type, e.GetID()); err != nil {
			return err
		} else if aliased {
			return NewValidationError("id", fmt.Sprintf("%s %q already exists", r.desc.Type, e.GetID()))
		}

		data, scope, err := r.snapshot(ctx, tx, e)
		if err != nil {
			return err
		}
		status, err := Transition(statusNone, EventCreate, false)
		if err != nil {
			return err
		}
		rec := &Record{
			EntityType: r.desc.Type,
			ID:         e.GetID(),
			Scope:      scope,
			Status:     status,
			Data:       data,
		}
		if err := tx.PutRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		if _, err := tx.AppendEntry(ctx, &QueueEntry{
			EntityType: r.desc.Type,
			EntityID:   rec.ID,
			Action:     ActionCreate,
			Payload:    data,
		}); err != nil {
			return fmt.Errorf("failed to queue create: %w", err)
		}
		out, err = tracked(r.desc, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Added local record", "id", e.GetID())
	r.notify()
	return out, nil
}

// Update applies mutate to a stored entity and queues the change.
// While an earlier intent for the entity is still waiting in the queue the new
// snapshot is folded into it instead of queueing a second entry.
func (r *Repository[E]) Update(ctx context.Context, id string, mutate func(E) error) (*Tracked[E], error) {
	var out *Tracked[E]
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := r.getLive(ctx, tx, id)
		if err != nil {
			return err
		}
		e, err := r.desc.decode(rec.Data)
		if err != nil {
			return err
		}
		e.SetID(rec.ID)
		if err := mutate(e); err != nil {
			return asValidationError(err)
		}
		if e.GetID() != rec.ID {
			return NewValidationError("id", "cannot be changed")
		}
		if err := validateEntity(e); err != nil {
			return err
		}

		next, err := Transition(rec.Status, EventEdit, rec.HasRemote)
		if err != nil {
			return err
		}
		data, scope, err := r.snapshot(ctx, tx, e)
		if err != nil {
			return err
		}
		rec.Data = data
		rec.Status = next
		rec.Scope = scope
		if err := tx.PutRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}

		entries, err := tx.ListEntries(ctx, EntryFilter{EntityType: r.desc.Type, EntityID: rec.ID})
		if err != nil {
			return fmt.Errorf("failed to load queued entries: %w", err)
		}
		if n := len(entries); n > 0 {
			last := entries[n-1]
			if last.State == EntryPending && (last.Action == ActionCreate || last.Action == ActionUpdate) {
				last.Payload = data
				last.NextAttemptAt = time.Time{}
				if err := tx.UpdateEntry(ctx, last); err != nil {
					return fmt.Errorf("failed to coalesce queued %s: %w", last.Action, err)
				}
				out, err = tracked(r.desc, rec)
				return err
			}
		}

		action := ActionUpdate
		if !rec.HasRemote && !hasAction(entries, ActionCreate) {
			// the earlier CREATE was rejected; this edit is the resubmission
			action = ActionCreate
		}
		if _, err := tx.AppendEntry(ctx, &QueueEntry{
			EntityType: r.desc.Type,
			EntityID:   rec.ID,
			Action:     action,
			Payload:    data,
		}); err != nil {
			return fmt.Errorf("failed to queue %s: %w", action, err)
		}
		out, err = tracked(r.desc, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.notify()
	return out, nil
}

// Delete removes an entity. A record the server has never seen is dropped together
// with its queued entries; anything else becomes a tombstone with a queued DELETE.
func (r *Repository[E]) Delete(ctx context.Context, id string) error {
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := r.getLive(ctx, tx, id)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, EntryFilter{EntityType: r.desc.Type, EntityID: rec.ID})
		if err != nil {
			return fmt.Errorf("failed to load queued entries: %w", err)
		}

		if !rec.HasRemote && !hasInFlight(entries) {
			if _, err := tx.DeleteEntries(ctx, r.desc.Type, rec.ID, false); err != nil {
				return fmt.Errorf("failed to drop queued entries: %w", err)
			}
			if err := tx.DeleteRecord(ctx, r.desc.Type, rec.ID); err != nil {
				return fmt.Errorf("failed to delete record: %w", err)
			}
			return nil
		}

		next, err := Transition(rec.Status, EventDelete, rec.HasRemote)
		if err != nil {
			return err
		}
		rec.Status = next
		rec.Deleted = true
		if err := tx.PutRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to tombstone record: %w", err)
		}
		for _, entry := range entries {
			if entry.State == EntryPending && entry.Action == ActionUpdate {
				if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
					return fmt.Errorf("failed to drop superseded update: %w", err)
				}
			}
		}
		if _, err := tx.AppendEntry(ctx, &QueueEntry{
			EntityType: r.desc.Type,
			EntityID:   rec.ID,
			Action:     ActionDelete,
			Payload:    rec.Data,
		}); err != nil {
			return fmt.Errorf("failed to queue delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.notify()
	return nil
}

// GetAll returns every live (not tombstoned) entity of this type
func (r *Repository[E]) GetAll(ctx context.Context) ([]*Tracked[E], error) {
	return r.list(ctx, RecordFilter{})
}

// GetByScope returns the live entities of one scope
func (r *Repository[E]) GetByScope(ctx context.Context, scope string) ([]*Tracked[E], error) {
	if scope == "" {
		return r.list(ctx, RecordFilter{})
	}
	return r.list(ctx, RecordFilter{Scope: scope})
}

// Failed returns the entities whose last delivery failed, including
// tombstones whose DELETE has not reached the server yet
func (r *Repository[E]) Failed(ctx context.Context) ([]*Tracked[E], error) {
	return r.list(ctx, RecordFilter{Status: StatusFailed, IncludeDeleted: true})
}

// GetByID returns one live entity
func (r *Repository[E]) GetByID(ctx context.Context, id string) (*Tracked[E], error) {
	var out *Tracked[E]
	err := r.store.View(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := r.getLive(ctx, tx, id)
		if err != nil {
			return err
		}
		out, err = tracked(r.desc, rec)
		return err
	})
	return out, err
}

// Entries returns the queued intents of one entity in delivery order
func (r *Repository[E]) Entries(ctx context.Context, id string) ([]*QueueEntry, error) {
	var out []*QueueEntry
	err := r.store.View(ctx, func(ctx context.Context, tx Tx) error {
		id, err := currentID(ctx, tx, r.desc.Type, id)
		if err != nil {
			return err
		}
		out, err = tx.ListEntries(ctx, EntryFilter{EntityType: r.desc.Type, EntityID: id})
		return err
	})
	return out, err
}

// Retry clears the backoff of the entity's queued entries so the next drain attempts them
func (r *Repository[E]) Retry(ctx context.Context, id string) error {
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := currentID(ctx, tx, r.desc.Type, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetRecord(ctx, r.desc.Type, current); err != nil {
			return r.notFound(err, id)
		}
		entries, err := tx.ListEntries(ctx, EntryFilter{EntityType: r.desc.Type, EntityID: current, State: EntryPending})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			entry.NextAttemptAt = time.Time{}
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return fmt.Errorf("failed to reset backoff: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.notify()
	return nil
}

func (r *Repository[E]) list(ctx context.Context, filter RecordFilter) ([]*Tracked[E], error) {
	var out []*Tracked[E]
	err := r.store.View(ctx, func(ctx context.Context, tx Tx) error {
		recs, err := tx.ListRecords(ctx, r.desc.Type, filter)
		if err != nil {
			return err
		}
		out = make([]*Tracked[E], 0, len(recs))
		for _, rec := range recs {
			t, err := tracked(r.desc, rec)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// getLive loads a non-tombstoned record. A local id the server has since
// replaced still finds the record under its new id.
func (r *Repository[E]) getLive(ctx context.Context, tx Tx, id string) (*Record, error) {
	current, err := currentID(ctx, tx, r.desc.Type, id)
	if err != nil {
		return nil, err
	}
	rec, err := tx.GetRecord(ctx, r.desc.Type, current)
	if err != nil {
		return nil, r.notFound(err, id)
	}
	if rec.Deleted {
		return nil, &NotFoundError{EntityType: r.desc.Type, ID: id}
	}
	return rec, nil
}

// snapshot encodes e with every reference pointing at the current id of its target
func (r *Repository[E]) snapshot(ctx context.Context, tx Tx, e E) (json.RawMessage, string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s: %w", r.desc.Type, err)
	}
	data, dangling, err := resolveReferences(ctx, tx, r.desc.References, data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve references: %w", err)
	}
	if len(dangling) > 0 {
		return nil, "", NewValidationError(dangling[0], "references a local record that does not exist")
	}
	resolved, err := r.desc.decode(data)
	if err != nil {
		return nil, "", err
	}
	return data, r.desc.scopeOf(resolved), nil
}

func (r *Repository[E]) notFound(err error, id string) error {
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{EntityType: r.desc.Type, ID: id}
	}
	return err
}

func (r *Repository[E]) notify() {
	if r.onWrite != nil {
		r.onWrite(r.desc.Type)
	}
}

func validateEntity(e Entity) error {
	if err := e.Validate(); err != nil {
		return asValidationError(err)
	}
	return nil
}

func asValidationError(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &ValidationError{Message: err.Error()}
}

func hasAction(entries []*QueueEntry, action Action) bool {
	for _, e := range entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

func hasInFlight(entries []*QueueEntry) bool {
	for _, e := range entries {
		if e.State == EntryInFlight {
			return true
		}
	}
	return false
}
