// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ServiceConfig holds configuration of a SyncService
type ServiceConfig struct {
	Workers     int           // concurrent entities per service, e.g. 4
	CallTimeout time.Duration // per remote call, e.g. 30s
	BackoffMin  time.Duration // first retry delay, e.g. 1s
	BackoffMax  time.Duration // retry delay cap, e.g. 60s

	Metrics         MetricsRecorder // optional
	LogStageTimings bool
	Events          *EventBus // optional
	Schema          *Schema   // optional; needed to propagate ids into referencing types
}

// DefaultServiceConfig returns the configuration used when none is given
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Workers:     4,
		CallTimeout: 30 * time.Second,
		BackoffMin:  1 * time.Second,
		BackoffMax:  60 * time.Second,
	}
}

// DrainOptions tunes a single drain
type DrainOptions struct {
	IgnoreBackoff bool // attempt entries whose retry delay has not elapsed yet
}

// DrainReport counts what a drain did. Every entity contributes to at most one of
// the stop counters (Retried, Deferred, Waiting, Busy, Aborted).
type DrainReport struct {
	Delivered int // entries accepted by the remote or resolved locally
	Dead      int // entries rejected permanently and dropped
	Retried   int // entities stopped by a transient failure
	Deferred  int // entities waiting for a referenced record to reach the server
	Waiting   int // entities whose head entry is still backing off
	Busy      int // entities drained by someone else right now
	Aborted   int // entities left untouched because the connection went away
}

func (r *DrainReport) merge(o DrainReport) {
	r.Delivered += o.Delivered
	r.Dead += o.Dead
	r.Retried += o.Retried
	r.Deferred += o.Deferred
	r.Waiting += o.Waiting
	r.Busy += o.Busy
	r.Aborted += o.Aborted
}

type stepOutcome int

const (
	stepIdle stepOutcome = iota
	stepClaimed
	stepDelivered
	stepDead
	stepRetry
	stepAborted
	stepDeferred
	stepWaiting
	stepBusy
)

type stepResult struct {
	outcome stepOutcome
	newID   string // set with its lock held when a CREATE replaced the local id
}

// SyncService delivers the queued intents of one entity type to the remote API.
// Entries of one entity are delivered strictly in queue order; different entities
// are drained concurrently on a bounded pool.
type SyncService[E Entity] struct {
	store   Store
	desc    *Descriptor[E]
	remote  Remote[E]
	conn    *Connectivity
	cfg     *ServiceConfig
	logger  *slog.Logger
	backoff Backoff
	obs     stageObserver
	workers *semaphore.Weighted
	locks   *keyedMutex
	now     func() time.Time
}

// NewSyncService creates a sync service for the entity type described by desc.
// A nil conn is treated as always online.
func NewSyncService[E Entity](store Store, desc *Descriptor[E], remote Remote[E], conn *Connectivity, config *ServiceConfig, logger *slog.Logger) (*SyncService[E], error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("entity_type", desc.Type)

	return &SyncService[E]{
		store:   store,
		desc:    desc,
		remote:  remote,
		conn:    conn,
		cfg:     config,
		logger:  logger,
		backoff: Backoff{Min: config.BackoffMin, Max: config.BackoffMax},
		obs:     stageObserver{recorder: config.Metrics, logTimings: config.LogStageTimings, logger: logger},
		workers: semaphore.NewWeighted(int64(config.Workers)),
		locks:   newKeyedMutex(),
		now:     time.Now,
	}, nil
}

// EntityType returns the type name this service drains
func (s *SyncService[E]) EntityType() string { return s.desc.Type }

// Recover returns entries left in flight by a previous process to the queue.
// It must run before the first drain after startup.
func (s *SyncService[E]) Recover(ctx context.Context) error {
	var reset, restored int
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.ResetInFlight(ctx, s.desc.Type)
		if err != nil {
			return fmt.Errorf("failed to reset in-flight entries: %w", err)
		}
		reset = n
		recs, err := tx.ListRecords(ctx, s.desc.Type, RecordFilter{Status: StatusPending, IncludeDeleted: true})
		if err != nil {
			return fmt.Errorf("failed to load pending records: %w", err)
		}
		for _, rec := range recs {
			next, err := Transition(rec.Status, EventAbort, rec.HasRemote)
			if err != nil {
				return err
			}
			rec.Status = next
			if err := tx.PutRecord(ctx, rec); err != nil {
				return err
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if reset > 0 || restored > 0 {
		s.logger.Info("Recovered interrupted deliveries", "entries", reset, "records", restored)
	}
	return nil
}

// Drain attempts every queued entry of this entity type once. Delivery failures are
// recorded on the entries and records; the returned error only reports store failures.
func (s *SyncService[E]) Drain(ctx context.Context, opts DrainOptions) (DrainReport, error) {
	var report DrainReport
	start := s.obs.start()

	if !s.conn.IsOnline() {
		return report, nil
	}

	var entries []*QueueEntry
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		entries, err = tx.ListEntries(ctx, EntryFilter{EntityType: s.desc.Type})
		return err
	})
	if err != nil {
		return report, fmt.Errorf("failed to list queue: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range entityOrder(entries) {
		if err := s.workers.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer s.workers.Release(1)
			res, err := s.drainEntity(gctx, id, opts)
			mu.Lock()
			report.merge(res)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	s.obs.observe(ctx, StageTiming{
		Operation:  MetricsOpDrain,
		Stage:      MetricsStageTotal,
		EntityType: s.desc.Type,
		Count:      report.Delivered + report.Dead,
		Error:      err != nil,
	}, start)
	if report.Delivered+report.Dead+report.Retried > 0 {
		s.logger.Info("Drained sync queue",
			"delivered", report.Delivered,
			"dead", report.Dead,
			"retried", report.Retried,
			"deferred", report.Deferred,
			"aborted", report.Aborted)
	}
	return report, err
}

// DrainEntity drains the queued entries of a single entity
func (s *SyncService[E]) DrainEntity(ctx context.Context, id string, opts DrainOptions) (DrainReport, error) {
	if !s.conn.IsOnline() {
		return DrainReport{}, nil
	}
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return DrainReport{}, err
	}
	defer s.workers.Release(1)
	return s.drainEntity(ctx, id, opts)
}

func (s *SyncService[E]) drainEntity(ctx context.Context, id string, opts DrainOptions) (DrainReport, error) {
	var res DrainReport
	if !s.locks.TryLock(id) {
		res.Busy++
		return res, nil
	}
	held := id
	defer func() { s.locks.Unlock(held) }()

	for {
		if ctx.Err() != nil {
			return res, nil
		}
		if !s.conn.IsOnline() {
			res.Aborted++
			return res, nil
		}
		st, err := s.step(ctx, id, opts)
		if err != nil {
			return res, err
		}
		switch st.outcome {
		case stepDelivered:
			res.Delivered++
			if st.newID != "" {
				s.locks.Unlock(held)
				held = st.newID
				id = st.newID
			}
		case stepDead:
			res.Dead++
		case stepRetry:
			res.Retried++
			return res, nil
		case stepAborted:
			res.Aborted++
			return res, nil
		case stepDeferred:
			res.Deferred++
			return res, nil
		case stepWaiting:
			res.Waiting++
			return res, nil
		case stepBusy:
			res.Busy++
			return res, nil
		default:
			return res, nil
		}
	}
}

// step claims the head entry of one entity, delivers it and records the outcome
func (s *SyncService[E]) step(ctx context.Context, id string, opts DrainOptions) (stepResult, error) {
	var (
		head    *QueueEntry
		action  Action
		outcome = stepIdle
		local   bool
	)
	now := s.now()
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		entries, err := tx.ListEntries(ctx, EntryFilter{EntityType: s.desc.Type, EntityID: id, Limit: 1})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		head = entries[0]
		if head.State == EntryInFlight {
			outcome = stepBusy
			return nil
		}
		if !opts.IgnoreBackoff && !head.Due(now) {
			outcome = stepWaiting
			return nil
		}

		rec, err := tx.GetRecord(ctx, s.desc.Type, id)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("Dropping queue entry without record", "entry_id", head.ID, "id", id, "action", head.Action)
			outcome = stepDead
			return tx.DeleteEntry(ctx, head.ID)
		}
		if err != nil {
			return err
		}

		action = head.Action
		if action == ActionDelete && !rec.HasRemote {
			// the server never saw the record; nothing to send
			if _, err := tx.DeleteEntries(ctx, s.desc.Type, id, false); err != nil {
				return err
			}
			outcome = stepDelivered
			local = true
			return tx.DeleteRecord(ctx, s.desc.Type, id)
		}
		if action == ActionUpdate && !rec.HasRemote {
			// the CREATE ahead of this entry was rejected; send the newest snapshot as a CREATE
			action = ActionCreate
		}
		if action != ActionDelete {
			payload, dangling, err := resolveReferences(ctx, tx, s.desc.References, head.Payload)
			if err != nil {
				return err
			}
			if len(dangling) > 0 {
				s.logger.Warn("Deferring entry referencing an unknown local record", "id", id, "fields", dangling)
				outcome = stepDeferred
				return nil
			}
			head.Payload = payload
			blocked, err := s.blockedByReference(ctx, tx, head.Payload)
			if err != nil {
				return err
			}
			if blocked {
				outcome = stepDeferred
				return nil
			}
		}

		head.State = EntryInFlight
		if err := tx.UpdateEntry(ctx, head); err != nil {
			return err
		}
		if action != ActionDelete {
			if next, err := Transition(rec.Status, EventDispatch, rec.HasRemote); err == nil {
				rec.Status = next
				if err := tx.PutRecord(ctx, rec); err != nil {
					return err
				}
			}
		}
		outcome = stepClaimed
		return nil
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	if local {
		s.logger.Debug("Resolved delete of unsynced record locally", "id", id)
		s.publish(SyncEvent{Kind: KindDelivered, EntityID: id, Action: ActionDelete})
	}
	if outcome != stepClaimed {
		return stepResult{outcome: outcome}, nil
	}

	return s.deliver(ctx, head, action)
}

func (s *SyncService[E]) deliver(ctx context.Context, head *QueueEntry, action Action) (stepResult, error) {
	// resolution must be recorded even when the drain itself is being cancelled
	rctx := context.WithoutCancel(ctx)

	e, err := s.desc.decode(head.Payload)
	if err != nil && action != ActionDelete {
		return s.resolveDead(rctx, head, action, &PermanentSyncError{Op: string(action), Err: err})
	}
	if err == nil {
		e.SetID(head.EntityID)
	}

	start := s.obs.start()
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	var got E
	var callErr error
	switch action {
	case ActionCreate:
		got, callErr = s.remote.Create(callCtx, e)
	case ActionUpdate:
		got, callErr = s.remote.Update(callCtx, e)
	case ActionDelete:
		callErr = s.remote.Delete(callCtx, head.EntityID)
	default:
		callErr = &PermanentSyncError{Op: string(action), Err: fmt.Errorf("unknown action %q", action)}
	}
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	var label string
	switch {
	case callErr == nil:
		label = OutcomeDelivered
	case ctx.Err() != nil || errors.Is(callErr, ErrOffline) || !s.conn.IsOnline():
		label = OutcomeOffline
	case IsPermanent(callErr):
		label = OutcomeDead
	default:
		if !IsTransient(callErr) {
			if timedOut {
				callErr = fmt.Errorf("timed out after %s: %w", s.cfg.CallTimeout, callErr)
			}
			callErr = &TransientSyncError{Op: string(action), Err: callErr}
		}
		label = OutcomeRetry
	}
	s.obs.observe(ctx, StageTiming{
		Operation:  MetricsOpDrain,
		Stage:      MetricsStageRemote,
		EntityType: s.desc.Type,
		Outcome:    label,
		Count:      1,
		Error:      callErr != nil,
	}, start)

	start = s.obs.start()
	var (
		res       stepResult
		resultErr error
	)
	switch label {
	case OutcomeDelivered:
		res, resultErr = s.resolveDelivered(rctx, head, action, got)
	case OutcomeOffline:
		res, resultErr = s.resolveAborted(rctx, head, action)
	case OutcomeDead:
		res, resultErr = s.resolveDead(rctx, head, action, callErr)
	default:
		res, resultErr = s.resolveRetry(rctx, head, action, callErr)
	}
	s.obs.observe(ctx, StageTiming{
		Operation:  MetricsOpDrain,
		Stage:      MetricsStageResolve,
		EntityType: s.desc.Type,
		Outcome:    label,
		Count:      1,
		Error:      resultErr != nil,
	}, start)
	return res, resultErr
}

func (s *SyncService[E]) resolveDelivered(ctx context.Context, head *QueueEntry, action Action, got E) (stepResult, error) {
	oldID := head.EntityID
	newID := oldID
	if action == ActionCreate && !isNilEntity(got) && got.GetID() != "" {
		newID = got.GetID()
	}
	rewrite := newID != oldID
	if rewrite {
		s.locks.Lock(newID)
	}

	var final Status
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.DeleteEntry(ctx, head.ID); err != nil {
			return err
		}
		rec, err := tx.GetRecord(ctx, s.desc.Type, oldID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if action == ActionDelete {
			if _, err := tx.DeleteEntries(ctx, s.desc.Type, oldID, false); err != nil {
				return err
			}
			return tx.DeleteRecord(ctx, s.desc.Type, oldID)
		}

		if rewrite {
			if err := s.rewriteID(ctx, tx, oldID, newID); err != nil {
				return fmt.Errorf("failed to rewrite id %s -> %s: %w", oldID, newID, err)
			}
			rec.ID = newID
		}
		rec.HasRemote = true
		rec.LastError = ""
		if next, err := Transition(rec.Status, EventDelivered, true); err == nil {
			rec.Status = next
		}
		final = rec.Status

		if rec.Status == StatusSynced && !isNilEntity(got) {
			// nothing newer is queued, so the server's representation is authoritative
			got.SetID(newID)
			data, err := json.Marshal(got)
			if err != nil {
				return fmt.Errorf("failed to encode delivered %s: %w", s.desc.Type, err)
			}
			rec.Data = data
			rec.Scope = s.desc.scopeOf(got)
		} else if rewrite {
			data, err := s.withID(rec.Data, newID)
			if err != nil {
				return err
			}
			rec.Data = data
		}
		return tx.PutRecord(ctx, rec)
	})
	if err != nil {
		if rewrite {
			s.locks.Unlock(newID)
		}
		s.logger.Error("Failed to record delivery", "id", oldID, "action", action, "error", err)
		if _, abortErr := s.resolveAborted(ctx, head, action); abortErr != nil {
			s.logger.Error("Failed to return entry to queue", "entry_id", head.ID, "error", abortErr)
		}
		return stepResult{}, fmt.Errorf("failed to record delivery of %s %s: %w", action, oldID, err)
	}

	if rewrite {
		s.logger.Info("Replaced local id with server id", "local_id", oldID, "server_id", newID)
		s.publish(SyncEvent{Kind: KindIDRewrite, EntityID: newID, PreviousID: oldID, Action: action})
	}
	ev := SyncEvent{Kind: KindDelivered, EntityID: newID, Action: action}
	if action != ActionDelete {
		ev.Status = final.String()
	}
	s.publish(ev)

	res := stepResult{outcome: stepDelivered}
	if rewrite {
		res.newID = newID
	}
	return res, nil
}

func (s *SyncService[E]) resolveRetry(ctx context.Context, head *QueueEntry, action Action, cause error) (stepResult, error) {
	msg := cause.Error()
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		head.State = EntryPending
		head.Attempts++
		head.NextAttemptAt = s.now().Add(s.backoff.Delay(head.Attempts))
		head.LastError = msg
		if err := tx.UpdateEntry(ctx, head); err != nil {
			return err
		}
		return s.markRecord(ctx, tx, head.EntityID, EventTransientFailure, msg, false)
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to record retry of %s %s: %w", action, head.EntityID, err)
	}
	s.logger.Warn("Delivery failed, will retry",
		"id", head.EntityID, "action", action, "attempts", head.Attempts,
		"next_attempt_at", head.NextAttemptAt, "error", cause)
	s.publish(SyncEvent{Kind: KindRetry, EntityID: head.EntityID, Action: action, Status: StatusFailed.String(), Error: msg})
	return stepResult{outcome: stepRetry}, nil
}

func (s *SyncService[E]) resolveDead(ctx context.Context, head *QueueEntry, action Action, cause error) (stepResult, error) {
	msg := cause.Error()
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.DeleteEntry(ctx, head.ID); err != nil {
			return err
		}
		// a rejected DELETE makes the record visible again so it can be acted on
		return s.markRecord(ctx, tx, head.EntityID, EventPermanentFailure, msg, action == ActionDelete)
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to record rejection of %s %s: %w", action, head.EntityID, err)
	}
	s.logger.Error("Delivery rejected, entry dropped", "id", head.EntityID, "action", action, "error", cause)
	s.publish(SyncEvent{Kind: KindDead, EntityID: head.EntityID, Action: action, Status: StatusFailed.String(), Error: msg})
	return stepResult{outcome: stepDead}, nil
}

func (s *SyncService[E]) resolveAborted(ctx context.Context, head *QueueEntry, action Action) (stepResult, error) {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		head.State = EntryPending
		if err := tx.UpdateEntry(ctx, head); err != nil {
			return err
		}
		if action == ActionDelete {
			return nil
		}
		rec, err := tx.GetRecord(ctx, s.desc.Type, head.EntityID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		next, err := Transition(rec.Status, EventAbort, rec.HasRemote)
		if err != nil {
			return err
		}
		rec.Status = next
		return tx.PutRecord(ctx, rec)
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to return %s %s to queue: %w", action, head.EntityID, err)
	}
	s.logger.Info("Connection lost, entry left queued", "id", head.EntityID, "action", action)
	return stepResult{outcome: stepAborted}, nil
}

func (s *SyncService[E]) markRecord(ctx context.Context, tx Tx, id string, ev Event, msg string, undelete bool) error {
	rec, err := tx.GetRecord(ctx, s.desc.Type, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if next, err := Transition(rec.Status, ev, rec.HasRemote); err == nil {
		rec.Status = next
	}
	rec.LastError = msg
	if undelete {
		rec.Deleted = false
	}
	return tx.PutRecord(ctx, rec)
}

// rewriteID moves a record and everything pointing at it from oldID to newID
func (s *SyncService[E]) rewriteID(ctx context.Context, tx Tx, oldID, newID string) error {
	if err := tx.RenameRecord(ctx, s.desc.Type, oldID, newID); err != nil {
		return err
	}
	if err := tx.PutAlias(ctx, s.desc.Type, oldID, newID); err != nil {
		return err
	}

	entries, err := tx.ListEntries(ctx, EntryFilter{EntityType: s.desc.Type, EntityID: oldID})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		entry.EntityID = newID
		if payload, err := s.withID(entry.Payload, newID); err == nil {
			entry.Payload = payload
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
	}

	for _, ref := range s.cfg.Schema.Inbound(s.desc.Type) {
		recs, err := tx.ListRecords(ctx, ref.FromType, RecordFilter{IncludeDeleted: true})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			data, changed, err := rewriteJSONField(rec.Data, ref.Field, oldID, newID)
			if err != nil {
				return fmt.Errorf("failed to rewrite %s.%s: %w", ref.FromType, ref.Field, err)
			}
			if !changed {
				continue
			}
			rec.Data = data
			if rec.Scope == oldID {
				rec.Scope = newID
			}
			if err := tx.PutRecord(ctx, rec); err != nil {
				return err
			}
		}

		refEntries, err := tx.ListEntries(ctx, EntryFilter{EntityType: ref.FromType})
		if err != nil {
			return err
		}
		for _, entry := range refEntries {
			payload, changed, err := rewriteJSONField(entry.Payload, ref.Field, oldID, newID)
			if err != nil {
				return fmt.Errorf("failed to rewrite queued %s.%s: %w", ref.FromType, ref.Field, err)
			}
			if !changed {
				continue
			}
			entry.Payload = payload
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// blockedByReference reports whether the payload points at a local record the server
// does not know yet. References must already be resolved through aliases.
func (s *SyncService[E]) blockedByReference(ctx context.Context, tx Tx, payload json.RawMessage) (bool, error) {
	for _, ref := range s.desc.References {
		target := jsonStringField(payload, ref.Field)
		if target == "" {
			continue
		}
		rec, err := tx.GetRecord(ctx, ref.Target, target)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !rec.HasRemote {
			s.logger.Debug("Deferring entry until referenced record is created", "field", ref.Field, "target", ref.Target, "target_id", target)
			return true, nil
		}
	}
	return false, nil
}

func (s *SyncService[E]) withID(data json.RawMessage, id string) (json.RawMessage, error) {
	e, err := s.desc.decode(data)
	if err != nil {
		return nil, err
	}
	e.SetID(id)
	out, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", s.desc.Type, err)
	}
	return out, nil
}

func (s *SyncService[E]) publish(ev SyncEvent) {
	ev.EntityType = s.desc.Type
	s.cfg.Events.Publish(ev)
}

// entityOrder returns entity ids in the order of their oldest queued entry
func entityOrder(entries []*QueueEntry) []string {
	seen := make(map[string]bool, len(entries))
	var ids []string
	for _, e := range entries {
		if seen[e.EntityID] {
			continue
		}
		seen[e.EntityID] = true
		ids = append(ids, e.EntityID)
	}
	return ids
}

func isNilEntity(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
