// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EngineConfig holds configuration of an Engine
type EngineConfig struct {
	DrainInterval time.Duration // periodic drain while running, e.g. 30s
	KickDebounce  time.Duration // delay collapsing bursts of local writes, e.g. 250ms
	Service       *ServiceConfig
}

// DefaultEngineConfig returns the configuration used when none is given
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		DrainInterval: 30 * time.Second,
		KickDebounce:  250 * time.Millisecond,
		Service:       DefaultServiceConfig(),
	}
}

type drainer interface {
	EntityType() string
	Recover(ctx context.Context) error
	Drain(ctx context.Context, opts DrainOptions) (DrainReport, error)
}

type puller interface {
	Sync(ctx context.Context, scope string) (MergeReport, error)
}

// Engine owns the sync services and reconcilers of every registered entity type
// and decides when queues are drained.
type Engine struct {
	store  Store
	conn   *Connectivity
	events *EventBus
	schema *Schema
	cfg    *EngineConfig
	logger *slog.Logger

	mu       sync.RWMutex
	types    []string
	drainers map[string]drainer
	pullers  map[string]puller

	kick chan struct{}
}

// Binding is the registered stack of one entity type
type Binding[E Entity] struct {
	Repository *Repository[E]
	Service    *SyncService[E]
	Reconciler *Reconciler[E]
}

// NewEngine creates an engine on top of store. conn and events may be nil.
func NewEngine(store Store, conn *Connectivity, events *EventBus, config *EngineConfig, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultEngineConfig()
	}
	if config.Service == nil {
		config.Service = DefaultServiceConfig()
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = 30 * time.Second
	}
	if config.KickDebounce <= 0 {
		config.KickDebounce = 250 * time.Millisecond
	}
	if conn == nil {
		conn = NewConnectivity(true, events)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		conn:     conn,
		events:   events,
		schema:   NewSchema(),
		cfg:      config,
		logger:   logger,
		drainers: make(map[string]drainer),
		pullers:  make(map[string]puller),
		kick:     make(chan struct{}, 1),
	}, nil
}

func (e *Engine) Store() Store                { return e.store }
func (e *Engine) Connectivity() *Connectivity { return e.conn }
func (e *Engine) Events() *EventBus           { return e.events }
func (e *Engine) Schema() *Schema             { return e.schema }

// Types returns the registered entity types in registration order
func (e *Engine) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.types...)
}

// Register wires a repository, sync service and reconciler for one entity type.
// Types referenced by others should be registered first so drains deliver parents
// before children. svcCfg and repoCfg may be nil.
func Register[E Entity](eng *Engine, desc *Descriptor[E], remote Remote[E], svcCfg *ServiceConfig, repoCfg *RepositoryConfig) (*Binding[E], error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	eng.mu.Lock()
	_, dup := eng.drainers[desc.Type]
	eng.mu.Unlock()
	if dup {
		return nil, fmt.Errorf("entity type %s already registered", desc.Type)
	}

	sc := *eng.cfg.Service
	if svcCfg != nil {
		sc = *svcCfg
	}
	sc.Events = eng.events
	sc.Schema = eng.schema

	rc := RepositoryConfig{}
	if repoCfg != nil {
		rc = *repoCfg
	}
	userHook := rc.OnWrite
	rc.OnWrite = func(entityType string) {
		if userHook != nil {
			userHook(entityType)
		}
		eng.Kick()
	}

	repo, err := NewRepository(eng.store, desc, &rc, eng.logger)
	if err != nil {
		return nil, err
	}
	svc, err := NewSyncService(eng.store, desc, remote, eng.conn, &sc, eng.logger)
	if err != nil {
		return nil, err
	}
	rec, err := NewReconciler(eng.store, desc, remote, &sc, eng.logger)
	if err != nil {
		return nil, err
	}

	eng.schema.Add(desc.Type, desc.References)
	eng.mu.Lock()
	eng.types = append(eng.types, desc.Type)
	eng.drainers[desc.Type] = svc
	eng.pullers[desc.Type] = rec
	eng.mu.Unlock()

	return &Binding[E]{Repository: repo, Service: svc, Reconciler: rec}, nil
}

// Kick requests a drain soon; bursts of kicks collapse into one drain
func (e *Engine) Kick() {
	if !e.conn.IsOnline() {
		return
	}
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Recover returns entries left in flight by a previous process to their queues
func (e *Engine) Recover(ctx context.Context) error {
	for _, t := range e.Types() {
		if err := e.drainerFor(t).Recover(ctx); err != nil {
			return fmt.Errorf("failed to recover %s: %w", t, err)
		}
	}
	return nil
}

// DrainAll drains every registered type in registration order. Passes repeat while
// a pass both delivered something and left entries deferred on references.
func (e *Engine) DrainAll(ctx context.Context, opts DrainOptions) (map[string]DrainReport, error) {
	types := e.Types()
	out := make(map[string]DrainReport, len(types))
	for pass := 0; pass < len(types)+1; pass++ {
		var delivered, deferred int
		for _, t := range types {
			rep, err := e.drainerFor(t).Drain(ctx, opts)
			total := out[t]
			if pass > 0 {
				// deferrals of earlier passes are superseded
				total.Deferred = 0
			}
			total.merge(rep)
			out[t] = total
			if err != nil {
				return out, fmt.Errorf("failed to drain %s: %w", t, err)
			}
			delivered += rep.Delivered
			deferred += rep.Deferred
		}
		if delivered == 0 || deferred == 0 {
			break
		}
	}
	return out, nil
}

// Pull merges the server state of one entity type
func (e *Engine) Pull(ctx context.Context, entityType, scope string) (MergeReport, error) {
	e.mu.RLock()
	p, ok := e.pullers[entityType]
	e.mu.RUnlock()
	if !ok {
		return MergeReport{}, fmt.Errorf("entity type %s is not registered", entityType)
	}
	return p.Sync(ctx, scope)
}

// PullAll pulls every registered type; scopes maps a type to its scope and defaults to ""
func (e *Engine) PullAll(ctx context.Context, scopes map[string]string) (map[string]MergeReport, error) {
	out := make(map[string]MergeReport)
	for _, t := range e.Types() {
		rep, err := e.Pull(ctx, t, scopes[t])
		if err != nil {
			return out, err
		}
		out[t] = rep
	}
	return out, nil
}

// TypeStats summarizes the local state of one entity type
type TypeStats struct {
	EntityType string         `json:"entity_type"`
	Queued     int            `json:"queued"`
	InFlight   int            `json:"in_flight"`
	Retrying   int            `json:"retrying"`
	Records    int            `json:"records"`
	ByStatus   map[string]int `json:"by_status"`
}

// Stats reports queue depth and record counts per registered type
func (e *Engine) Stats(ctx context.Context) ([]TypeStats, error) {
	types := e.Types()
	out := make([]TypeStats, 0, len(types))
	err := e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		for _, t := range types {
			st := TypeStats{EntityType: t, ByStatus: make(map[string]int)}
			entries, err := tx.ListEntries(ctx, EntryFilter{EntityType: t})
			if err != nil {
				return err
			}
			for _, entry := range entries {
				st.Queued++
				if entry.State == EntryInFlight {
					st.InFlight++
				}
				if entry.Attempts > 0 {
					st.Retrying++
				}
			}
			recs, err := tx.ListRecords(ctx, t, RecordFilter{IncludeDeleted: true})
			if err != nil {
				return err
			}
			for _, rec := range recs {
				st.Records++
				st.ByStatus[rec.Status.String()]++
			}
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return out, nil
}

// Run recovers interrupted deliveries and then drains on kicks, on every
// offline to online transition and periodically, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}
	transitions, unsubscribe := e.conn.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	e.drain(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.drain(ctx, "interval")
		case online := <-transitions:
			if online {
				e.logger.Info("Remote reachable again, draining queues")
				e.drain(ctx, "reconnect")
			}
		case <-e.kick:
			if debounce == nil {
				debounce = time.After(e.cfg.KickDebounce)
			}
		case <-debounce:
			debounce = nil
			e.drain(ctx, "kick")
		}
	}
}

func (e *Engine) drain(ctx context.Context, trigger string) {
	if !e.conn.IsOnline() {
		return
	}
	if _, err := e.DrainAll(ctx, DrainOptions{}); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Drain failed", "trigger", trigger, "error", err)
	}
}

func (e *Engine) drainerFor(entityType string) drainer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drainers[entityType]
}
