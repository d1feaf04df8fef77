// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MergeReport counts what a pull changed locally
type MergeReport struct {
	Inserted    int // remote entities not known locally
	Overwritten int // synced local copies replaced by a different server version
	Kept        int // local records with pending intent left as they are
	Removed     int // synced local copies the server no longer has
}

// Reconciler pulls the server's view of one entity type and merges it into the store.
// Local intent always wins: only records in SYNCED state are ever replaced or removed.
type Reconciler[E Entity] struct {
	store  Store
	desc   *Descriptor[E]
	remote Remote[E]
	events *EventBus
	obs    stageObserver
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler; config may be shared with the sync service
func NewReconciler[E Entity](store Store, desc *Descriptor[E], remote Remote[E], config *ServiceConfig, logger *slog.Logger) (*Reconciler[E], error) {
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
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("entity_type", desc.Type)
	return &Reconciler[E]{
		store:  store,
		desc:   desc,
		remote: remote,
		events: config.Events,
		obs:    stageObserver{recorder: config.Metrics, logTimings: config.LogStageTimings, logger: logger},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Sync fetches the remote collection for scope ("" for all of it) and merges it
func (r *Reconciler[E]) Sync(ctx context.Context, scope string) (MergeReport, error) {
	var report MergeReport

	fetchStart := r.now()
	start := r.obs.start()
	items, err := r.remote.List(ctx, scope)
	r.obs.observe(ctx, StageTiming{
		Operation: MetricsOpPull, Stage: MetricsStageFetch, EntityType: r.desc.Type,
		Count: len(items), Error: err != nil,
	}, start)
	if err != nil {
		return report, fmt.Errorf("failed to list remote %s: %w", r.desc.Type, err)
	}

	start = r.obs.start()
	err = r.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		report = MergeReport{}
		seen := make(map[string]bool, len(items))

		for _, item := range items {
			if isNilEntity(item) || item.GetID() == "" {
				r.logger.Warn("Skipping remote entity without id")
				continue
			}
			id := item.GetID()
			seen[id] = true

			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to encode remote %s %s: %w", r.desc.Type, id, err)
			}
			itemScope := r.desc.scopeOf(item)

			local, err := tx.GetRecord(ctx, r.desc.Type, id)
			if errors.Is(err, ErrNotFound) {
				if err := tx.PutRecord(ctx, &Record{
					EntityType: r.desc.Type,
					ID:         id,
					Scope:      itemScope,
					Status:     StatusSynced,
					HasRemote:  true,
					Data:       data,
				}); err != nil {
					return err
				}
				report.Inserted++
				continue
			}
			if err != nil {
				return err
			}

			if !replaceable(local, fetchStart) {
				report.Kept++
				continue
			}
			if bytes.Equal(local.Data, data) && local.Scope == itemScope {
				continue
			}
			next, err := Transition(local.Status, EventPulled, true)
			if err != nil {
				return err
			}
			local.Status = next
			local.Data = data
			local.Scope = itemScope
			local.HasRemote = true
			local.LastError = ""
			if err := tx.PutRecord(ctx, local); err != nil {
				return err
			}
			report.Overwritten++
		}

		locals, err := tx.ListRecords(ctx, r.desc.Type, RecordFilter{Scope: scope, Status: StatusSynced})
		if err != nil {
			return err
		}
		for _, local := range locals {
			if seen[local.ID] || !replaceable(local, fetchStart) {
				continue
			}
			if err := tx.DeleteRecord(ctx, r.desc.Type, local.ID); err != nil {
				return err
			}
			report.Removed++
		}
		return nil
	})
	r.obs.observe(ctx, StageTiming{
		Operation: MetricsOpPull, Stage: MetricsStageMerge, EntityType: r.desc.Type,
		Count: report.Inserted + report.Overwritten + report.Removed, Error: err != nil,
	}, start)
	if err != nil {
		return MergeReport{}, fmt.Errorf("failed to merge remote %s: %w", r.desc.Type, err)
	}

	r.logger.Info("Merged remote state",
		"scope", scope,
		"inserted", report.Inserted,
		"overwritten", report.Overwritten,
		"kept", report.Kept,
		"removed", report.Removed)
	if report.Inserted+report.Overwritten+report.Removed > 0 {
		r.events.Publish(SyncEvent{Kind: KindMerged, EntityType: r.desc.Type})
	}
	return report, nil
}

// replaceable reports whether a pull may overwrite or remove the local record.
// Records touched after the fetch started may reflect writes the fetched list predates.
func replaceable(rec *Record, fetchStart time.Time) bool {
	return rec.Status == StatusSynced && !rec.Deleted && !rec.UpdatedAt.After(fetchStart)
}
