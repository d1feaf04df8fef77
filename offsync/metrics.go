// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"log/slog"
	"time"
)

const (
	MetricsOpDrain = "drain"
	MetricsOpPull  = "pull"

	MetricsStageTotal   = "total"
	MetricsStageRemote  = "remote_call"
	MetricsStageResolve = "resolve"
	MetricsStageFetch   = "fetch"
	MetricsStageMerge   = "merge"
)

// Outcome labels reported with remote-call timings
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
	OutcomeOffline   = "offline"
)

type StageTiming struct {
	Operation  string
	Stage      string
	EntityType string
	Outcome    string
	Duration   time.Duration
	Count      int
	Error      bool
}

type MetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type MetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f MetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

type stageObserver struct {
	recorder   MetricsRecorder
	logTimings bool
	logger     *slog.Logger
}

func (o stageObserver) enabled() bool {
	return o.recorder != nil || o.logTimings
}

func (o stageObserver) start() time.Time {
	if !o.enabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o stageObserver) observe(ctx context.Context, timing StageTiming, start time.Time) {
	if start.IsZero() {
		return
	}
	timing.Duration = time.Since(start)
	if o.recorder != nil {
		o.recorder.ObserveStage(ctx, timing)
	}
	if o.logTimings && o.logger != nil {
		o.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"entity_type", timing.EntityType,
			"outcome", timing.Outcome,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
