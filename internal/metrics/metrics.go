// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports sync engine stage timings and queue gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const namespace = "offsync"

// Recorder implements offsync.MetricsRecorder
type Recorder struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	queue    *prometheus.GaugeVec
	records  *prometheus.GaugeVec
}

var _ offsync.MetricsRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of sync stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"op", "stage", "entity_type", "outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Items processed by sync stages.",
		}, []string{"op", "stage", "entity_type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Sync stages that ended with an error.",
		}, []string{"op", "stage", "entity_type"}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_entries",
			Help:      "Outbox entries per entity type and state.",
		}, []string{"entity_type", "state"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Local records per entity type and sync status.",
		}, []string{"entity_type", "status"}),
	}
	r.registry.MustRegister(r.duration, r.items, r.errors, r.queue, r.records)
	return r
}

// ObserveStage records one stage timing
func (r *Recorder) ObserveStage(_ context.Context, t offsync.StageTiming) {
	r.duration.WithLabelValues(t.Operation, t.Stage, t.EntityType, t.Outcome).Observe(t.Duration.Seconds())
	if t.Count > 0 {
		r.items.WithLabelValues(t.Operation, t.Stage, t.EntityType).Add(float64(t.Count))
	}
	if t.Error {
		r.errors.WithLabelValues(t.Operation, t.Stage, t.EntityType).Inc()
	}
}

// SetStats refreshes the queue and record gauges from an engine snapshot
func (r *Recorder) SetStats(stats []offsync.TypeStats) {
	r.queue.Reset()
	r.records.Reset()
	for _, s := range stats {
		r.queue.WithLabelValues(s.EntityType, "pending").Set(float64(s.Queued - s.InFlight))
		r.queue.WithLabelValues(s.EntityType, "in_flight").Set(float64(s.InFlight))
		r.queue.WithLabelValues(s.EntityType, "retrying").Set(float64(s.Retrying))
		for status, n := range s.ByStatus {
			r.records.WithLabelValues(s.EntityType, status).Set(float64(n))
		}
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
