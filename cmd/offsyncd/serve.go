// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/eventfeed"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const statsInterval = 15 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine until interrupted",
		Long: `Run the sync engine in the foreground.

Queues are drained after local writes, whenever the remote becomes reachable
again and every sync.drain_interval. With --metrics-listen set, Prometheus
metrics are served on /metrics and engine events on the /events WebSocket.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("metrics-listen", "", "address serving /metrics and /events, e.g. :9090")
	_ = c.v.BindPFlag("metrics.listen", cmd.Flags().Lookup("metrics-listen"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	prober := offsync.NewProber(offsync.ProberConfig{
		URL:      offsync.HealthURL(a.cfg.Remote.BaseURL),
		Interval: a.cfg.Remote.ProbeInterval,
	}, a.conn, nil, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prober.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.engine.Run(ctx)
	})
	if a.cfg.Metrics.Listen != "" {
		feed := eventfeed.New(a.events, a.logger)
		g.Go(func() error { return feed.Run(ctx) })
		g.Go(func() error { return a.refreshStats(ctx) })
		g.Go(func() error { return a.serveObservability(ctx, feed) })
	}

	a.logger.Info("Sync engine started",
		"store", a.cfg.Store.Path,
		"remote", a.cfg.Remote.BaseURL,
		"types", a.engine.Types())
	err := g.Wait()
	a.logger.Info("Sync engine stopped")
	return err
}

func (a *app) serveObservability(ctx context.Context, feed *eventfeed.Feed) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.recorder.Handler())
	mux.Handle("GET /events", feed)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"healthy","online":%t}`, a.conn.IsOnline())
	})

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("Serving metrics and events", "addr", a.cfg.Metrics.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

func (a *app) refreshStats(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		stats, err := a.engine.Stats(ctx)
		if err == nil {
			a.recorder.SetStats(stats)
		} else if ctx.Err() == nil {
			a.logger.Warn("Failed to collect queue stats", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
