// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command offsyncd keeps a local DGAT store in sync with the remote API and
// offers one-shot drain, pull and inspection commands over the same store.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/entities"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/config"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/logging"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/metrics"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsqlite"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}
	root := &cobra.Command{
		Use:   "offsyncd",
		Short: "Offline-first sync engine for the digital gap assessment tool",
		Long: `offsyncd keeps the local assessment store in sync with the remote API.

Configuration is read from --config (yaml, toml or json), then OFFSYNC_*
environment variables (e.g. OFFSYNC_REMOTE_BASE_URL), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file")
	pf.String("store", "", "local SQLite database path")
	pf.String("driver", "", "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	pf.String("remote", "", "remote API base URL, e.g. http://localhost:8080/api/v1")
	pf.String("token", "", "bearer token for the remote API")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("log-file", "", "write logs to a rotating file instead of stderr")
	for key, flag := range map[string]string{
		"store.path":      "store",
		"store.driver":    "driver",
		"remote.base_url": "remote",
		"remote.token":    "token",
		"log.level":       "log-level",
		"log.format":      "log-format",
		"log.file":        "log-file",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newServeCmd(c),
		newDrainCmd(c),
		newPullCmd(c),
		newQueueCmd(c),
		newStatusCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) load() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

// app is an opened store with every entity type registered on an engine
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *offsqlite.Store
	conn     *offsync.Connectivity
	events   *offsync.EventBus
	engine   *offsync.Engine
	set      *entities.Set
	recorder *metrics.Recorder
	closers  []io.Closer
}

func (c *cli) open(ctx context.Context) (*app, error) {
	cfg, logger, logCloser, err := c.load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.store, err = offsqlite.Open(ctx, offsqlite.Config{
		Path:        cfg.Store.Path,
		Driver:      cfg.Store.Driver,
		BusyTimeout: cfg.Store.BusyTimeout,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append([]io.Closer{a.store}, a.closers...)

	a.events = offsync.NewEventBus(256)
	a.conn = offsync.NewConnectivity(true, a.events)
	a.recorder = metrics.NewRecorder()

	engCfg := cfg.EngineConfig()
	engCfg.Service.Metrics = a.recorder
	a.engine, err = offsync.NewEngine(a.store, a.conn, a.events, engCfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var token func(context.Context) (string, error)
	if cfg.Remote.Token != "" {
		static := cfg.Remote.Token
		token = func(context.Context) (string, error) { return static, nil }
	}
	a.set, err = entities.RegisterHTTP(a.engine, entities.RemoteConfig{
		BaseURL:      cfg.Remote.BaseURL,
		Token:        token,
		Connectivity: a.conn,
	}, nil)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to register entity types: %w", err)
	}
	return a, nil
}

func (a *app) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
