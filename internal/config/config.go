// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads daemon settings from a config file, OFFSYNC_ environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/logging"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const EnvPrefix = "OFFSYNC"

// Config is the full daemon configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type StoreConfig struct {
	Path        string        `mapstructure:"path"`
	Driver      string        `mapstructure:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"` // static bearer token
	Timeout       time.Duration `mapstructure:"timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

type SyncConfig struct {
	Workers         int               `mapstructure:"workers"`
	CallTimeout     time.Duration     `mapstructure:"call_timeout"`
	BackoffMin      time.Duration     `mapstructure:"backoff_min"`
	BackoffMax      time.Duration     `mapstructure:"backoff_max"`
	DrainInterval   time.Duration     `mapstructure:"drain_interval"`
	KickDebounce    time.Duration     `mapstructure:"kick_debounce"`
	LogStageTimings bool              `mapstructure:"log_stage_timings"`
	Scopes          map[string]string `mapstructure:"scopes"` // entity type -> pull scope
}

// ServerConfig configures the reference remote API in examples/remote_server
type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	Prefix      string `mapstructure:"prefix"`
	DatabaseURL string `mapstructure:"database_url"` // empty keeps documents in memory
	JWTSecret   string `mapstructure:"jwt_secret"`   // empty falls back to a development secret
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // serves /metrics and /events; empty disables
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	svc := offsync.DefaultServiceConfig()
	eng := offsync.DefaultEngineConfig()
	lg := logging.DefaultConfig()

	v.SetDefault("store.path", "offsync.db")
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.busy_timeout", 5*time.Second)

	v.SetDefault("remote.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 60*time.Second)
	v.SetDefault("remote.probe_interval", 15*time.Second)

	v.SetDefault("sync.workers", svc.Workers)
	v.SetDefault("sync.call_timeout", svc.CallTimeout)
	v.SetDefault("sync.backoff_min", svc.BackoffMin)
	v.SetDefault("sync.backoff_max", svc.BackoffMax)
	v.SetDefault("sync.drain_interval", eng.DrainInterval)
	v.SetDefault("sync.kick_debounce", eng.KickDebounce)
	v.SetDefault("sync.log_stage_timings", false)
	v.SetDefault("sync.scopes", map[string]string{})

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.prefix", "/api/v1")
	v.SetDefault("server.database_url", "")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", lg.MaxSizeMB)
	v.SetDefault("log.max_backups", lg.MaxBackups)
	v.SetDefault("log.max_age_days", lg.MaxAgeDays)

	v.SetDefault("metrics.listen", "")
}

// New creates a viper instance wired to the OFFSYNC_ environment
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when non-empty) into v and decodes the result.
// Flags must already be bound on v.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path must be set"))
	}
	if c.Store.Driver != "sqlite3" && c.Store.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("store.driver must be sqlite3 or sqlite, got %q", c.Store.Driver))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, errors.New("sync.workers must be at least 1"))
	}
	if c.Sync.BackoffMin > c.Sync.BackoffMax {
		errs = append(errs, errors.New("sync.backoff_min must not exceed sync.backoff_max"))
	}
	return errors.Join(errs...)
}

// EngineConfig maps the sync settings onto the engine configuration
func (c *Config) EngineConfig() *offsync.EngineConfig {
	return &offsync.EngineConfig{
		DrainInterval: c.Sync.DrainInterval,
		KickDebounce:  c.Sync.KickDebounce,
		Service: &offsync.ServiceConfig{
			Workers:         c.Sync.Workers,
			CallTimeout:     c.Sync.CallTimeout,
			BackoffMin:      c.Sync.BackoffMin,
			BackoffMax:      c.Sync.BackoffMax,
			LogStageTimings: c.Sync.LogStageTimings,
		},
	}
}

// Logging maps the log settings onto a logging.Config
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
