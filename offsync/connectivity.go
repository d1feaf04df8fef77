// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Connectivity tracks whether the remote API is reachable
type Connectivity struct {
	mu     sync.RWMutex
	online bool
	nextID int
	subs   map[int]chan bool
	events *EventBus
}

// NewConnectivity creates a tracker with the given initial state.
// events may be nil.
func NewConnectivity(online bool, events *EventBus) *Connectivity {
	return &Connectivity{online: online, subs: make(map[int]chan bool), events: events}
}

// IsOnline reports the last known reachability of the remote
func (c *Connectivity) IsOnline() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// SetOnline records a reachability observation and notifies subscribers on change
func (c *Connectivity) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	for _, ch := range c.subs {
		select {
		case ch <- online:
		default:
			// keep only the newest state for lagging subscribers
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
	c.mu.Unlock()

	kind := KindOffline
	if online {
		kind = KindOnline
	}
	c.events.Publish(SyncEvent{Kind: kind})
}

// Subscribe returns a channel receiving each transition and a function ending the subscription
func (c *Connectivity) Subscribe() (<-chan bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan bool, 1)
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
		})
	}
}

// ProberConfig configures a Prober
type ProberConfig struct {
	URL      string        // health endpoint, e.g. http://host/healthz
	Interval time.Duration // 15s
	Timeout  time.Duration // 5s
}

// Prober polls a health endpoint and feeds the result into a Connectivity
type Prober struct {
	cfg    ProberConfig
	conn   *Connectivity
	http   *http.Client
	logger *slog.Logger
}

// NewProber creates a prober; a nil client uses a client with cfg.Timeout
func NewProber(cfg ProberConfig, conn *Connectivity, client *http.Client, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{cfg: cfg, conn: conn, http: client, logger: logger}
}

// Probe performs one health check and returns the observed state
func (p *Prober) Probe(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		p.logger.Warn("Invalid health probe URL", "url", p.cfg.URL, "error", err)
		p.conn.SetOnline(false)
		return false
	}
	resp, err := p.http.Do(req)
	online := err == nil && resp.StatusCode < 500
	if resp != nil {
		_ = resp.Body.Close()
	}
	if parent.Err() != nil {
		// shutting down; not an observation about the remote
		return p.conn.IsOnline()
	}
	if err != nil {
		p.logger.Debug("Health probe failed", "url", p.cfg.URL, "error", err)
	}
	p.conn.SetOnline(online)
	return online
}

// Run probes until ctx is cancelled
func (p *Prober) Run(ctx context.Context) {
	for {
		p.Probe(ctx)
		if err := sleepWithContext(ctx, p.cfg.Interval); err != nil {
			return
		}
	}
}

// HealthURL derives the health endpoint from a remote base URL
func HealthURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/healthz"
}
