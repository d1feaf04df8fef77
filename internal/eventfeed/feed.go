// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package eventfeed streams sync engine events to WebSocket clients.
package eventfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const writeTimeout = 5 * time.Second

// Feed broadcasts every event of an EventBus to its connected clients as JSON text messages
type Feed struct {
	events      <-chan offsync.SyncEvent
	unsubscribe func()
	logger      *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a feed subscribed to bus; events published before Run are buffered
func New(bus *offsync.EventBus, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	events, unsubscribe := bus.Subscribe()
	return &Feed{
		events:      events,
		unsubscribe: unsubscribe,
		logger:      logger,
		clients:     make(map[*websocket.Conn]struct{}),
		done:        make(chan struct{}),
	}
}

// Run forwards events until ctx is done, then disconnects every client
func (f *Feed) Run(ctx context.Context) error {
	defer f.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-f.events:
			if !ok {
				return nil
			}
			f.broadcast(ev)
		}
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it disconnects
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		f.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	ctx := conn.CloseRead(r.Context())

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	count := len(f.clients)
	f.mu.Unlock()
	f.logger.Debug("Event feed client connected", "clients", count)

	select {
	case <-ctx.Done():
		f.remove(conn, websocket.StatusNormalClosure, "")
	case <-f.done:
	}
}

// ClientCount returns the number of connected clients
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) broadcast(ev offsync.SyncEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("Failed to marshal sync event", "error", err)
		return
	}

	f.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(f.clients))
	for conn := range f.clients {
		clients = append(clients, conn)
	}
	f.mu.RUnlock()

	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			f.logger.Debug("Dropping event feed client", "error", err)
			f.remove(conn, websocket.StatusGoingAway, "write failed")
		}
	}
}

func (f *Feed) remove(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	f.mu.Lock()
	_, ok := f.clients[conn]
	delete(f.clients, conn)
	f.mu.Unlock()
	if ok {
		_ = conn.Close(code, reason)
	}
}

func (f *Feed) shutdown() {
	f.once.Do(func() {
		f.unsubscribe()
		close(f.done)
		f.mu.Lock()
		clients := f.clients
		f.clients = make(map[*websocket.Conn]struct{})
		f.mu.Unlock()
		for conn := range clients {
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		}
	})
}
