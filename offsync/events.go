// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"sync"
	"time"
)

// SyncEventKind names what happened in a SyncEvent
type SyncEventKind string

const (
	KindDelivered SyncEventKind = "delivered"
	KindRetry     SyncEventKind = "retry"
	KindDead      SyncEventKind = "dead"
	KindIDRewrite SyncEventKind = "id_rewrite"
	KindMerged    SyncEventKind = "merged"
	KindOnline    SyncEventKind = "online"
	KindOffline   SyncEventKind = "offline"
)

// SyncEvent is published for every queue resolution, pull-merge and connectivity change
type SyncEvent struct {
	Kind       SyncEventKind `json:"kind"`
	EntityType string        `json:"entity_type,omitempty"`
	EntityID   string        `json:"entity_id,omitempty"`
	PreviousID string        `json:"previous_id,omitempty"`
	Action     Action        `json:"action,omitempty"`
	Status     string        `json:"status,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// EventBus fans SyncEvents out to subscribers. Slow subscribers lose events
// rather than block the publisher.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan SyncEvent
	buffer int
}

// NewEventBus creates a bus whose subscriber channels hold up to buffer events
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{subs: make(map[int]chan SyncEvent), buffer: buffer}
}

// Subscribe returns a channel of events and a function that ends the subscription
func (b *EventBus) Subscribe() (<-chan SyncEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan SyncEvent, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room for it
func (b *EventBus) Publish(ev SyncEvent) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
