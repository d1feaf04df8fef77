// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryKey struct {
	collection string
	id         string
}

type memoryDoc struct {
	Document
	seq int64
}

// MemoryBackend keeps documents in a map. It is used by tests and the demo server.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[memoryKey]memoryDoc
	seq  int64
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[memoryKey]memoryDoc)}
}

func (m *MemoryBackend) Insert(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{doc.Collection, doc.ID}
	if _, ok := m.docs[key]; ok {
		return Document{}, ErrConflict
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.seq++
	m.docs[key] = memoryDoc{Document: doc, seq: m.seq}
	return doc, nil
}

func (m *MemoryBackend) Replace(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{doc.Collection, doc.ID}
	cur, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.CreatedAt = cur.CreatedAt
	doc.UpdatedAt = time.Now().UTC()
	m.docs[key] = memoryDoc{Document: doc, seq: cur.seq}
	return doc, nil
}

func (m *MemoryBackend) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{collection, id}
	if _, ok := m.docs[key]; !ok {
		return ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[memoryKey{collection, id}]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d.Document, nil
}

func (m *MemoryBackend) List(_ context.Context, collection, scope string) ([]Document, error) {
	m.mu.RLock()
	matched := make([]memoryDoc, 0)
	for k, d := range m.docs {
		if k.collection != collection {
			continue
		}
		if scope != "" && d.Scope != scope {
			continue
		}
		matched = append(matched, d)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]Document, len(matched))
	for i, d := range matched {
		out[i] = d.Document
	}
	return out, nil
}
