// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
)

// InboundRef is a field of FromType that holds ids of another entity type
type InboundRef struct {
	FromType string
	Field    string
}

// Schema records which entity types reference which, so that a server-assigned
// id can be propagated into every record and queued payload that points at it.
type Schema struct {
	mu   sync.RWMutex
	refs map[string][]Reference // by referencing type
}

func NewSchema() *Schema {
	return &Schema{refs: make(map[string][]Reference)}
}

// Add registers the outbound references of an entity type
func (s *Schema) Add(entityType string, refs []Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[entityType] = append([]Reference(nil), refs...)
}

// Inbound returns the fields of other types that reference target
func (s *Schema) Inbound(target string) []InboundRef {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InboundRef
	for from, refs := range s.refs {
		for _, ref := range refs {
			if ref.Target == target {
				out = append(out, InboundRef{FromType: from, Field: ref.Field})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromType != out[j].FromType {
			return out[i].FromType < out[j].FromType
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Types returns the registered entity types in name order
func (s *Schema) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.refs))
	for t := range s.refs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// currentID follows id through the alias left behind when the server replaced it
func currentID(ctx context.Context, tx Tx, entityType, id string) (string, error) {
	serverID, ok, err := tx.ResolveAlias(ctx, entityType, id)
	if err != nil {
		return "", err
	}
	if ok {
		return serverID, nil
	}
	return id, nil
}

// resolveReferences points every reference of data at the current id of its target.
// It also returns the fields holding a local id that matches neither a record nor an alias.
func resolveReferences(ctx context.Context, tx Tx, refs []Reference, data json.RawMessage) (json.RawMessage, []string, error) {
	var dangling []string
	for _, ref := range refs {
		target := jsonStringField(data, ref.Field)
		if target == "" {
			continue
		}
		id, err := currentID(ctx, tx, ref.Target, target)
		if err != nil {
			return nil, nil, err
		}
		if id != target {
			if data, _, err = rewriteJSONField(data, ref.Field, target, id); err != nil {
				return nil, nil, err
			}
			continue
		}
		if !strings.HasPrefix(target, LocalIDPrefix) {
			continue
		}
		if _, err := tx.GetRecord(ctx, ref.Target, target); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, nil, err
			}
			dangling = append(dangling, ref.Field)
		}
	}
	return data, dangling, nil
}

// rewriteJSONField replaces the string value of field when it equals oldID.
// It reports whether the document changed.
func rewriteJSONField(data json.RawMessage, field, oldID, newID string) (json.RawMessage, bool, error) {
	if len(data) == 0 {
		return data, false, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return data, false, err
	}
	if v, ok := doc[field].(string); !ok || v != oldID {
		return data, false, nil
	}
	doc[field] = newID
	out, err := json.Marshal(doc)
	if err != nil {
		return data, false, err
	}
	return out, true, nil
}

// jsonStringField returns the string value of a top-level field, or "" when absent
func jsonStringField(data json.RawMessage, field string) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	raw, ok := doc[field]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// keyedMutex serializes work per key (one entity's queue) without a global lock
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: make(map[string]chan struct{})}
}

func (k *keyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = make(chan struct{})
	return true
}

func (k *keyedMutex) Lock(key string) {
	for {
		k.mu.Lock()
		ch, busy := k.held[key]
		if !busy {
			k.held[key] = make(chan struct{})
			k.mu.Unlock()
			return
		}
		k.mu.Unlock()
		<-ch
	}
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	ch, ok := k.held[key]
	delete(k.held, key)
	k.mu.Unlock()
	if ok {
		close(ch)
	}
}
