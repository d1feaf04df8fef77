// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offsync holds end-to-end tests of the sync engine against the
// reference server, plus the fault injection they use.
package offsync

import (
	"net/http"
	"sync"
)

// Fault describes how the next matching requests fail
type Fault struct {
	Method string // empty matches any method
	Status int    // HTTP status to answer with; 0 drops the connection
	Times  int    // number of requests to fail
}

// FaultInjector wraps a handler and fails requests on demand
type FaultInjector struct {
	next http.Handler

	mu       sync.Mutex
	faults   []*Fault
	requests map[string]int
}

// NewFaultInjector wraps next
func NewFaultInjector(next http.Handler) *FaultInjector {
	return &FaultInjector{next: next, requests: make(map[string]int)}
}

// Inject queues a fault; faults are consumed in the order they were added
func (f *FaultInjector) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := fault
	f.faults = append(f.faults, &cp)
}

// Requests returns how many requests reached the injector for a method
func (f *FaultInjector) Requests(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method]
}

func (f *FaultInjector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if fault, ok := f.take(r); ok {
		if fault.Status == 0 {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			fault.Status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fault.Status)
		_, _ = w.Write([]byte(`{"error":"injected_fault","message":"injected by test"}`))
		return
	}
	f.next.ServeHTTP(w, r)
}

func (f *FaultInjector) take(r *http.Request) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.Method]++
	for i, fault := range f.faults {
		if fault.Method != "" && fault.Method != r.Method {
			continue
		}
		out := *fault
		fault.Times--
		if fault.Times <= 0 {
			f.faults = append(f.faults[:i], f.faults[i+1:]...)
		}
		return out, true
	}
	return Fault{}, false
}
