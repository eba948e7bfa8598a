/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry holds long-running handles keyed by name. A registry is
// owned by whoever created it; there is no package-level instance.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotRunning is returned when no handle is registered under a key.
var ErrNotRunning = errors.New("no handle registered")

// Handle is anything that can be stopped.
type Handle interface {
	Stop() error
}

// Registry maps keys to exclusively owned handles.
type Registry[H Handle] struct {
	mu      sync.RWMutex
	handles map[string]H
}

// New creates an empty registry.
func New[H Handle]() *Registry[H] {
	return &Registry[H]{handles: make(map[string]H)}
}

// Register stores h under key. A handle already registered under key is
// stopped first and its stop error returned alongside.
func (r *Registry[H]) Register(key string, h H) error {
	r.mu.Lock()
	prev, exists := r.handles[key]
	r.handles[key] = h
	r.mu.Unlock()

	if exists {
		return prev.Stop()
	}
	return nil
}

// Get returns the handle under key.
func (r *Registry[H]) Get(key string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	return h, ok
}

// Stop stops and removes the handle under key.
func (r *Registry[H]) Stop(key string) error {
	r.mu.Lock()
	h, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()

	if !ok {
		return ErrNotRunning
	}
	return h.Stop()
}

// StopAll stops every handle and empties the registry.
func (r *Registry[H]) StopAll() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]H)
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys lists registered keys in sorted order.
func (r *Registry[H]) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len reports the number of registered handles.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
