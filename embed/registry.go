// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"sync"
)

// Registry caches providers by (endpoint, model) key so that every
// component in the process shares one client per configuration.
//
// Construction is lazy with one lock per key: concurrent callers asking
// for different keys never serialize against each other, and concurrent
// callers asking for the same key construct the provider exactly once.
// A failed construction is not cached; the next caller retries.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mu       sync.Mutex
	provider Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// defaultRegistry is the process-wide instance. This is the one
// intentional global in the package.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// GetOrCreate returns the cached provider for key, constructing it with
// factory on first use.
//
// Inputs:
//   - key: Cache key, conventionally "baseURL|model".
//   - factory: Called at most once per key while the key's lock is
//     held. Other keys are not blocked during construction.
//
// Outputs:
//   - Provider: The shared provider instance.
//   - error: The factory's error; nothing is cached on failure.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) GetOrCreate(key string, factory func() (Provider, error)) (Provider, error) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &registryEntry{}
		r.entries[key] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.provider != nil {
		return entry.provider, nil
	}
	provider, err := factory()
	if err != nil {
		return nil, err
	}
	entry.provider = provider
	return provider, nil
}

// Key builds the conventional registry key for an endpoint and model.
func Key(baseURL, model string) string {
	return baseURL + "|" + model
}
