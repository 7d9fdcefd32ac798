// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package breaker

import "sync"

// Registry holds one breaker per provider, created on first use so
// newly configured providers need no registration step.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry applying cfg to every provider.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for a provider, creating it closed.
func (r *Registry) For(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[provider]; ok {
		return b
	}
	b = New(provider, r.cfg)
	r.breakers[provider] = b
	return b
}

// States snapshots every known provider's state for health reporting.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.CurrentState()
	}
	return out
}
