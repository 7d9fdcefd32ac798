// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the unified interface for upstream LLM services.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the routing identifier, e.g. "anthropic".
	Name() string

	// Capabilities lists the request classes this provider serves.
	Capabilities() []string

	// Complete generates a completion. The context carries the
	// per-attempt timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Factory builds a provider adapter around a credential. Adapters are
// constructed per call so decrypted secrets never rest in long-lived
// state.
type Factory func(credential string) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a provider name, replacing any
// previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs an adapter for a provider with a credential.
func (r *Registry) Build(name, credential string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory registered for provider %q", name)
	}
	return f(credential)
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
