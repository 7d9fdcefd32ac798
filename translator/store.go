// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package translator

import (
	"context"
	"sync"
)

// MemoryBindingStore is an in-process BindingStore for single-node
// and test deployments.
type MemoryBindingStore struct {
	mu       sync.RWMutex
	bindings map[string][]string
}

// NewMemoryBindingStore creates an empty store.
func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{bindings: make(map[string][]string)}
}

// SetBindings replaces the agent's provider set.
func (s *MemoryBindingStore) SetBindings(_ context.Context, agentID string, providers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(providers))
	copy(cp, providers)
	s.bindings[agentID] = cp
	return nil
}

// GetBindings lists the agent's bound providers. Unknown agents have
// an empty binding set, not an error.
func (s *MemoryBindingStore) GetBindings(_ context.Context, agentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	providers := s.bindings[agentID]
	cp := make([]string, len(providers))
	copy(cp, providers)
	return cp, nil
}
