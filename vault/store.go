// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package vault

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for single-node and test
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]EncryptedSecret
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]EncryptedSecret)}
}

// PutSecret stores the sealed credential for a provider.
func (s *MemoryStore) PutSecret(_ context.Context, providerID string, sealed EncryptedSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[providerID] = sealed
	return nil
}

// GetSecret fetches the sealed credential for a provider.
func (s *MemoryStore) GetSecret(_ context.Context, providerID string) (EncryptedSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sealed, ok := s.secrets[providerID]
	if !ok {
		return EncryptedSecret{}, ErrCredentialNotFound
	}
	return sealed, nil
}

// DeleteSecret removes a credential.
func (s *MemoryStore) DeleteSecret(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, providerID)
	return nil
}
