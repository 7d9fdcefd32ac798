// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAgentNotFound is returned when no agent matches the lookup.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists is returned when creating an agent that already exists.
	ErrAgentExists = errors.New("agent already exists")
)

// AgentRecord is the stored identity of an agent. TokenHash is the hex
// SHA-256 of the current bearer token; the plaintext is returned once at
// mint time and never stored.
type AgentRecord struct {
	AgentID   string
	Name      string
	TokenHash string
	Scopes    []string
	Enabled   bool
	CreatedAt time.Time
}

// Store is the authoritative persistence for agents and token
// revocations.
type Store interface {
	CreateAgent(ctx context.Context, rec *AgentRecord) error
	GetAgent(ctx context.Context, agentID string) (*AgentRecord, error)
	GetAgentByTokenHash(ctx context.Context, tokenHash string) (*AgentRecord, error)

	// SetTokenHash replaces the agent's token hash (rotation).
	SetTokenHash(ctx context.Context, agentID, tokenHash string) error

	// RevokeHash records a token hash as revoked.
	RevokeHash(ctx context.Context, tokenHash string) error

	// IsHashRevoked reports whether a token hash has been revoked.
	IsHashRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// MemoryStore is an in-process Store for single-node and test
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[string]*AgentRecord // by agent id
	byHash  map[string]string      // token hash -> agent id
	revoked map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[string]*AgentRecord),
		byHash:  make(map[string]string),
		revoked: make(map[string]bool),
	}
}

// CreateAgent stores a new agent record.
func (s *MemoryStore) CreateAgent(_ context.Context, rec *AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[rec.AgentID]; ok {
		return ErrAgentExists
	}
	cp := *rec
	s.agents[rec.AgentID] = &cp
	s.byHash[rec.TokenHash] = rec.AgentID
	return nil
}

// GetAgent fetches an agent by id.
func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetAgentByTokenHash fetches an agent by its current token hash.
func (s *MemoryStore) GetAgentByTokenHash(_ context.Context, tokenHash string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agentID, ok := s.byHash[tokenHash]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *s.agents[agentID]
	return &cp, nil
}

// SetTokenHash replaces the agent's token hash.
func (s *MemoryStore) SetTokenHash(_ context.Context, agentID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	delete(s.byHash, rec.TokenHash)
	rec.TokenHash = tokenHash
	if tokenHash != "" {
		s.byHash[tokenHash] = agentID
	}
	return nil
}

// RevokeHash records a token hash as revoked.
func (s *MemoryStore) RevokeHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenHash] = true
	return nil
}

// IsHashRevoked reports whether a token hash has been revoked.
func (s *MemoryStore) IsHashRevoked(_ context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoked[tokenHash], nil
}
