// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package auth issues, validates, rotates and revokes the opaque bearer
// tokens agents present to the gateway. Tokens map 1:1 to agents; the
// store only ever sees SHA-256 hashes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"axonflow/gateway/shared/logger"
)

var (
	// ErrUnauthenticated is returned for absent, malformed or unknown
	// tokens. Terminal: no retry.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTokenRevoked is returned for tokens that were valid once and
	// have been revoked or rotated away. Terminal: no retry.
	ErrTokenRevoked = errors.New("token revoked")
)

// AgentIdentity is the resolved identity of a validated caller.
type AgentIdentity struct {
	AgentID string
	Name    string
	Scopes  []string
}

// HasScope reports whether the identity carries the given scope.
func (id *AgentIdentity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Service validates agent tokens and manages their lifecycle. Validate
// is side-effect free; minting, rotation and revocation mutate the
// store and the revocation cache.
type Service struct {
	store Store
	cache RevocationCache
	log   *logger.Logger
}

// NewService creates a Service. A nil cache gets a process-local one.
func NewService(store Store, cache RevocationCache) *Service {
	if cache == nil {
		cache = NewMemoryRevocationCache()
	}
	return &Service{
		store: store,
		cache: cache,
		log:   logger.New("auth"),
	}
}

// Validate verifies a presented token and resolves the agent identity.
// Returns ErrUnauthenticated for unknown/malformed tokens and
// ErrTokenRevoked for revoked or rotated ones.
func (s *Service) Validate(ctx context.Context, token string) (*AgentIdentity, error) {
	if token == "" || !WellFormed(token) {
		return nil, ErrUnauthenticated
	}

	hash := HashToken(token)

	// Fast revocation check before touching the store.
	if s.cache.Contains(ctx, hash) {
		return nil, ErrTokenRevoked
	}

	rec, err := s.store.GetAgentByTokenHash(ctx, hash)
	if errors.Is(err, ErrAgentNotFound) {
		// Distinguish "never existed" from "revoked": a revoked hash is
		// no longer the agent's current hash but remains in the
		// revocation set.
		revoked, revErr := s.store.IsHashRevoked(ctx, hash)
		if revErr == nil && revoked {
			s.cache.Add(ctx, hash)
			return nil, ErrTokenRevoked
		}
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	if !rec.Enabled {
		return nil, ErrTokenRevoked
	}

	return &AgentIdentity{
		AgentID: rec.AgentID,
		Name:    rec.Name,
		Scopes:  rec.Scopes,
	}, nil
}

// Mint creates an agent record with a fresh token. The plaintext token
// is returned exactly once.
func (s *Service) Mint(ctx context.Context, agentID, name string, scopes []string) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	rec := &AgentRecord{
		AgentID:   agentID,
		Name:      name,
		TokenHash: HashToken(token),
		Scopes:    scopes,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAgent(ctx, rec); err != nil {
		return "", err
	}

	s.log.Info(agentID, "", "agent token minted", nil)
	return token, nil
}

// Rotate mints a replacement token for an agent. The previous token is
// invalid the moment this returns: its hash is revoked in the store and
// pushed to the revocation cache.
func (s *Service) Rotate(ctx context.Context, agentID string) (string, error) {
	rec, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	oldHash := rec.TokenHash
	if err := s.store.SetTokenHash(ctx, agentID, HashToken(token)); err != nil {
		return "", err
	}
	if err := s.store.RevokeHash(ctx, oldHash); err != nil {
		return "", fmt.Errorf("failed to revoke previous token: %w", err)
	}
	s.cache.Add(ctx, oldHash)

	s.log.Info(agentID, "", "agent token rotated", nil)
	return token, nil
}

// Revoke invalidates the agent's current token without minting a
// replacement.
func (s *Service) Revoke(ctx context.Context, agentID string) error {
	rec, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	if err := s.store.RevokeHash(ctx, rec.TokenHash); err != nil {
		return err
	}
	// Detach the hash so instances with a cold cache miss the lookup and
	// land on the revocation set.
	if err := s.store.SetTokenHash(ctx, agentID, ""); err != nil {
		return err
	}
	s.cache.Add(ctx, rec.TokenHash)

	s.log.Warn(agentID, "", "agent token revoked", nil)
	return nil
}
