// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists agents and token revocations.
//
// Schema:
//
//	CREATE TABLE agents (
//	    agent_id   TEXT PRIMARY KEY,
//	    name       TEXT NOT NULL DEFAULT '',
//	    token_hash TEXT,
//	    scopes     TEXT[] NOT NULL DEFAULT '{}',
//	    enabled    BOOLEAN NOT NULL DEFAULT true,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX agents_token_hash_idx ON agents (token_hash)
//	    WHERE token_hash IS NOT NULL;
//
//	CREATE TABLE revoked_tokens (
//	    token_hash TEXT PRIMARY KEY,
//	    revoked_at TIMESTAMPTZ NOT NULL
//	);
//
// The partial unique index keeps hash lookup a single indexed read
// while any number of revoked agents sit detached with a NULL hash.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore over an existing pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateAgent stores a new agent record.
func (s *PostgresStore) CreateAgent(ctx context.Context, rec *AgentRecord) error {
	query := `
		INSERT INTO agents (agent_id, name, token_hash, scopes, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.AgentID, rec.Name, rec.TokenHash, pq.Array(rec.Scopes), rec.Enabled, rec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAgentExists
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent by id.
func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	query := `
		SELECT agent_id, name, token_hash, scopes, enabled, created_at
		FROM agents WHERE agent_id = $1
	`
	return s.scanAgent(s.db.QueryRowContext(ctx, query, agentID))
}

// GetAgentByTokenHash fetches an agent by its current token hash.
func (s *PostgresStore) GetAgentByTokenHash(ctx context.Context, tokenHash string) (*AgentRecord, error) {
	query := `
		SELECT agent_id, name, token_hash, scopes, enabled, created_at
		FROM agents WHERE token_hash = $1
	`
	return s.scanAgent(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) scanAgent(row *sql.Row) (*AgentRecord, error) {
	var rec AgentRecord
	var hash sql.NullString
	var scopes pq.StringArray
	err := row.Scan(&rec.AgentID, &rec.Name, &hash, &scopes, &rec.Enabled, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent: %w", err)
	}
	rec.TokenHash = hash.String
	rec.Scopes = scopes
	return &rec, nil
}

// SetTokenHash replaces the agent's token hash. An empty hash detaches
// the token and is stored as NULL, so any number of revoked agents can
// coexist under the partial unique index.
func (s *PostgresStore) SetTokenHash(ctx context.Context, agentID, tokenHash string) error {
	hash := sql.NullString{String: tokenHash, Valid: tokenHash != ""}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET token_hash = $2 WHERE agent_id = $1`, agentID, hash)
	if err != nil {
		return fmt.Errorf("failed to update token hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// RevokeHash records a token hash as revoked.
func (s *PostgresStore) RevokeHash(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_hash, revoked_at)
		VALUES ($1, NOW())
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsHashRevoked reports whether a token hash has been revoked.
func (s *PostgresStore) IsHashRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1)`, tokenHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return exists, nil
}
