// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package translator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresBindingStore persists agent→provider bindings as one row
// per agent with a provider array.
//
// Schema:
//
//	CREATE TABLE agent_provider_bindings (
//	    agent_id   TEXT PRIMARY KEY,
//	    providers  TEXT[] NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresBindingStore struct {
	db *sql.DB
}

// NewPostgresBindingStore creates a store over an existing pool.
func NewPostgresBindingStore(db *sql.DB) *PostgresBindingStore {
	return &PostgresBindingStore{db: db}
}

// SetBindings upserts the agent's provider set.
func (s *PostgresBindingStore) SetBindings(ctx context.Context, agentID string, providers []string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_provider_bindings (agent_id, providers)
		 VALUES ($1, $2)
		 ON CONFLICT (agent_id) DO UPDATE SET providers = EXCLUDED.providers, updated_at = now()`,
		agentID, pq.Array(providers))
	if err != nil {
		return fmt.Errorf("upsert bindings: %w", err)
	}
	return nil
}

// GetBindings lists the agent's bound providers.
func (s *PostgresBindingStore) GetBindings(ctx context.Context, agentID string) ([]string, error) {
	var providers pq.StringArray
	err := s.db.QueryRowContext(ctx,
		`SELECT providers FROM agent_provider_bindings WHERE agent_id = $1`,
		agentID).Scan(&providers)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	return providers, nil
}
