// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresRepository persists budgets and reservations in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE agent_budgets (
//	    agent_id     TEXT PRIMARY KEY,
//	    limit_micros BIGINT NOT NULL,
//	    spent_micros BIGINT NOT NULL DEFAULT 0,
//	    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE budget_reservations (
//	    id            TEXT PRIMARY KEY,
//	    agent_id      TEXT NOT NULL REFERENCES agent_budgets(agent_id),
//	    amount_micros BIGINT NOT NULL,
//	    status        TEXT NOT NULL DEFAULT 'open',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    expires_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository over an existing pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBudget inserts a new budget row.
func (r *PostgresRepository) CreateBudget(ctx context.Context, b *Budget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agent_budgets (agent_id, limit_micros, spent_micros) VALUES ($1, $2, $3)`,
		b.AgentID, b.LimitMicros, b.SpentMicros)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBudgetExists
		}
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

// GetBudget fetches a budget row.
func (r *PostgresRepository) GetBudget(ctx context.Context, agentID string) (*Budget, error) {
	b := &Budget{AgentID: agentID}
	err := r.db.QueryRowContext(ctx,
		`SELECT limit_micros, spent_micros FROM agent_budgets WHERE agent_id = $1`,
		agentID).Scan(&b.LimitMicros, &b.SpentMicros)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query budget: %w", err)
	}
	return b, nil
}

// SetLimit updates the ceiling for an agent.
func (r *PostgresRepository) SetLimit(ctx context.Context, agentID string, limitMicros int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE agent_budgets SET limit_micros = $2, updated_at = now() WHERE agent_id = $1`,
		agentID, limitMicros)
	if err != nil {
		return fmt.Errorf("update limit: %w", err)
	}
	return checkAffected(res)
}

// AddSpend adjusts committed spend atomically in the row.
func (r *PostgresRepository) AddSpend(ctx context.Context, agentID string, deltaMicros int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE agent_budgets SET spent_micros = spent_micros + $2, updated_at = now() WHERE agent_id = $1`,
		agentID, deltaMicros)
	if err != nil {
		return fmt.Errorf("update spend: %w", err)
	}
	return checkAffected(res)
}

// SaveReservation records an open reservation.
func (r *PostgresRepository) SaveReservation(ctx context.Context, res *Reservation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budget_reservations (id, agent_id, amount_micros, status, created_at, expires_at)
		 VALUES ($1, $2, $3, 'open', $4, $5)`,
		res.ID, res.AgentID, res.AmountMicros, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// ResolveReservation marks an open reservation with a terminal status.
func (r *PostgresRepository) ResolveReservation(ctx context.Context, reservationID, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE budget_reservations SET status = $2 WHERE id = $1 AND status = 'open'`,
		reservationID, status)
	if err != nil {
		return fmt.Errorf("resolve reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
