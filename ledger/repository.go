// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"sync"
	"time"
)

// Budget is the persisted budget row for one agent. Amounts are in
// micro-USD.
type Budget struct {
	AgentID     string
	LimitMicros int64
	SpentMicros int64
}

// Reservation is an ephemeral hold on an agent's budget for one
// in-flight request.
type Reservation struct {
	ID           string
	AgentID      string
	AmountMicros int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Reservation resolution statuses as persisted.
const (
	StatusCommitted = "committed"
	StatusReleased  = "released"
	StatusExpired   = "expired"
)

// Repository is the durable backing for budgets and reservations. The
// ledger owns admission serialization; the repository only records
// outcomes, so implementations need no cross-row transactions.
type Repository interface {
	CreateBudget(ctx context.Context, b *Budget) error
	GetBudget(ctx context.Context, agentID string) (*Budget, error)
	SetLimit(ctx context.Context, agentID string, limitMicros int64) error

	// AddSpend adjusts the committed spend of an agent.
	AddSpend(ctx context.Context, agentID string, deltaMicros int64) error

	// SaveReservation records an open reservation.
	SaveReservation(ctx context.Context, r *Reservation) error

	// ResolveReservation marks an open reservation with a terminal
	// status.
	ResolveReservation(ctx context.Context, reservationID, status string) error
}

// MemoryRepository is an in-process Repository for single-node and test
// deployments.
type MemoryRepository struct {
	mu           sync.RWMutex
	budgets      map[string]*Budget
	reservations map[string]*Reservation
	statuses     map[string]string
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		budgets:      make(map[string]*Budget),
		reservations: make(map[string]*Reservation),
		statuses:     make(map[string]string),
	}
}

// CreateBudget stores a new budget.
func (r *MemoryRepository) CreateBudget(_ context.Context, b *Budget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.budgets[b.AgentID]; ok {
		return ErrBudgetExists
	}
	cp := *b
	r.budgets[b.AgentID] = &cp
	return nil
}

// GetBudget fetches a budget by agent id.
func (r *MemoryRepository) GetBudget(_ context.Context, agentID string) (*Budget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.budgets[agentID]
	if !ok {
		return nil, ErrBudgetNotFound
	}
	cp := *b
	return &cp, nil
}

// SetLimit updates the budget ceiling.
func (r *MemoryRepository) SetLimit(_ context.Context, agentID string, limitMicros int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.budgets[agentID]
	if !ok {
		return ErrBudgetNotFound
	}
	b.LimitMicros = limitMicros
	return nil
}

// AddSpend adjusts committed spend.
func (r *MemoryRepository) AddSpend(_ context.Context, agentID string, deltaMicros int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.budgets[agentID]
	if !ok {
		return ErrBudgetNotFound
	}
	b.SpentMicros += deltaMicros
	return nil
}

// SaveReservation records an open reservation.
func (r *MemoryRepository) SaveReservation(_ context.Context, res *Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	r.reservations[res.ID] = &cp
	return nil
}

// ResolveReservation marks a reservation with a terminal status.
func (r *MemoryRepository) ResolveReservation(_ context.Context, reservationID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[reservationID]; !ok {
		return ErrReservationNotFound
	}
	r.statuses[reservationID] = status
	return nil
}

// ReservationStatus reports the recorded status for tests.
func (r *MemoryRepository) ReservationStatus(reservationID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statuses[reservationID]
}
