// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package ledger enforces per-agent cost budgets with a
// reserve/commit/release cycle. All amounts are integer micro-USD so
// that admission arithmetic never drifts.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"axonflow/gateway/shared/logger"
)

// Warning kinds emitted through the WarningFunc callback.
const (
	WarnSoftThreshold = "soft_threshold"
	WarnOverrun       = "budget_overrun"
)

// Warning describes a budget event worth surfacing to operators. It is
// informational; it never blocks the request that triggered it.
type Warning struct {
	AgentID       string
	Kind          string
	SpentMicros   int64
	LimitMicros   int64
	ReservationID string
}

// WarningFunc receives budget warnings. Implementations must not
// block; the ledger calls it synchronously outside its locks.
type WarningFunc func(Warning)

// CommitResult reports the outcome of settling a reservation.
type CommitResult struct {
	SpentMicros     int64
	LimitMicros     int64
	RemainingMicros int64
	// OverrunMicros is how far actual spend exceeded the limit, zero
	// when within budget. Commits always succeed: the money is spent
	// whether or not the estimate was right.
	OverrunMicros int64
}

// Status is a point-in-time view of an agent's budget.
type Status struct {
	AgentID         string
	LimitMicros     int64
	SpentMicros     int64
	PendingMicros   int64
	RemainingMicros int64
}

// account is the in-memory admission state for one agent. Its mutex
// covers arithmetic only; repository calls happen outside it.
type account struct {
	mu         sync.Mutex
	loaded     bool
	limit      int64
	spent      int64
	pending    int64
	warnedSoft bool
	overrun    bool
}

// Options configure a Ledger.
type Options struct {
	// ReservationTTL bounds how long a reservation may stay open
	// before the sweeper releases it.
	ReservationTTL time.Duration
	// SoftThreshold is the fraction of the limit at which a warning
	// fires, e.g. 0.9.
	SoftThreshold float64
	OnWarning     WarningFunc
}

// Ledger admits requests against per-agent budgets. Admission holds
// a per-agent lock over the comparison and the pending increment, so
// two concurrent reservations can never jointly exceed the limit.
type Ledger struct {
	repo Repository
	opts Options
	log  *logger.Logger

	mu       sync.Mutex
	accounts map[string]*account

	resMu        sync.Mutex
	open         map[string]*Reservation
	resolved     map[string]time.Time
	sweeperStop  chan struct{}
	sweeperOnce  sync.Once
	stopOnce     sync.Once
	nowFn        func() time.Time
}

// New creates a Ledger over the given repository.
func New(repo Repository, opts Options, log *logger.Logger) *Ledger {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 2 * time.Minute
	}
	if opts.SoftThreshold <= 0 || opts.SoftThreshold > 1 {
		opts.SoftThreshold = 0.9
	}
	if log == nil {
		log = logger.New("ledger")
	}
	return &Ledger{
		repo:        repo,
		opts:        opts,
		log:         log,
		accounts:    make(map[string]*account),
		open:        make(map[string]*Reservation),
		resolved:    make(map[string]time.Time),
		sweeperStop: make(chan struct{}),
		nowFn:       time.Now,
	}
}

// CreateBudget provisions a budget for an agent.
func (l *Ledger) CreateBudget(ctx context.Context, agentID string, limitMicros int64) error {
	if limitMicros <= 0 {
		return ErrInvalidAmount
	}
	if err := l.repo.CreateBudget(ctx, &Budget{AgentID: agentID, LimitMicros: limitMicros}); err != nil {
		return err
	}
	acct := l.getAccount(agentID)
	acct.mu.Lock()
	acct.loaded = true
	acct.limit = limitMicros
	acct.mu.Unlock()
	return nil
}

// SetLimit raises or lowers an agent's budget ceiling. Lowering below
// current spend is allowed; the agent simply stops admitting.
func (l *Ledger) SetLimit(ctx context.Context, agentID string, limitMicros int64) error {
	if limitMicros <= 0 {
		return ErrInvalidAmount
	}
	acct, err := l.loadedAccount(ctx, agentID)
	if err != nil {
		return err
	}
	if err := l.repo.SetLimit(ctx, agentID, limitMicros); err != nil {
		return fmt.Errorf("persist limit: %w", err)
	}
	acct.mu.Lock()
	acct.limit = limitMicros
	if float64(acct.spent) < l.opts.SoftThreshold*float64(acct.limit) {
		acct.warnedSoft = false
	}
	if acct.spent <= acct.limit {
		acct.overrun = false
	}
	acct.mu.Unlock()
	return nil
}

// Reserve places a hold for an estimated cost. It fails with
// ErrBudgetExceeded when committed spend plus all outstanding holds
// cannot cover the estimate.
func (l *Ledger) Reserve(ctx context.Context, agentID string, estimateMicros int64) (*Reservation, error) {
	if estimateMicros <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := l.loadedAccount(ctx, agentID)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	if acct.spent+acct.pending+estimateMicros > acct.limit {
		acct.mu.Unlock()
		return nil, ErrBudgetExceeded
	}
	acct.pending += estimateMicros
	acct.mu.Unlock()

	now := l.nowFn()
	res := &Reservation{
		ID:           "rsv_" + uuid.New().String(),
		AgentID:      agentID,
		AmountMicros: estimateMicros,
		CreatedAt:    now,
		ExpiresAt:    now.Add(l.opts.ReservationTTL),
	}

	if err := l.repo.SaveReservation(ctx, res); err != nil {
		// Fail closed: the hold is returned before the caller sees it.
		acct.mu.Lock()
		acct.pending -= estimateMicros
		acct.mu.Unlock()
		return nil, fmt.Errorf("persist reservation: %w", err)
	}

	l.resMu.Lock()
	l.open[res.ID] = res
	l.resMu.Unlock()

	return res, nil
}

// Commit settles a reservation with the actual cost. It always
// succeeds for an open reservation, even when the actual exceeds the
// remaining budget; overruns are reported, not rejected.
func (l *Ledger) Commit(ctx context.Context, reservationID string, actualMicros int64) (*CommitResult, error) {
	if actualMicros < 0 {
		return nil, ErrInvalidAmount
	}
	res, err := l.take(reservationID)
	if err != nil {
		return nil, err
	}

	acct := l.getAccount(res.AgentID)
	acct.mu.Lock()
	acct.pending -= res.AmountMicros
	acct.spent += actualMicros
	spent, limit := acct.spent, acct.limit
	var warnings []Warning
	if spent > limit && !acct.overrun {
		acct.overrun = true
		warnings = append(warnings, Warning{
			AgentID: res.AgentID, Kind: WarnOverrun,
			SpentMicros: spent, LimitMicros: limit, ReservationID: reservationID,
		})
	}
	if float64(spent) >= l.opts.SoftThreshold*float64(limit) && !acct.warnedSoft {
		acct.warnedSoft = true
		warnings = append(warnings, Warning{
			AgentID: res.AgentID, Kind: WarnSoftThreshold,
			SpentMicros: spent, LimitMicros: limit, ReservationID: reservationID,
		})
	}
	acct.mu.Unlock()

	for _, w := range warnings {
		l.warn(w)
	}

	if err := l.repo.AddSpend(ctx, res.AgentID, actualMicros); err != nil {
		l.log.ErrorWithErr(res.AgentID, "", "failed to persist spend", err, map[string]interface{}{
			"reservation_id": reservationID,
		})
	}
	if err := l.repo.ResolveReservation(ctx, reservationID, StatusCommitted); err != nil {
		l.log.ErrorWithErr(res.AgentID, "", "failed to resolve reservation", err, map[string]interface{}{
			"reservation_id": reservationID,
		})
	}

	cr := &CommitResult{SpentMicros: spent, LimitMicros: limit}
	if spent > limit {
		cr.OverrunMicros = spent - limit
	} else {
		cr.RemainingMicros = limit - spent
	}
	return cr, nil
}

// Release returns a hold untouched, for requests that failed before
// incurring cost.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	return l.release(ctx, reservationID, StatusReleased)
}

func (l *Ledger) release(ctx context.Context, reservationID, status string) error {
	res, err := l.take(reservationID)
	if err != nil {
		return err
	}

	acct := l.getAccount(res.AgentID)
	acct.mu.Lock()
	acct.pending -= res.AmountMicros
	acct.mu.Unlock()

	if err := l.repo.ResolveReservation(ctx, reservationID, status); err != nil {
		l.log.ErrorWithErr(res.AgentID, "", "failed to resolve reservation", err, map[string]interface{}{
			"reservation_id": reservationID,
		})
	}
	return nil
}

// Status reports current budget usage for an agent.
func (l *Ledger) Status(ctx context.Context, agentID string) (*Status, error) {
	acct, err := l.loadedAccount(ctx, agentID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	s := &Status{
		AgentID:       agentID,
		LimitMicros:   acct.limit,
		SpentMicros:   acct.spent,
		PendingMicros: acct.pending,
	}
	if remaining := acct.limit - acct.spent - acct.pending; remaining > 0 {
		s.RemainingMicros = remaining
	}
	return s, nil
}

// StartSweeper launches the background goroutine that releases
// expired reservations so orphaned holds never starve an agent.
func (l *Ledger) StartSweeper(interval time.Duration) {
	l.sweeperOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					l.sweep(context.Background())
				case <-l.sweeperStop:
					return
				}
			}
		}()
	})
}

// Stop halts the sweeper.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() { close(l.sweeperStop) })
}

func (l *Ledger) sweep(ctx context.Context) {
	now := l.nowFn()

	l.resMu.Lock()
	var expired []string
	for id, res := range l.open {
		if now.After(res.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	// Prune resolution tombstones once duplicates can no longer arrive.
	horizon := now.Add(-10 * l.opts.ReservationTTL)
	for id, at := range l.resolved {
		if at.Before(horizon) {
			delete(l.resolved, id)
		}
	}
	l.resMu.Unlock()

	for _, id := range expired {
		if err := l.release(ctx, id, StatusExpired); err != nil {
			continue
		}
		l.log.Warn("", "", "released expired reservation", map[string]interface{}{
			"reservation_id": id,
		})
	}
}

// take atomically removes an open reservation, distinguishing
// already-resolved ids from never-issued ones.
func (l *Ledger) take(reservationID string) (*Reservation, error) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	res, ok := l.open[reservationID]
	if !ok {
		if _, done := l.resolved[reservationID]; done {
			return nil, ErrReservationResolved
		}
		return nil, ErrReservationNotFound
	}
	delete(l.open, reservationID)
	l.resolved[reservationID] = l.nowFn()
	return res, nil
}

func (l *Ledger) getAccount(agentID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[agentID]
	if !ok {
		acct = &account{}
		l.accounts[agentID] = acct
	}
	return acct
}

// loadedAccount returns the agent's account, hydrating limit and
// spent from the repository on first touch. The repository read
// happens outside the account lock.
func (l *Ledger) loadedAccount(ctx context.Context, agentID string) (*account, error) {
	acct := l.getAccount(agentID)
	acct.mu.Lock()
	loaded := acct.loaded
	acct.mu.Unlock()
	if loaded {
		return acct, nil
	}

	b, err := l.repo.GetBudget(ctx, agentID)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	if !acct.loaded {
		acct.loaded = true
		acct.limit = b.LimitMicros
		acct.spent = b.SpentMicros
	}
	acct.mu.Unlock()
	return acct, nil
}

func (l *Ledger) warn(w Warning) {
	l.log.Warn(w.AgentID, "", "budget warning", map[string]interface{}{
		"kind":         w.Kind,
		"spent_micros": w.SpentMicros,
		"limit_micros": w.LimitMicros,
	})
	if l.opts.OnWarning != nil {
		l.opts.OnWarning(w)
	}
}
