// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package breaker tracks per-provider health and stops routing to
// providers that keep failing, so a dead upstream sheds load instead
// of eating every request's retry budget.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the current state of a circuit breaker.
type State int

const (
	// Closed admits all requests.
	Closed State = iota
	// Open rejects all requests until the cooldown elapses.
	Open
	// HalfOpen admits a single probe request.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// OpenError is returned when a request is rejected because the
// circuit is not admitting traffic.
type OpenError struct {
	Provider string
	State    State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("provider %s circuit is %s", e.Provider, e.State)
}

// Config tunes breaker transitions.
type Config struct {
	// FailureThreshold is the number of failures inside FailureWindow
	// that opens the circuit.
	FailureThreshold int
	// FailureWindow bounds how long a failure counts against the
	// threshold.
	FailureWindow time.Duration
	// Cooldown is how long an open circuit waits before admitting a
	// probe.
	Cooldown time.Duration
}

// DefaultConfig matches the tolerances of typical LLM providers:
// brief error bursts are normal, sustained failure is not.
var DefaultConfig = Config{
	FailureThreshold: 5,
	FailureWindow:    30 * time.Second,
	Cooldown:         15 * time.Second,
}

// Breaker is the circuit for one provider. Transitions happen under
// the mutex; clock reads go through nowFn so tests can steer time.
type Breaker struct {
	provider string
	cfg      Config

	mu         sync.Mutex
	state      State
	failures   []time.Time
	openedAt   time.Time
	probeInFly bool

	nowFn func() time.Time
}

// New creates a closed breaker for a provider.
func New(provider string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultConfig.FailureWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	return &Breaker{provider: provider, cfg: cfg, nowFn: time.Now}
}

// Allow reports whether a request may proceed. In Half-Open exactly
// one caller wins the probe slot; everyone else is rejected until the
// probe resolves. probe is true when this caller holds that slot: it
// must make at most one outbound call and must resolve the breaker
// with RecordSuccess or RecordFailure, or the slot stays taken.
func (b *Breaker) Allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil

	case Open:
		if b.nowFn().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, &OpenError{Provider: b.provider, State: Open}
		}
		b.state = HalfOpen
		b.probeInFly = true
		return true, nil

	case HalfOpen:
		if b.probeInFly {
			return false, &OpenError{Provider: b.provider, State: HalfOpen}
		}
		b.probeInFly = true
		return true, nil

	default:
		return false, &OpenError{Provider: b.provider, State: b.state}
	}
}

// RecordSuccess notes a successful call. A successful probe closes
// the circuit and clears the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.failures = nil
		b.probeInFly = false
	case Closed:
		b.failures = nil
	}
}

// RecordFailure notes a failed call. Enough failures inside the
// window open the circuit; a failed probe reopens it and restarts the
// cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.probeInFly = false

	case Closed:
		cutoff := now.Add(-b.cfg.FailureWindow)
		kept := b.failures[:0]
		for _, t := range b.failures {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		b.failures = append(kept, now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = now
			b.failures = nil
		}
	}
}

// CurrentState returns the breaker state, surfacing Half-Open for an
// open circuit whose cooldown has elapsed. This is a read-only view:
// the actual Open→Half-Open transition (and the probe slot) happens in
// Allow, so a health report may show half_open before any probe ran.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.nowFn().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed. Operator escape hatch.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = nil
	b.probeInFly = false
}
