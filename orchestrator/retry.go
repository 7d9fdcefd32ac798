// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"axonflow/gateway/llm"
)

// RetryPolicy bounds the per-candidate attempt loop. It is a plain
// value object: delay computation is pure, the loop lives in the
// orchestrator.
type RetryPolicy struct {
	// MaxAttempts caps attempts per provider, first call included.
	MaxAttempts int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt (exponential backoff).
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// JitterFraction randomizes each delay by ±fraction to avoid
	// synchronized retries (0.0-1.0).
	JitterFraction float64
}

// DefaultRetryPolicy is tuned for LLM providers: brief backoff, few
// attempts, the fallback chain does the rest.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	BaseDelay:      200 * time.Millisecond,
	Multiplier:     2.0,
	MaxDelay:       5 * time.Second,
	JitterFraction: 0.2,
}

// Delay computes the backoff before retry number attempt (0-based:
// attempt 0 is the delay after the first failure).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 {
		jitter := 1 + p.JitterFraction*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * jitter)
	}
	return d
}

// retryable reports whether an attempt error is worth repeating
// against the same provider. Auth errors are terminal for the
// candidate: the same credential will keep failing.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsAuthError() {
			return false
		}
		return apiErr.IsRetryable()
	}

	// Timeouts and transport failures may clear up.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
