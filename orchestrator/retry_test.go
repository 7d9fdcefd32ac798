// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"axonflow/gateway/llm"
)

func TestRetryPolicyDelayGrows(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   time.Second,
	}

	if got := p.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v, want 100ms", got)
	}
	if got := p.Delay(1); got != 200*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 200ms", got)
	}
	// Capped at MaxDelay.
	if got := p.Delay(10); got != time.Second {
		t.Errorf("Delay(10) = %v, want capped 1s", got)
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:      time.Second,
		Multiplier:     2,
		MaxDelay:       time.Second,
		JitterFraction: 0.2,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("Delay with 20%% jitter = %v, want within [800ms, 1200ms]", d)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &llm.APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server fault", &llm.APIError{StatusCode: http.StatusInternalServerError}, true},
		{"bad request", &llm.APIError{StatusCode: http.StatusBadRequest}, false},
		{"auth", &llm.APIError{StatusCode: http.StatusUnauthorized}, false},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"transport", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("retryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
