// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package orchestrator drives a completion request through admission,
// provider selection and settlement: validate, rate limit, reserve
// budget, walk the fallback chain with bounded retries, commit the
// actual cost.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"axonflow/gateway/auth"
	"axonflow/gateway/breaker"
	"axonflow/gateway/fallback"
	"axonflow/gateway/ledger"
	"axonflow/gateway/llm"
	"axonflow/gateway/pricing"
	"axonflow/gateway/ratelimit"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/translator"
	"axonflow/gateway/vault"
)

var (
	// ErrAllProvidersUnavailable is returned when every candidate in
	// the fallback chain was skipped or exhausted.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrForbidden is returned when the agent's scopes do not cover
	// the operation.
	ErrForbidden = errors.New("scope denied")
)

// RateLimitError is returned when the agent exceeded its request
// rate.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// ExecuteRequest is one completion request entering the gateway.
type ExecuteRequest struct {
	// Token is the agent's opaque bearer token.
	Token string

	// Capability selects the fallback chain, e.g. "chat-large".
	Capability string

	Prompt       string
	SystemPrompt string
	// Model optionally pins a model; empty uses adapter defaults.
	Model string
	// MaxTokens bounds the response and the cost estimate.
	MaxTokens int
	// Temperature < 0 means unset.
	Temperature float64

	// RequestID correlates logs and audit entries; generated when
	// empty.
	RequestID string
}

// ExecuteResponse is the gateway's answer for an admitted request.
type ExecuteResponse struct {
	Content  string
	Model    string
	Provider string
	Usage    llm.UsageStats

	// CostMicros is the settled cost of this request.
	CostMicros int64
	// RemainingMicros is the budget left after settlement.
	RemainingMicros int64

	RequestID string
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Auth       *auth.Service
	Limiter    ratelimit.Limiter
	Ledger     *ledger.Ledger
	Pricing    *pricing.Table
	Selector   *fallback.Selector
	Breakers   *breaker.Registry
	Translator *translator.Translator
	Providers  *llm.Registry
	Audit      *AuditQueue

	Retry RetryPolicy
	// AttemptTimeout bounds each outbound provider call.
	AttemptTimeout time.Duration
	// DefaultMaxTokens is assumed for cost estimation when the request
	// does not set MaxTokens.
	DefaultMaxTokens int

	Logger *logger.Logger
}

// Orchestrator executes completion requests.
type Orchestrator struct {
	opts Options
	log  *logger.Logger

	sleepFn func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 60 * time.Second
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 4096
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("orchestrator")
	}
	return &Orchestrator{opts: opts, log: log, sleepFn: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the full admission and fallback sequence. On any exit
// that did not commit, the budget reservation is released.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	resp, err := o.execute(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metricRequestsTotal.WithLabelValues(outcome).Inc()
	metricRequestDuration.WithLabelValues(outcome).Observe(float64(time.Since(start).Milliseconds()))
	return resp, err
}

func (o *Orchestrator) execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	identity, err := o.opts.Auth.Validate(ctx, req.Token)
	if err != nil {
		metricAdmissionRejections.WithLabelValues("unauthenticated").Inc()
		return nil, err
	}
	agentID := identity.AgentID

	if !identity.HasScope("complete") {
		metricAdmissionRejections.WithLabelValues("scope").Inc()
		o.auditReject(agentID, req.RequestID, "scope_denied")
		return nil, ErrForbidden
	}

	decision, err := o.opts.Limiter.Check(ctx, ratelimit.AgentKey(agentID))
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !decision.Allowed {
		metricAdmissionRejections.WithLabelValues("rate_limit").Inc()
		o.auditReject(agentID, req.RequestID, "rate_limited")
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	candidates, err := o.opts.Selector.Select(req.Capability, nil)
	if err != nil {
		metricAdmissionRejections.WithLabelValues("capability").Inc()
		return nil, err
	}
	if len(candidates) == 0 {
		metricAdmissionRejections.WithLabelValues("no_provider").Inc()
		o.auditReject(agentID, req.RequestID, "no_routable_provider")
		return nil, ErrAllProvidersUnavailable
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.opts.DefaultMaxTokens
	}
	promptTokens := pricing.EstimateTokens(req.Prompt + req.SystemPrompt)
	// Estimate against the preferred candidate; the table falls back
	// to wildcard rates for unknown models.
	estimate := o.opts.Pricing.EstimateMicros(candidates[0], req.Model, promptTokens, maxTokens)

	reservation, err := o.opts.Ledger.Reserve(ctx, agentID, estimate)
	if err != nil {
		if errors.Is(err, ledger.ErrBudgetExceeded) || errors.Is(err, ledger.ErrBudgetNotFound) {
			metricAdmissionRejections.WithLabelValues("budget").Inc()
			o.auditReject(agentID, req.RequestID, "budget_exceeded")
		}
		return nil, err
	}

	committed := false
	defer func() {
		if !committed {
			if relErr := o.opts.Ledger.Release(context.WithoutCancel(ctx), reservation.ID); relErr != nil {
				o.log.ErrorWithErr(agentID, req.RequestID, "failed to release reservation", relErr, nil)
			}
		}
	}()

	var lastErr error
	for _, provider := range candidates {
		resp, attemptErr := o.tryProvider(ctx, identity, req, provider, maxTokens)
		if attemptErr == nil {
			result, commitErr := o.settle(ctx, agentID, req, reservation.ID, provider, resp)
			if commitErr != nil {
				return nil, commitErr
			}
			committed = true
			return result, nil
		}

		if errors.Is(attemptErr, vault.ErrVaultUnavailable) {
			// Fail closed: no call goes out with a missing or wrong
			// credential, and the outage is not a provider fault.
			return nil, attemptErr
		}
		if errors.Is(attemptErr, context.Canceled) {
			return nil, attemptErr
		}
		lastErr = attemptErr
		o.log.Warn(agentID, req.RequestID, "provider candidate exhausted", map[string]interface{}{
			"provider": provider, "error": attemptErr.Error(),
		})
	}

	o.opts.Audit.Emit(AuditEvent{
		Kind: AuditRequestFailed, AgentID: agentID, RequestID: req.RequestID,
		Details: map[string]interface{}{"candidates": candidates, "last_error": fmt.Sprint(lastErr)},
	})
	return nil, ErrAllProvidersUnavailable
}

// errSkipCandidate marks candidates that never produced an outbound
// call (no binding, no credential, breaker rejected the probe slot).
var errSkipCandidate = errors.New("candidate skipped")

func (o *Orchestrator) tryProvider(ctx context.Context, identity *auth.AgentIdentity, req ExecuteRequest, provider string, maxTokens int) (*llm.CompletionResponse, error) {
	cred, err := o.opts.Translator.Translate(ctx, identity.AgentID, provider)
	if err != nil {
		if errors.Is(err, translator.ErrNoProviderBinding) || errors.Is(err, vault.ErrCredentialNotFound) {
			return nil, fmt.Errorf("%w: %v", errSkipCandidate, err)
		}
		return nil, err
	}

	br := o.opts.Breakers.For(provider)
	probe, err := br.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSkipCandidate, err)
	}

	// Every exit below must resolve the slot Allow granted: a
	// cancellation that left a Half-Open probe unresolved would keep
	// the provider unroutable until restart.
	succeeded := false
	defer func() {
		if succeeded {
			br.RecordSuccess()
		} else {
			br.RecordFailure()
		}
	}()

	adapter, err := o.opts.Providers.Build(provider, cred.Secret)
	if err != nil {
		return nil, err
	}

	completion := llm.CompletionRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  req.Temperature,
		Model:        req.Model,
	}

	maxAttempts := o.opts.Retry.MaxAttempts
	if probe {
		// A Half-Open slot buys exactly one outbound call.
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
		resp, err := adapter.Complete(attemptCtx, completion)
		cancel()

		if err == nil {
			metricProviderAttempts.WithLabelValues(provider, "success").Inc()
			succeeded = true
			return resp, nil
		}

		metricProviderAttempts.WithLabelValues(provider, "failure").Inc()
		lastErr = err
		o.log.Warn(identity.AgentID, req.RequestID, "provider attempt failed", map[string]interface{}{
			"provider": provider, "attempt": attempt + 1, "error": err.Error(),
		})

		if !retryable(err) {
			break
		}
		if attempt+1 < maxAttempts {
			if err := o.sleepFn(ctx, o.opts.Retry.Delay(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

func (o *Orchestrator) settle(ctx context.Context, agentID string, req ExecuteRequest, reservationID, provider string, resp *llm.CompletionResponse) (*ExecuteResponse, error) {
	actual := o.opts.Pricing.CostMicros(provider, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	commit, err := o.opts.Ledger.Commit(ctx, reservationID, actual)
	if err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	metricTokensTotal.WithLabelValues(provider, resp.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metricTokensTotal.WithLabelValues(provider, resp.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	metricCostMicros.WithLabelValues(provider, resp.Model).Add(float64(actual))

	o.opts.Audit.Emit(AuditEvent{
		Kind: AuditRequestCompleted, AgentID: agentID, RequestID: req.RequestID,
		Provider: provider, Model: resp.Model, CostMicros: actual,
		Details: map[string]interface{}{
			"capability":        req.Capability,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"finish_reason":     resp.FinishReason,
		},
	})

	o.log.InfoWithDuration(agentID, req.RequestID, "request completed", float64(resp.Latency.Milliseconds()), map[string]interface{}{
		"provider": provider, "model": resp.Model, "cost_micros": actual,
	})

	return &ExecuteResponse{
		Content:         resp.Content,
		Model:           resp.Model,
		Provider:        provider,
		Usage:           resp.Usage,
		CostMicros:      actual,
		RemainingMicros: commit.RemainingMicros,
		RequestID:       req.RequestID,
	}, nil
}

func (o *Orchestrator) auditReject(agentID, requestID, reason string) {
	o.opts.Audit.Emit(AuditEvent{
		Kind: AuditRequestRejected, AgentID: agentID, RequestID: requestID,
		Details: map[string]interface{}{"reason": reason},
	})
}

func outcomeLabel(err error) string {
	var rle *RateLimitError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrTokenRevoked):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.As(err, &rle):
		return "rate_limited"
	case errors.Is(err, ledger.ErrBudgetExceeded), errors.Is(err, ledger.ErrBudgetNotFound):
		return "budget_exceeded"
	case errors.Is(err, ErrAllProvidersUnavailable), errors.Is(err, fallback.ErrUnknownCapability):
		return "unavailable"
	default:
		return "error"
	}
}
