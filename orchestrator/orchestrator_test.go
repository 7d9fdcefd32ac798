// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

// stubProvider scripts completion outcomes and counts outbound calls.
type stubProvider struct {
	name  string
	calls *int32
	fn    func() (*llm.CompletionResponse, error)
}

func (p *stubProvider) Name() string            { return p.name }
func (p *stubProvider) Capabilities() []string  { return []string{"chat-large"} }
func (p *stubProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	atomic.AddInt32(p.calls, 1)
	return p.fn()
}

func okCompletion(model string) func() (*llm.CompletionResponse, error) {
	return func() (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Content:      "done",
			Model:        model,
			FinishReason: "stop",
			Usage:        llm.UsageStats{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
		}, nil
	}
}

func upstreamFault(provider string) func() (*llm.CompletionResponse, error) {
	return func() (*llm.CompletionResponse, error) {
		return nil, &llm.APIError{Provider: provider, StatusCode: http.StatusInternalServerError, Message: "boom"}
	}
}

// collectSink records drained audit events.
type collectSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *collectSink) Write(_ context.Context, e AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	token    string
	authSvc  *auth.Service
	vault    *vault.Vault
	ledger   *ledger.Ledger
	breakers *breaker.Registry
	bindings *translator.MemoryBindingStore
	sink     *collectSink
	audit    *AuditQueue

	alphaCalls, betaCalls int32
	alpha, beta           *stubProvider
}

// newHarness wires a full in-memory gateway with two providers,
// "alpha" preferred over "beta", a $1 budget and a generous rate
// limit.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := logger.NewWithWriter("test", io.Discard)

	h := &harness{sink: &collectSink{}}
	h.alpha = &stubProvider{name: "alpha", calls: &h.alphaCalls, fn: okCompletion("alpha-model")}
	h.beta = &stubProvider{name: "beta", calls: &h.betaCalls, fn: okCompletion("beta-model")}

	authSvc := auth.NewService(auth.NewMemoryStore(), nil)
	token, err := authSvc.Mint(ctx, "agent-1", "tester", []string{"complete"})
	if err != nil {
		t.Fatal(err)
	}
	h.token = token
	h.authSvc = authSvc

	h.ledger = ledger.New(ledger.NewMemoryRepository(), ledger.Options{}, log)
	t.Cleanup(h.ledger.Stop)
	if err := h.ledger.CreateBudget(ctx, "agent-1", pricing.USDToMicros(1)); err != nil {
		t.Fatal(err)
	}

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := vault.New(key, vault.NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	v.Put(ctx, "alpha", "alpha-secret")
	v.Put(ctx, "beta", "beta-secret")
	h.vault = v

	h.bindings = translator.NewMemoryBindingStore()
	h.bindings.SetBindings(ctx, "agent-1", []string{"alpha", "beta"})

	h.breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: 5,
		FailureWindow:    30 * time.Second,
		Cooldown:         15 * time.Second,
	})
	chains, err := fallback.ParseChains("chat-large=alpha:100,beta:50")
	if err != nil {
		t.Fatal(err)
	}

	providers := llm.NewRegistry()
	providers.Register("alpha", func(credential string) (llm.Provider, error) {
		if credential != "alpha-secret" {
			t.Errorf("alpha credential = %q, want alpha-secret", credential)
		}
		return h.alpha, nil
	})
	providers.Register("beta", func(credential string) (llm.Provider, error) {
		return h.beta, nil
	})

	h.audit = NewAuditQueue(64, h.sink, log)
	t.Cleanup(h.audit.Close)

	h.orch = New(Options{
		Auth:       authSvc,
		Limiter:    ratelimit.NewMemoryLimiter(1000, time.Minute),
		Ledger:     h.ledger,
		Pricing:    pricing.NewTable(),
		Selector:   fallback.NewSelector(chains, h.breakers),
		Breakers:   h.breakers,
		Translator: translator.New(h.bindings, v),
		Providers:  providers,
		Audit:      h.audit,
		Retry:      RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond},
		Logger:     log,
	})
	return h
}

func (h *harness) execute(t *testing.T) (*ExecuteResponse, error) {
	t.Helper()
	return h.orch.Execute(context.Background(), ExecuteRequest{
		Token:       h.token,
		Capability:  "chat-large",
		Prompt:      "summarize the quarterly report",
		MaxTokens:   1000,
		Temperature: -1,
	})
}

func TestExecuteSuccess(t *testing.T) {
	h := newHarness(t)

	resp, err := h.execute(t)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Provider != "alpha" {
		t.Errorf("Provider = %q, want alpha (preferred tier)", resp.Provider)
	}
	if resp.Content != "done" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.CostMicros <= 0 {
		t.Errorf("CostMicros = %d, want positive", resp.CostMicros)
	}
	if resp.RequestID == "" {
		t.Error("RequestID not assigned")
	}

	// Settlement landed in the ledger with nothing left pending.
	st, _ := h.ledger.Status(context.Background(), "agent-1")
	if st.SpentMicros != resp.CostMicros {
		t.Errorf("SpentMicros = %d, want %d", st.SpentMicros, resp.CostMicros)
	}
	if st.PendingMicros != 0 {
		t.Errorf("PendingMicros = %d, want 0", st.PendingMicros)
	}
	if atomic.LoadInt32(&h.betaCalls) != 0 {
		t.Error("beta was called although alpha succeeded")
	}
}

func TestExecuteAuditTrail(t *testing.T) {
	h := newHarness(t)

	if _, err := h.execute(t); err != nil {
		t.Fatal(err)
	}
	h.audit.Close()

	kinds := h.sink.kinds()
	if len(kinds) != 1 || kinds[0] != AuditRequestCompleted {
		t.Errorf("audit kinds = %v, want [request_completed]", kinds)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Execute(context.Background(), ExecuteRequest{
		Token: "axg_bogus", Capability: "chat-large", Prompt: "hi",
	})
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
	if atomic.LoadInt32(&h.alphaCalls) != 0 {
		t.Error("provider called for unauthenticated request")
	}
}

func TestBudgetExceededBeforeAnyCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Exhaust the budget.
	res, err := h.ledger.Reserve(ctx, "agent-1", pricing.USDToMicros(0.99))
	if err != nil {
		t.Fatal(err)
	}
	h.ledger.Commit(ctx, res.ID, pricing.USDToMicros(0.99))

	_, err = h.execute(t)
	if !errors.Is(err, ledger.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if atomic.LoadInt32(&h.alphaCalls)+atomic.LoadInt32(&h.betaCalls) != 0 {
		t.Error("provider called although admission rejected the request")
	}
}

func TestFallbackToSecondTier(t *testing.T) {
	h := newHarness(t)
	h.alpha.fn = upstreamFault("alpha")

	resp, err := h.execute(t)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("Provider = %q, want beta after alpha exhausted", resp.Provider)
	}
	// Alpha got its full retry budget before the chain moved on.
	if got := atomic.LoadInt32(&h.alphaCalls); got != 2 {
		t.Errorf("alpha attempts = %d, want MaxAttempts (2)", got)
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.alpha.fn = func() (*llm.CompletionResponse, error) {
		return nil, &llm.APIError{Provider: "alpha", StatusCode: http.StatusUnauthorized, Message: "bad key"}
	}

	resp, err := h.execute(t)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("Provider = %q, want beta", resp.Provider)
	}
	if got := atomic.LoadInt32(&h.alphaCalls); got != 1 {
		t.Errorf("alpha attempts = %d, want 1; credential rejections must not be retried", got)
	}
}

func TestBreakerOpensAndRoutesAround(t *testing.T) {
	h := newHarness(t)
	h.alpha.fn = upstreamFault("alpha")

	// Each failed request records one breaker failure for alpha
	// (threshold 5). Requests keep succeeding via beta.
	for i := 0; i < 5; i++ {
		resp, err := h.execute(t)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.Provider != "beta" {
			t.Fatalf("request %d Provider = %q, want beta", i, resp.Provider)
		}
	}

	if st := h.breakers.For("alpha").CurrentState(); st != breaker.Open {
		t.Fatalf("alpha breaker = %v, want Open after threshold", st)
	}

	// With alpha's circuit open, it is not even attempted.
	before := atomic.LoadInt32(&h.alphaCalls)
	resp, err := h.execute(t)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "beta" {
		t.Errorf("Provider = %q, want beta", resp.Provider)
	}
	if after := atomic.LoadInt32(&h.alphaCalls); after != before {
		t.Errorf("alpha called %d times while open, want 0", after-before)
	}
}

func TestAllProvidersUnavailableZeroOutbound(t *testing.T) {
	h := newHarness(t)

	// Force both circuits open directly.
	for i := 0; i < 5; i++ {
		h.breakers.For("alpha").RecordFailure()
		h.breakers.For("beta").RecordFailure()
	}

	_, err := h.execute(t)
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Fatalf("err = %v, want ErrAllProvidersUnavailable", err)
	}
	if atomic.LoadInt32(&h.alphaCalls)+atomic.LoadInt32(&h.betaCalls) != 0 {
		t.Error("outbound call made although every breaker was open")
	}

	// The reservation was released; the full budget is available.
	st, _ := h.ledger.Status(context.Background(), "agent-1")
	if st.PendingMicros != 0 || st.SpentMicros != 0 {
		t.Errorf("budget disturbed: pending=%d spent=%d", st.PendingMicros, st.SpentMicros)
	}
}

func TestUnboundProviderSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Agent may only use beta; alpha stays bound to other agents.
	h.bindings.SetBindings(ctx, "agent-1", []string{"beta"})

	resp, err := h.execute(t)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("Provider = %q, want beta", resp.Provider)
	}
	if atomic.LoadInt32(&h.alphaCalls) != 0 {
		t.Error("alpha called without a binding")
	}
}

func TestAllCandidatesFailReleasesBudget(t *testing.T) {
	h := newHarness(t)
	h.alpha.fn = upstreamFault("alpha")
	h.beta.fn = upstreamFault("beta")

	_, err := h.execute(t)
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Fatalf("err = %v, want ErrAllProvidersUnavailable", err)
	}

	st, _ := h.ledger.Status(context.Background(), "agent-1")
	if st.PendingMicros != 0 {
		t.Errorf("PendingMicros = %d after failure, want 0 (released)", st.PendingMicros)
	}
	if st.SpentMicros != 0 {
		t.Errorf("SpentMicros = %d, want 0; failed requests cost nothing", st.SpentMicros)
	}
}

func TestRateLimited(t *testing.T) {
	h := newHarness(t)
	h.orch.opts.Limiter = ratelimit.NewMemoryLimiter(1, time.Minute)

	if _, err := h.execute(t); err != nil {
		t.Fatal(err)
	}

	_, err := h.execute(t)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", rle.RetryAfter)
	}
}

func TestScopeDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authSvc := auth.NewService(auth.NewMemoryStore(), nil)
	token, _ := authSvc.Mint(ctx, "agent-2", "no-scope", []string{"read"})
	h.orch.opts.Auth = authSvc

	_, err := h.orch.Execute(ctx, ExecuteRequest{
		Token: token, Capability: "chat-large", Prompt: "hi",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestUnknownCapability(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Execute(context.Background(), ExecuteRequest{
		Token: h.token, Capability: "image-gen", Prompt: "hi",
	})
	if !errors.Is(err, fallback.ErrUnknownCapability) {
		t.Errorf("err = %v, want ErrUnknownCapability", err)
	}
}

// rewireBreakers swaps in a fast-cooldown registry routing only to
// alpha, for tests that drive breaker recovery in real time.
func (h *harness) rewireBreakers(t *testing.T, cfg breaker.Config) *breaker.Registry {
	t.Helper()
	breakers := breaker.NewRegistry(cfg)
	chains, err := fallback.ParseChains("chat-large=alpha:100")
	if err != nil {
		t.Fatal(err)
	}
	h.orch.opts.Breakers = breakers
	h.orch.opts.Selector = fallback.NewSelector(chains, breakers)
	return breakers
}

func TestCancelDuringBackoffResolvesBreaker(t *testing.T) {
	h := newHarness(t)
	breakers := h.rewireBreakers(t, breaker.Config{
		FailureThreshold: 1,
		FailureWindow:    time.Second,
		Cooldown:         50 * time.Millisecond,
	})

	// First attempt fails retryably and the client gives up during the
	// backoff sleep.
	h.alpha.fn = upstreamFault("alpha")
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.sleepFn = func(c context.Context, _ time.Duration) error {
		cancel()
		return c.Err()
	}
	_, err := h.orch.Execute(ctx, ExecuteRequest{
		Token: h.token, Capability: "chat-large", Prompt: "hello", MaxTokens: 100, Temperature: -1,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The aborted call still resolved the breaker: it opened.
	if got := breakers.For("alpha").CurrentState(); got == breaker.Closed {
		t.Fatalf("breaker state = %v, want opened after aborted call", got)
	}

	// After the provider recovers and the cooldown elapses the probe
	// must go through; a slot leaked by the cancellation would reject
	// it forever.
	h.alpha.fn = okCompletion("alpha-model")
	h.orch.sleepFn = sleepCtx
	time.Sleep(75 * time.Millisecond)
	if _, err := h.execute(t); err != nil {
		t.Fatalf("Execute after recovery = %v, want success", err)
	}
	if got := breakers.For("alpha").CurrentState(); got != breaker.Closed {
		t.Errorf("breaker state after successful probe = %v, want Closed", got)
	}
}

func TestHalfOpenProbeMakesSingleCall(t *testing.T) {
	h := newHarness(t)
	breakers := h.rewireBreakers(t, breaker.Config{
		FailureThreshold: 1,
		FailureWindow:    time.Second,
		Cooldown:         50 * time.Millisecond,
	})
	h.alpha.fn = upstreamFault("alpha")

	// Open the breaker.
	if _, err := h.execute(t); err == nil {
		t.Fatal("expected failure while provider is down")
	}
	before := atomic.LoadInt32(&h.alphaCalls)

	time.Sleep(75 * time.Millisecond)

	// The Half-Open slot buys exactly one outbound call; the retry
	// budget does not apply to a probe.
	if _, err := h.execute(t); err == nil {
		t.Fatal("expected probe failure")
	}
	if got := atomic.LoadInt32(&h.alphaCalls) - before; got != 1 {
		t.Errorf("probe made %d outbound calls, want 1", got)
	}
	if got := breakers.For("alpha").CurrentState(); got != breaker.Open {
		t.Errorf("state after failed probe = %v, want Open", got)
	}
}
