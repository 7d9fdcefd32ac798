// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/gateway/auth"
	"axonflow/gateway/breaker"
	"axonflow/gateway/fallback"
	"axonflow/gateway/ledger"
	"axonflow/gateway/pricing"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/translator"
	"axonflow/gateway/vault"
)

// ErrQueueFull is returned when the worker pool cannot take another
// request.
var ErrQueueFull = errors.New("request queue full")

// Server is the gateway's HTTP surface: the agent-facing completion
// API plus the admin provisioning API used by the management service.
type Server struct {
	orch     *Orchestrator
	ledger   *ledger.Ledger
	auth     *auth.Service
	vault    *vault.Vault
	bindings translator.BindingStore
	breakers *breaker.Registry

	// adminSecret verifies HS256 service tokens on /admin routes.
	adminSecret []byte

	// pool bounds concurrent completion executions.
	pool chan struct{}

	log *logger.Logger
}

// ServerOptions wires the Server.
type ServerOptions struct {
	Orchestrator *Orchestrator
	Ledger       *ledger.Ledger
	Auth         *auth.Service
	Vault        *vault.Vault
	Bindings     translator.BindingStore
	Breakers     *breaker.Registry
	AdminSecret  string
	// WorkerPoolSize bounds concurrent completions; requests beyond
	// it get 503 instead of queueing unboundedly.
	WorkerPoolSize int
	Logger         *logger.Logger
}

// NewServer creates the HTTP server.
func NewServer(opts ServerOptions) *Server {
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = 64
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("http")
	}
	return &Server{
		orch:        opts.Orchestrator,
		ledger:      opts.Ledger,
		auth:        opts.Auth,
		vault:       opts.Vault,
		bindings:    opts.Bindings,
		breakers:    opts.Breakers,
		adminSecret: []byte(opts.AdminSecret),
		pool:        make(chan struct{}, opts.WorkerPoolSize),
		log:         log,
	}
}

// Handler builds the full route tree with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/budget", s.handleBudget).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin/v1").Subrouter()
	admin.Use(s.adminAuth)
	admin.HandleFunc("/agents", s.handleCreateAgent).Methods(http.MethodPost)
	admin.HandleFunc("/agents/{id}/token", s.handleRotateToken).Methods(http.MethodPost)
	admin.HandleFunc("/agents/{id}/token", s.handleRevokeToken).Methods(http.MethodDelete)
	admin.HandleFunc("/agents/{id}/bindings", s.handleSetBindings).Methods(http.MethodPut)
	admin.HandleFunc("/agents/{id}/budget", s.handleSetBudget).Methods(http.MethodPost)
	admin.HandleFunc("/providers/{id}/credential", s.handlePutCredential).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

type completeRequest struct {
	Capability   string  `json:"capability"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type completeResponse struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	PromptTokens int     `json:"prompt_tokens"`
	OutputTokens int     `json:"completion_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	RemainingUSD float64 `json:"remaining_usd"`
	RequestID    string  `json:"request_id"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "missing bearer token", nil)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Capability == "" || req.Prompt == "" {
		s.sendError(w, http.StatusBadRequest, "capability and prompt are required", nil)
		return
	}

	// Bounded admission into the worker pool.
	select {
	case s.pool <- struct{}{}:
		defer func() { <-s.pool }()
	default:
		metricPoolSaturated.Inc()
		s.writeExecuteError(w, ErrQueueFull)
		return
	}

	temperature := req.Temperature
	if temperature == 0 {
		// JSON zero is indistinguishable from unset; treat as unset
		// and let adapters default.
		temperature = -1
	}

	resp, err := s.orch.Execute(r.Context(), ExecuteRequest{
		Token:        token,
		Capability:   req.Capability,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		Temperature:  temperature,
	})
	if err != nil {
		s.writeExecuteError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, completeResponse{
		Content:      resp.Content,
		Model:        resp.Model,
		Provider:     resp.Provider,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      pricing.MicrosToUSD(resp.CostMicros),
		RemainingUSD: pricing.MicrosToUSD(resp.RemainingMicros),
		RequestID:    resp.RequestID,
	})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "missing bearer token", nil)
		return
	}
	identity, err := s.auth.Validate(r.Context(), token)
	if err != nil {
		s.writeExecuteError(w, err)
		return
	}

	status, err := s.ledger.Status(r.Context(), identity.AgentID)
	if err != nil {
		if errors.Is(err, ledger.ErrBudgetNotFound) {
			s.sendError(w, http.StatusNotFound, "no budget provisioned", nil)
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to load budget", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":      status.AgentID,
		"limit_usd":     pricing.MicrosToUSD(status.LimitMicros),
		"spent_usd":     pricing.MicrosToUSD(status.SpentMicros),
		"pending_usd":   pricing.MicrosToUSD(status.PendingMicros),
		"remaining_usd": pricing.MicrosToUSD(status.RemainingMicros),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	states := map[string]string{}
	for provider, st := range s.breakers.States() {
		states[provider] = st.String()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": states,
	})
}

type createAgentRequest struct {
	AgentID   string   `json:"agent_id"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes,omitempty"`
	BudgetUSD float64  `json:"budget_usd"`
	Providers []string `json:"providers,omitempty"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.AgentID == "" || req.BudgetUSD <= 0 {
		s.sendError(w, http.StatusBadRequest, "agent_id and positive budget_usd are required", nil)
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{"complete"}
	}

	token, err := s.auth.Mint(r.Context(), req.AgentID, req.Name, req.Scopes)
	if err != nil {
		if errors.Is(err, auth.ErrAgentExists) {
			s.sendError(w, http.StatusConflict, "agent already exists", nil)
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to create agent", nil)
		return
	}

	if err := s.ledger.CreateBudget(r.Context(), req.AgentID, pricing.USDToMicros(req.BudgetUSD)); err != nil && !errors.Is(err, ledger.ErrBudgetExists) {
		s.sendError(w, http.StatusInternalServerError, "failed to provision budget", nil)
		return
	}
	if len(req.Providers) > 0 {
		if err := s.bindings.SetBindings(r.Context(), req.AgentID, req.Providers); err != nil {
			s.sendError(w, http.StatusInternalServerError, "failed to set bindings", nil)
			return
		}
	}

	// The plaintext token appears exactly once, in this response.
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent_id": req.AgentID,
		"token":    token,
	})
}

func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	token, err := s.auth.Rotate(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, auth.ErrAgentNotFound) {
			s.sendError(w, http.StatusNotFound, "agent not found", nil)
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to rotate token", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": agentID,
		"token":    token,
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	if err := s.auth.Revoke(r.Context(), agentID); err != nil {
		if errors.Is(err, auth.ErrAgentNotFound) {
			s.sendError(w, http.StatusNotFound, "agent not found", nil)
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to revoke token", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetBindings(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	var req struct {
		Providers []string `json:"providers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := s.bindings.SetBindings(r.Context(), agentID, req.Providers); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to set bindings", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":  agentID,
		"providers": req.Providers,
	})
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	var req struct {
		LimitUSD float64 `json:"limit_usd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LimitUSD <= 0 {
		s.sendError(w, http.StatusBadRequest, "positive limit_usd is required", nil)
		return
	}

	limit := pricing.USDToMicros(req.LimitUSD)
	err := s.ledger.SetLimit(r.Context(), agentID, limit)
	if errors.Is(err, ledger.ErrBudgetNotFound) {
		err = s.ledger.CreateBudget(r.Context(), agentID, limit)
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to set budget", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":  agentID,
		"limit_usd": req.LimitUSD,
	})
}

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["id"]
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		s.sendError(w, http.StatusBadRequest, "secret is required", nil)
		return
	}

	if err := s.vault.Put(r.Context(), providerID, req.Secret); err != nil {
		s.sendError(w, http.StatusServiceUnavailable, "failed to store credential", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminAuth verifies the HS256 service token on /admin routes.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminSecret) == 0 {
			s.sendError(w, http.StatusForbidden, "admin API disabled", nil)
			return
		}
		raw, ok := bearerToken(r)
		if !ok {
			s.sendError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.adminSecret, nil
		})
		if err != nil || !token.Valid {
			s.sendError(w, http.StatusUnauthorized, "invalid admin token", nil)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			s.sendError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeExecuteError maps orchestration errors to HTTP status codes.
func (s *Server) writeExecuteError(w http.ResponseWriter, err error) {
	var rle *RateLimitError
	switch {
	case errors.Is(err, auth.ErrTokenRevoked):
		s.sendError(w, http.StatusUnauthorized, "token revoked", nil)
	case errors.Is(err, auth.ErrUnauthenticated):
		s.sendError(w, http.StatusUnauthorized, "invalid token", nil)
	case errors.Is(err, ErrForbidden), errors.Is(err, translator.ErrNoProviderBinding):
		s.sendError(w, http.StatusForbidden, "operation not permitted", nil)
	case errors.Is(err, ledger.ErrBudgetExceeded), errors.Is(err, ledger.ErrBudgetNotFound):
		s.sendError(w, http.StatusPaymentRequired, "budget exceeded", nil)
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds()+1)))
		s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded", map[string]interface{}{
			"retry_after_seconds": rle.RetryAfter.Seconds(),
		})
	case errors.Is(err, fallback.ErrUnknownCapability):
		s.sendError(w, http.StatusBadRequest, "unknown capability", nil)
	case errors.Is(err, ErrAllProvidersUnavailable):
		s.sendError(w, http.StatusBadGateway, "all providers unavailable", nil)
	case errors.Is(err, vault.ErrVaultUnavailable), errors.Is(err, ErrQueueFull):
		s.sendError(w, http.StatusServiceUnavailable, "service unavailable", nil)
	default:
		s.sendError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"error": message,
		"code":  status,
	}
	for k, v := range extra {
		body[k] = v
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorWithErr("", "", "failed to encode response", err, nil)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return token, token != ""
}
