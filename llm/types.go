// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package llm defines the unified provider interface the gateway
// routes completions through, plus the adapters for each upstream.
package llm

import (
	"fmt"
	"net/http"
	"time"
)

// CompletionRequest encapsulates the parameters for one completion.
type CompletionRequest struct {
	// Prompt is the user's input text.
	Prompt string `json:"prompt"`

	// SystemPrompt optionally sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the response length. If 0, provider defaults
	// apply.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Negative means unset.
	Temperature float64 `json:"temperature,omitempty"`

	// Model overrides the adapter's default model.
	Model string `json:"model,omitempty"`

	// Metadata carries provider-specific options.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CompletionResponse contains the result of a completion.
type CompletionResponse struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   UsageStats `json:"usage"`

	// FinishReason indicates why generation stopped, e.g. "stop" or
	// "max_tokens".
	FinishReason string `json:"finish_reason,omitempty"`

	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for cost settlement.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is a structured upstream fault.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
}

// IsRetryable reports whether the same request may succeed on a
// retry: rate limits, overload and server faults are transient;
// auth and validation errors are not.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return e.StatusCode >= 500
}

// IsAuthError reports an upstream credential rejection. These count
// against the breaker but must never be retried with the same key.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
