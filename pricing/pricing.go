// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package pricing maps provider/model token usage to cost. All internal
// arithmetic happens in integer micro-USD so concurrent accounting never
// accumulates floating-point drift; float USD appears only at API edges.
package pricing

import (
	"sync"
)

// MicrosPerUSD is the fixed-point scale: 1 USD = 1,000,000 micro-USD.
const MicrosPerUSD int64 = 1_000_000

// USDToMicros converts a float USD amount to micro-USD.
func USDToMicros(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(usd*float64(MicrosPerUSD) + 0.5)
}

// MicrosToUSD converts micro-USD back to float USD.
func MicrosToUSD(micros int64) float64 {
	return float64(micros) / float64(MicrosPerUSD)
}

// ModelPricing contains pricing per 1K tokens for a model, in USD.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// Table holds pricing for all providers and models. The "*" model entry
// is the per-provider fallback for unknown models.
type Table struct {
	mu        sync.RWMutex
	providers map[string]map[string]ModelPricing
}

// Default pricing per 1K tokens in USD.
var defaultPricing = map[string]map[string]ModelPricing{
	"anthropic": {
		"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
		"*":                          {InputPer1K: 0.003, OutputPer1K: 0.015},
	},
	"openai": {
		"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"*":             {InputPer1K: 0.01, OutputPer1K: 0.03},
	},
	"bedrock": {
		"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"*": {InputPer1K: 0.003, OutputPer1K: 0.015},
	},
	"*": {
		"*": {InputPer1K: 0.01, OutputPer1K: 0.03},
	},
}

// NewTable returns a pricing table seeded with the built-in defaults.
func NewTable() *Table {
	providers := make(map[string]map[string]ModelPricing, len(defaultPricing))
	for p, models := range defaultPricing {
		m := make(map[string]ModelPricing, len(models))
		for name, mp := range models {
			m[name] = mp
		}
		providers[p] = m
	}
	return &Table{providers: providers}
}

// Set overrides pricing for a provider/model pair.
func (t *Table) Set(provider, model string, p ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.providers[provider] == nil {
		t.providers[provider] = make(map[string]ModelPricing)
	}
	t.providers[provider][model] = p
}

// Lookup returns the pricing for a provider/model pair, falling back to
// the provider's "*" entry and then the global "*" entry.
func (t *Table) Lookup(provider, model string) ModelPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if models, ok := t.providers[provider]; ok {
		if p, ok := models[model]; ok {
			return p
		}
		if p, ok := models["*"]; ok {
			return p
		}
	}
	return t.providers["*"]["*"]
}

// CostMicros computes the settled cost of a call in micro-USD.
func (t *Table) CostMicros(provider, model string, promptTokens, completionTokens int) int64 {
	p := t.Lookup(provider, model)
	in := float64(promptTokens) / 1000 * p.InputPer1K
	out := float64(completionTokens) / 1000 * p.OutputPer1K
	return USDToMicros(in + out)
}

// EstimateMicros computes the admission-time cost estimate. maxTokens is
// assumed fully spent on output; the estimate must cover the worst case
// so a committed overrun stays the exception, not the rule.
func (t *Table) EstimateMicros(provider, model string, promptTokens, maxTokens int) int64 {
	p := t.Lookup(provider, model)
	in := float64(promptTokens) / 1000 * p.InputPer1K
	out := float64(maxTokens) / 1000 * p.OutputPer1K
	return USDToMicros(in + out)
}

// EstimateTokens approximates the token count of a prompt when the
// request carries no explicit count. Four characters per token is the
// standard rough cut for English text.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
