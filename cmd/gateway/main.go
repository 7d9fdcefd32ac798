// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the AxonFlow LLM Gateway.
//
// The gateway sits between AI agents and LLM providers:
// - Validates opaque agent tokens and translates them to provider credentials
// - Admits requests against per-agent spend budgets before any provider call
// - Routes each capability through a weighted provider fallback chain
// - Circuit-breaks failing providers and rate-limits agents
// - Reconciles estimated cost against actual usage after every response
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	GATEWAY_LISTEN_ADDR - HTTP listen address (default: :8080)
//	GATEWAY_DATABASE_URL - PostgreSQL connection string (optional)
//	GATEWAY_REDIS_URL - Redis URL for distributed limiting (optional)
//	GATEWAY_MASTER_KEY - base64 32-byte vault master key
//	GATEWAY_MASTER_KEY_SECRET_ARN - Secrets Manager ARN for the master key
//	GATEWAY_ADMIN_JWT_SECRET - HS256 secret for the /admin API
//	GATEWAY_FALLBACK_TIERS - capability routing, e.g. "chat-large=anthropic:100,bedrock:60"
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"axonflow/gateway/orchestrator"
)

func main() {
	orchestrator.Run()
}
