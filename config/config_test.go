// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Errorf("BreakerFailureThreshold = %d, want 5", cfg.BreakerFailureThreshold)
	}
	if cfg.BudgetSoftThreshold != 0.9 {
		t.Errorf("BudgetSoftThreshold = %f, want 0.9", cfg.BudgetSoftThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_LISTEN_ADDR", ":9999")
	t.Setenv("GATEWAY_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("GATEWAY_BREAKER_COOLDOWN", "45s")
	t.Setenv("GATEWAY_BUDGET_SOFT_THRESHOLD", "0.8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.RetryMaxAttempts != 7 {
		t.Errorf("RetryMaxAttempts = %d, want 7", cfg.RetryMaxAttempts)
	}
	if cfg.BreakerCooldown != 45*time.Second {
		t.Errorf("BreakerCooldown = %v, want 45s", cfg.BreakerCooldown)
	}
	if cfg.BudgetSoftThreshold != 0.8 {
		t.Errorf("BudgetSoftThreshold = %f, want 0.8", cfg.BudgetSoftThreshold)
	}
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("GATEWAY_RETRY_MAX_ATTEMPTS", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid GATEWAY_RETRY_MAX_ATTEMPTS")
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := []byte("listen_addr: \":7070\"\nrate_limit_per_minute: 120\nfallback_tiers: \"chat-large=anthropic:100,openai:50\"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATEWAY_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070", cfg.ListenAddr)
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("RateLimitPerMinute = %d, want 120", cfg.RateLimitPerMinute)
	}
	if cfg.FallbackTiers != "chat-large=anthropic:100,openai:50" {
		t.Errorf("FallbackTiers = %q", cfg.FallbackTiers)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATEWAY_CONFIG_FILE", path)
	t.Setenv("GATEWAY_LISTEN_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":6060" {
		t.Errorf("ListenAddr = %q, want :6060 (env should win)", cfg.ListenAddr)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := Default()
	cfg.BudgetSoftThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for threshold > 1")
	}

	cfg = Default()
	cfg.BreakerFailureThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero breaker threshold")
	}
}
