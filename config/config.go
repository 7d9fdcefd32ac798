// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration. Values are loaded from a
// YAML file when GATEWAY_CONFIG_FILE is set, then overridden by
// GATEWAY_-prefixed environment variables.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseURL is the postgres connection string for the ledger,
	// token store, vault store and audit sink. Empty selects the
	// in-memory stores (single-node and test deployments).
	DatabaseURL string `yaml:"database_url"`

	// RedisURL enables distributed rate limiting and the shared
	// revocation cache. Empty selects the in-process implementations.
	RedisURL string `yaml:"redis_url"`

	// MasterKeyBase64 is the base64-encoded 32-byte vault master key.
	MasterKeyBase64 string `yaml:"master_key"`

	// MasterKeySecretARN fetches the master key from AWS Secrets
	// Manager instead of the environment. Takes precedence over
	// MasterKeyBase64 when set.
	MasterKeySecretARN string `yaml:"master_key_secret_arn"`

	// AWSRegion is used for Secrets Manager and Bedrock calls.
	AWSRegion string `yaml:"aws_region"`

	// AdminJWTSecret signs/verifies HS256 service tokens presented by
	// the management service on /admin routes.
	AdminJWTSecret string `yaml:"admin_jwt_secret"`

	// FallbackTiers configures capability routing, e.g.
	// "chat-large=anthropic:100,bedrock:60;chat-small=openai:100".
	FallbackTiers string `yaml:"fallback_tiers"`

	// Breaker settings apply to every provider dependency.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerFailureWindow    time.Duration `yaml:"breaker_failure_window"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"`

	// Retry settings bound the per-candidate attempt loop.
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`

	// AttemptTimeout bounds each provider attempt, not the whole request.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// RateLimitPerMinute is the default per-agent request rate.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// ReservationTTL is how long an unresolved reservation may live
	// before the sweeper releases it.
	ReservationTTL time.Duration `yaml:"reservation_ttl"`

	// BudgetSoftThreshold is the spend fraction (0-1) that triggers a
	// non-blocking warning.
	BudgetSoftThreshold float64 `yaml:"budget_soft_threshold"`

	// WorkerPoolSize bounds concurrent request execution. 0 sizes the
	// pool to NumCPU plus I/O headroom.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// AuditQueueSize bounds the in-memory audit/cost event queue.
	AuditQueueSize int `yaml:"audit_queue_size"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:              ":8080",
		FallbackTiers:           "chat-large=anthropic:100,bedrock:60;chat-small=openai:100",
		BreakerFailureThreshold: 5,
		BreakerFailureWindow:    time.Minute,
		BreakerCooldown:         30 * time.Second,
		RetryMaxAttempts:        3,
		RetryBaseDelay:          100 * time.Millisecond,
		RetryMaxDelay:           5 * time.Second,
		AttemptTimeout:          60 * time.Second,
		RateLimitPerMinute:      300,
		ReservationTTL:          2 * time.Minute,
		BudgetSoftThreshold:     0.9,
		WorkerPoolSize:          0,
		AuditQueueSize:          4096,
	}
}

// Load builds the configuration from defaults, the optional YAML file
// named by GATEWAY_CONFIG_FILE, and GATEWAY_* environment variables in
// that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.ListenAddr, "GATEWAY_LISTEN_ADDR")
	setString(&c.DatabaseURL, "GATEWAY_DATABASE_URL")
	setString(&c.RedisURL, "GATEWAY_REDIS_URL")
	setString(&c.MasterKeyBase64, "GATEWAY_MASTER_KEY")
	setString(&c.MasterKeySecretARN, "GATEWAY_MASTER_KEY_SECRET_ARN")
	setString(&c.AWSRegion, "GATEWAY_AWS_REGION")
	setString(&c.AdminJWTSecret, "GATEWAY_ADMIN_JWT_SECRET")
	setString(&c.FallbackTiers, "GATEWAY_FALLBACK_TIERS")

	// DATABASE_URL is honored as a fallback, matching platform convention.
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	if err := setInt(&c.BreakerFailureThreshold, "GATEWAY_BREAKER_FAILURE_THRESHOLD"); err != nil {
		return err
	}
	if err := setDuration(&c.BreakerFailureWindow, "GATEWAY_BREAKER_FAILURE_WINDOW"); err != nil {
		return err
	}
	if err := setDuration(&c.BreakerCooldown, "GATEWAY_BREAKER_COOLDOWN"); err != nil {
		return err
	}
	if err := setInt(&c.RetryMaxAttempts, "GATEWAY_RETRY_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err := setDuration(&c.RetryBaseDelay, "GATEWAY_RETRY_BASE_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&c.RetryMaxDelay, "GATEWAY_RETRY_MAX_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&c.AttemptTimeout, "GATEWAY_ATTEMPT_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.RateLimitPerMinute, "GATEWAY_RATE_LIMIT_PER_MINUTE"); err != nil {
		return err
	}
	if err := setDuration(&c.ReservationTTL, "GATEWAY_RESERVATION_TTL"); err != nil {
		return err
	}
	if err := setFloat(&c.BudgetSoftThreshold, "GATEWAY_BUDGET_SOFT_THRESHOLD"); err != nil {
		return err
	}
	if err := setInt(&c.WorkerPoolSize, "GATEWAY_WORKER_POOL_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.AuditQueueSize, "GATEWAY_AUDIT_QUEUE_SIZE"); err != nil {
		return err
	}

	return nil
}

// Validate checks invariants that would otherwise surface as runtime
// failures deep inside a request.
func (c *Config) Validate() error {
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("breaker_failure_threshold must be positive, got %d", c.BreakerFailureThreshold)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry_max_attempts must be positive, got %d", c.RetryMaxAttempts)
	}
	if c.BudgetSoftThreshold < 0 || c.BudgetSoftThreshold > 1 {
		return fmt.Errorf("budget_soft_threshold must be in [0,1], got %f", c.BudgetSoftThreshold)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive, got %d", c.RateLimitPerMinute)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = d
	return nil
}
