// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver

	"axonflow/gateway/auth"
	"axonflow/gateway/breaker"
	"axonflow/gateway/config"
	"axonflow/gateway/fallback"
	"axonflow/gateway/ledger"
	"axonflow/gateway/llm"
	"axonflow/gateway/pricing"
	"axonflow/gateway/ratelimit"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/translator"
	"axonflow/gateway/vault"
)

// Run wires the full gateway from configuration and serves until
// SIGINT/SIGTERM. Postgres and Redis are optional: without them the
// gateway runs on in-memory stores, which suits single-node and test
// deployments.
func Run() {
	log := logger.New("gateway")
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fatal(log, "failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(log, "invalid configuration", err)
	}

	masterKey, err := loadMasterKey(ctx, cfg)
	if err != nil {
		fatal(log, "failed to load vault master key", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fatal(log, "failed to open postgres", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			fatal(log, "failed to reach postgres", err)
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fatal(log, "invalid redis URL", err)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			fatal(log, "failed to reach redis", err)
		}
		defer redisClient.Close()
	}

	// Credential vault.
	var vaultStore vault.Store = vault.NewMemoryStore()
	if db != nil {
		vaultStore = vault.NewPostgresStore(db)
	}
	v, err := vault.New(masterKey, vaultStore)
	if err != nil {
		fatal(log, "failed to initialize vault", err)
	}

	// Token validation with a shared revocation cache when Redis is
	// available, so a revoke on one instance takes effect everywhere.
	var authStore auth.Store = auth.NewMemoryStore()
	if db != nil {
		authStore = auth.NewPostgresStore(db)
	}
	var revocations auth.RevocationCache = auth.NewMemoryRevocationCache()
	if redisClient != nil {
		revocations = auth.NewRedisRevocationCache(redisClient)
	}
	authSvc := auth.NewService(authStore, revocations)

	// Audit/cost pipeline. The ledger's budget warnings ride the same
	// queue as request audit events.
	var sink AuditSink = NewLogSink(logger.New("audit"))
	if db != nil {
		sink = NewPostgresAuditStore(db)
	}
	auditQueue := NewAuditQueue(cfg.AuditQueueSize, sink, log)
	defer auditQueue.Close()

	var repo ledger.Repository = ledger.NewMemoryRepository()
	if db != nil {
		repo = ledger.NewPostgresRepository(db)
	}
	led := ledger.New(repo, ledger.Options{
		ReservationTTL: cfg.ReservationTTL,
		SoftThreshold:  cfg.BudgetSoftThreshold,
		OnWarning: func(w ledger.Warning) {
			auditQueue.Emit(AuditEvent{
				Timestamp: time.Now().UTC(),
				Kind:      AuditBudgetWarning,
				AgentID:   w.AgentID,
				RequestID: w.ReservationID,
				Details: map[string]interface{}{
					"warning":      w.Kind,
					"spent_micros": w.SpentMicros,
					"limit_micros": w.LimitMicros,
				},
			})
		},
	}, log)
	sweepInterval := cfg.ReservationTTL / 4
	if sweepInterval < time.Second {
		sweepInterval = time.Second
	}
	led.StartSweeper(sweepInterval)
	defer led.Stop()

	var bindings translator.BindingStore = translator.NewMemoryBindingStore()
	if db != nil {
		bindings = translator.NewPostgresBindingStore(db)
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		FailureWindow:    cfg.BreakerFailureWindow,
		Cooldown:         cfg.BreakerCooldown,
	})
	chains, err := fallback.ParseChains(cfg.FallbackTiers)
	if err != nil {
		fatal(log, "invalid fallback tier configuration", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute, log)
	}

	providers := llm.NewRegistry()
	providers.Register("anthropic", llm.AnthropicFactory(""))
	providers.Register("openai", llm.OpenAIFactory(""))
	providers.Register("bedrock", llm.BedrockFactory(cfg.AWSRegion))

	orch := New(Options{
		Auth:       authSvc,
		Limiter:    limiter,
		Ledger:     led,
		Pricing:    pricing.NewTable(),
		Selector:   fallback.NewSelector(chains, breakers),
		Breakers:   breakers,
		Translator: translator.New(bindings, v),
		Providers:  providers,
		Audit:      auditQueue,
		Retry: RetryPolicy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			Multiplier:     2,
			MaxDelay:       cfg.RetryMaxDelay,
			JitterFraction: 0.2,
		},
		AttemptTimeout: cfg.AttemptTimeout,
		Logger:         log,
	})

	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() * 8
	}
	srv := NewServer(ServerOptions{
		Orchestrator:   orch,
		Ledger:         led,
		Auth:           authSvc,
		Vault:          v,
		Bindings:       bindings,
		Breakers:       breakers,
		AdminSecret:    cfg.AdminJWTSecret,
		WorkerPoolSize: poolSize,
		Logger:         logger.New("http"),
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "gateway listening", map[string]interface{}{
			"addr":       cfg.ListenAddr,
			"postgres":   db != nil,
			"redis":      redisClient != nil,
			"admin_api":  cfg.AdminJWTSecret != "",
			"pool_size":  poolSize,
			"fallback":   cfg.FallbackTiers,
			"rate_limit": cfg.RateLimitPerMinute,
		})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-shutdownCtx.Done():
		log.Info("", "", "shutdown signal received, draining", nil)
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(drainCtx); err != nil {
			log.ErrorWithErr("", "", "graceful shutdown failed", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fatal(log, "http server failed", err)
		}
	}
}

// loadMasterKey resolves the vault master key: Secrets Manager in
// production, a base64 value from config or environment otherwise.
func loadMasterKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.MasterKeySecretARN != "" {
		return vault.MasterKeyFromSecretsManager(ctx, cfg.AWSRegion, cfg.MasterKeySecretARN)
	}
	return vault.DecodeMasterKey(cfg.MasterKeyBase64)
}

func fatal(log *logger.Logger, message string, err error) {
	log.ErrorWithErr("", "", message, err, nil)
	os.Exit(1)
}
