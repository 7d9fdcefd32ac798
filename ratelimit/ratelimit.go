// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package ratelimit enforces per-agent request rates with a sliding
// window. The Redis backend shares the window across gateway
// instances; on Redis failure it degrades to a local window rather
// than admitting unbounded traffic.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/gateway/shared/logger"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter answers whether a key may make another request right now.
// Check counts the request when it admits it.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
}

// AgentKey builds the canonical limiter key for an agent.
func AgentKey(agentID string) string {
	return "agent:" + agentID
}

// MemoryLimiter is a per-process sliding window limiter. Timestamp
// lists are pruned on access, so idle keys cost nothing until touched.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string][]time.Time

	nowFn func() time.Time
}

// NewMemoryLimiter creates a limiter admitting limit requests per
// window per key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
		nowFn:   time.Now,
	}
}

// Check admits or rejects one request for key.
func (m *MemoryLimiter) Check(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	cutoff := now.Add(-m.window)

	kept := m.entries[key][:0]
	for _, t := range m.entries[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= m.limit {
		m.entries[key] = kept
		// The window frees a slot when the oldest timestamp ages out.
		retryAfter := kept[0].Sub(cutoff)
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	m.entries[key] = append(kept, now)
	return Decision{Allowed: true, Remaining: m.limit - len(kept) - 1}, nil
}

// RedisLimiter is a sliding window limiter over a shared Redis ZSET,
// one member per admitted request scored by nanosecond timestamp.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	local  *MemoryLimiter
	log    *logger.Logger
}

// NewRedisLimiter creates a shared limiter. The local fallback keeps
// the same limit per instance during a Redis outage.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, log *logger.Logger) *RedisLimiter {
	if log == nil {
		log = logger.New("ratelimit")
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		local:  NewMemoryLimiter(limit, window),
		log:    log,
	}
}

// Check admits or rejects one request for key against the shared
// window. Redis errors degrade to the local window.
func (r *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	redisKey := "gateway:ratelimit:" + key
	cutoff := now.Add(-r.window).UnixNano()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, redisKey, 2*r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("", "", "redis rate limit check failed, using local window", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return r.local.Check(ctx, key)
	}

	// ZCard ran before the ZAdd, so count excludes this request.
	count := int(countCmd.Val())
	if count >= r.limit {
		// The entry was already added; remove the over-limit marker so
		// rejected requests do not consume the window.
		r.client.ZRemRangeByRank(ctx, redisKey, -1, -1)
		oldest, err := r.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		retryAfter := r.window
		if err == nil && len(oldest) == 1 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(r.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true, Remaining: r.limit - count - 1}, nil
}
