// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RevocationCache is the fast path for revocation checks. A positive
// answer is authoritative (entries are only ever added); a negative
// answer means "consult the store".
type RevocationCache interface {
	Add(ctx context.Context, tokenHash string)
	Contains(ctx context.Context, tokenHash string) bool
}

// MemoryRevocationCache is a process-local RevocationCache.
type MemoryRevocationCache struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

// NewMemoryRevocationCache creates an empty cache.
func NewMemoryRevocationCache() *MemoryRevocationCache {
	return &MemoryRevocationCache{hashes: make(map[string]struct{})}
}

// Add records a revoked token hash.
func (c *MemoryRevocationCache) Add(_ context.Context, tokenHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[tokenHash] = struct{}{}
}

// Contains reports whether the hash is known revoked.
func (c *MemoryRevocationCache) Contains(_ context.Context, tokenHash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.hashes[tokenHash]
	return ok
}

const (
	revocationSetKey  = "gateway:revoked_tokens"
	revocationCallTTL = 2 * time.Second
)

// RedisRevocationCache shares revocations across gateway instances via a
// Redis set. Redis errors degrade to a local cache so a Redis outage
// slows revocation propagation between instances but never re-admits a
// token this instance already saw revoked.
type RedisRevocationCache struct {
	client *redis.Client
	local  *MemoryRevocationCache
}

// NewRedisRevocationCache creates a cache over an existing Redis client.
func NewRedisRevocationCache(client *redis.Client) *RedisRevocationCache {
	return &RedisRevocationCache{
		client: client,
		local:  NewMemoryRevocationCache(),
	}
}

// Add records a revoked token hash locally and in Redis.
func (c *RedisRevocationCache) Add(ctx context.Context, tokenHash string) {
	c.local.Add(ctx, tokenHash)

	opCtx, cancel := context.WithTimeout(ctx, revocationCallTTL)
	defer cancel()
	c.client.SAdd(opCtx, revocationSetKey, tokenHash)
}

// Contains reports whether the hash is known revoked.
func (c *RedisRevocationCache) Contains(ctx context.Context, tokenHash string) bool {
	if c.local.Contains(ctx, tokenHash) {
		return true
	}

	opCtx, cancel := context.WithTimeout(ctx, revocationCallTTL)
	defer cancel()
	revoked, err := c.client.SIsMember(opCtx, revocationSetKey, tokenHash).Result()
	if err != nil {
		// Negative answers fall through to the authoritative store.
		return false
	}
	if revoked {
		c.local.Add(ctx, tokenHash)
	}
	return revoked
}
