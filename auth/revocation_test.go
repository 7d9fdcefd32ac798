// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestMemoryRevocationCache(t *testing.T) {
	cache := NewMemoryRevocationCache()
	ctx := context.Background()

	if cache.Contains(ctx, "h1") {
		t.Error("empty cache should not contain h1")
	}
	cache.Add(ctx, "h1")
	if !cache.Contains(ctx, "h1") {
		t.Error("cache should contain h1 after Add")
	}
}

func TestRedisRevocationCacheSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	a := NewRedisRevocationCache(client)
	b := NewRedisRevocationCache(client)

	a.Add(ctx, "h1")

	// Second instance sees the revocation through Redis.
	if !b.Contains(ctx, "h1") {
		t.Error("instance b should see revocation added by a")
	}
	if b.Contains(ctx, "h2") {
		t.Error("h2 was never revoked")
	}
}

func TestRedisRevocationCacheDegradesToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	cache := NewRedisRevocationCache(client)
	cache.Add(ctx, "h1")

	mr.Close()

	// Redis down: the local copy still answers positively.
	if !cache.Contains(ctx, "h1") {
		t.Error("local cache should survive Redis outage")
	}
	// Unknown hashes return false so the caller consults the store.
	if cache.Contains(ctx, "h2") {
		t.Error("unknown hash should be false during outage")
	}
}

func TestValidatorWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewMemoryStore()
	svc1 := NewService(store, NewRedisRevocationCache(client))
	svc2 := NewService(store, NewRedisRevocationCache(client))
	ctx := context.Background()

	token, _ := svc1.Mint(ctx, "agent-1", "a", nil)
	if err := svc1.Revoke(ctx, "agent-1"); err != nil {
		t.Fatal(err)
	}

	// Revocation propagates to the second instance via the shared set.
	if _, err := svc2.Validate(ctx, token); err != ErrTokenRevoked {
		t.Errorf("Validate on instance 2 = %v, want ErrTokenRevoked", err)
	}
}
