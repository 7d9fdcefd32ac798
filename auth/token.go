// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// TokenPrefix marks gateway agent tokens so leaked strings are
// recognizable in scanners and logs.
const TokenPrefix = "axg"

// GenerateToken mints an opaque agent bearer token: 32 random bytes,
// base64url-encoded, prefixed. 256 bits of entropy makes the token
// unguessable without any slow hashing.
func GenerateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return TokenPrefix + "_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the hex SHA-256 of a token. Tokens are
// cryptographically random, so a deterministic fast hash is correct
// here: the store indexes the hash for O(1) lookup and never needs the
// plaintext. Slow salted hashes are for low-entropy passwords, not
// 256-bit random tokens, and their non-determinism would break the
// hash-indexed lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether a presented token has the expected shape.
// This is a cheap pre-filter, not a security check.
func WellFormed(token string) bool {
	if !strings.HasPrefix(token, TokenPrefix+"_") {
		return false
	}
	rest := strings.TrimPrefix(token, TokenPrefix+"_")
	if len(rest) < 40 {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(rest)
	return err == nil
}
