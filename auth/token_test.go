// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if !strings.HasPrefix(token, "axg_") {
		t.Errorf("token %q missing axg_ prefix", token)
	}
	if !WellFormed(token) {
		t.Errorf("generated token %q not well-formed", token)
	}

	other, _ := GenerateToken()
	if token == other {
		t.Error("two generated tokens are identical")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	token, _ := GenerateToken()

	h1 := HashToken(token)
	h2 := HashToken(token)
	if h1 != h2 {
		t.Error("HashToken is not deterministic; hash-indexed lookup would break")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}

	if HashToken("different") == h1 {
		t.Error("distinct tokens hash identically")
	}
}

func TestWellFormed(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"", false},
		{"garbage", false},
		{"axg_", false},
		{"axg_tooshort", false},
		{"sk-ant-REDACTED", false},
		{"axg_!!!!invalid-base64-payload-!!!!!!!!!!!!!!!!", false},
	}
	for _, tc := range cases {
		if got := WellFormed(tc.token); got != tc.want {
			t.Errorf("WellFormed(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}
