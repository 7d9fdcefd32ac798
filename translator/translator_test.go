// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package translator

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"axonflow/gateway/vault"
)

func newTestTranslator(t *testing.T) (*Translator, *MemoryBindingStore, *vault.Vault) {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	v, err := vault.New(key, vault.NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	bindings := NewMemoryBindingStore()
	return New(bindings, v), bindings, v
}

func TestTranslateBoundProvider(t *testing.T) {
	tr, bindings, v := newTestTranslator(t)
	ctx := context.Background()

	v.Put(ctx, "anthropic", "sk-ant-secret")
	bindings.SetBindings(ctx, "agent-1", []string{"anthropic", "bedrock"})

	cred, err := tr.Translate(ctx, "agent-1", "anthropic")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if cred.Secret != "sk-ant-secret" {
		t.Errorf("Secret = %q, want sk-ant-secret", cred.Secret)
	}
	if cred.ProviderID != "anthropic" {
		t.Errorf("ProviderID = %q, want anthropic", cred.ProviderID)
	}
}

func TestTranslateUnboundProvider(t *testing.T) {
	tr, bindings, v := newTestTranslator(t)
	ctx := context.Background()

	// Credential exists, but the agent is not bound to the provider.
	v.Put(ctx, "openai", "sk-oai-secret")
	bindings.SetBindings(ctx, "agent-1", []string{"anthropic"})

	if _, err := tr.Translate(ctx, "agent-1", "openai"); !errors.Is(err, ErrNoProviderBinding) {
		t.Errorf("Translate = %v, want ErrNoProviderBinding", err)
	}
}

func TestTranslateUnknownAgent(t *testing.T) {
	tr, _, _ := newTestTranslator(t)

	if _, err := tr.Translate(context.Background(), "ghost", "anthropic"); !errors.Is(err, ErrNoProviderBinding) {
		t.Errorf("Translate = %v, want ErrNoProviderBinding", err)
	}
}

func TestTranslateMissingCredential(t *testing.T) {
	tr, bindings, _ := newTestTranslator(t)
	ctx := context.Background()

	bindings.SetBindings(ctx, "agent-1", []string{"anthropic"})

	if _, err := tr.Translate(ctx, "agent-1", "anthropic"); !errors.Is(err, vault.ErrCredentialNotFound) {
		t.Errorf("Translate = %v, want ErrCredentialNotFound", err)
	}
}

func TestBound(t *testing.T) {
	tr, bindings, _ := newTestTranslator(t)
	ctx := context.Background()

	bindings.SetBindings(ctx, "agent-1", []string{"anthropic", "bedrock"})

	got, err := tr.Bound(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Bound = %v, want two providers", got)
	}
}
