// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package translator exchanges an authenticated agent identity for
// the provider credential its request should go out with. Agents
// never see provider keys; the translation happens per outbound call.
package translator

import (
	"context"
	"errors"
	"fmt"

	"axonflow/gateway/vault"
)

// ErrNoProviderBinding is returned when the agent is not bound to the
// requested provider.
var ErrNoProviderBinding = errors.New("agent has no binding for provider")

// BindingStore answers which providers an agent may use.
type BindingStore interface {
	// SetBindings replaces the agent's provider set.
	SetBindings(ctx context.Context, agentID string, providers []string) error

	// GetBindings lists the agent's bound providers.
	GetBindings(ctx context.Context, agentID string) ([]string, error)
}

// Translator resolves agent+provider to a vault credential.
type Translator struct {
	bindings BindingStore
	vault    *vault.Vault
}

// New creates a Translator.
func New(bindings BindingStore, v *vault.Vault) *Translator {
	return &Translator{bindings: bindings, vault: v}
}

// Translate returns the provider credential for an agent's outbound
// call. Any failure refuses the call: a missing binding is a policy
// denial, a vault fault is ErrVaultUnavailable, never a fallback key.
func (t *Translator) Translate(ctx context.Context, agentID, providerID string) (vault.Credential, error) {
	providers, err := t.bindings.GetBindings(ctx, agentID)
	if err != nil {
		return vault.Credential{}, fmt.Errorf("load bindings for %s: %w", agentID, err)
	}

	bound := false
	for _, p := range providers {
		if p == providerID {
			bound = true
			break
		}
	}
	if !bound {
		return vault.Credential{}, fmt.Errorf("agent %s, provider %s: %w", agentID, providerID, ErrNoProviderBinding)
	}

	return t.vault.Credential(ctx, providerID)
}

// Bound lists the providers an agent may route to, for intersecting
// with the fallback chain.
func (t *Translator) Bound(ctx context.Context, agentID string) ([]string, error) {
	return t.bindings.GetBindings(ctx, agentID)
}
