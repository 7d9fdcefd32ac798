// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package vault holds encrypted provider credentials. Secrets are sealed
// with AES-256-GCM under a single master key and addressed by provider
// id. Plaintext credentials exist only transiently: decrypted for one
// outbound call, never logged, never returned to agents.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"axonflow/gateway/shared/logger"
)

var (
	// ErrCredentialNotFound is returned when no credential is registered
	// for the provider id.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrVaultUnavailable is returned when the backing store cannot be
	// reached. Callers must fail closed: a credential failure never
	// degrades to calling a provider with no or the wrong credential.
	ErrVaultUnavailable = errors.New("vault unavailable")
)

// Credential is a decrypted provider credential. The zero value is not
// usable; treat instances as single-use and let them go out of scope
// as soon as the outbound call is built.
type Credential struct {
	ProviderID string
	// Secret is the provider API key or, for AWS-style providers, a
	// composite "accessKeyID:secretAccessKey" pair.
	Secret string
}

// Store persists sealed credentials.
type Store interface {
	// PutSecret stores the sealed credential for a provider, replacing
	// any existing one.
	PutSecret(ctx context.Context, providerID string, sealed EncryptedSecret) error

	// GetSecret fetches the sealed credential for a provider. Returns
	// ErrCredentialNotFound when absent.
	GetSecret(ctx context.Context, providerID string) (EncryptedSecret, error)

	// DeleteSecret removes a credential.
	DeleteSecret(ctx context.Context, providerID string) error
}

// Vault decrypts provider credentials on demand with a short-lived
// in-memory cache of sealed (not plaintext) entries.
type Vault struct {
	cipher *Cipher
	store  Store
	log    *logger.Logger
}

// New creates a Vault over the given store.
func New(masterKey []byte, store Store) (*Vault, error) {
	cipher, err := NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return &Vault{
		cipher: cipher,
		store:  store,
		log:    logger.New("vault"),
	}, nil
}

// Put seals a plaintext credential and persists it.
func (v *Vault) Put(ctx context.Context, providerID, secret string) error {
	if providerID == "" {
		return fmt.Errorf("provider id required")
	}
	if secret == "" {
		return fmt.Errorf("secret required")
	}

	sealed, err := v.cipher.Encrypt([]byte(secret))
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	if err := v.store.PutSecret(ctx, providerID, sealed); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}

	v.log.Info("", "", "credential registered", map[string]interface{}{
		"provider_id": providerID,
	})
	return nil
}

// Credential fetches and decrypts the credential for a provider.
func (v *Vault) Credential(ctx context.Context, providerID string) (Credential, error) {
	start := time.Now()

	sealed, err := v.store.GetSecret(ctx, providerID)
	if errors.Is(err, ErrCredentialNotFound) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		v.log.ErrorWithErr("", "", "vault store unreachable", err, map[string]interface{}{
			"provider_id": providerID,
		})
		return Credential{}, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}

	plaintext, err := v.cipher.Decrypt(sealed)
	if err != nil {
		// Deliberately not logging ciphertext or key material.
		return Credential{}, fmt.Errorf("failed to open credential for %s: %w", providerID, err)
	}

	v.log.InfoWithDuration("", "", "credential decrypted", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"provider_id": providerID,
	})

	return Credential{ProviderID: providerID, Secret: string(plaintext)}, nil
}

// Delete removes a provider credential.
func (v *Vault) Delete(ctx context.Context, providerID string) error {
	if err := v.store.DeleteSecret(ctx, providerID); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	return nil
}
