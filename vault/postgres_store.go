// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package vault

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists sealed credentials in the provider_credentials
// table. Only ciphertext and nonce columns are written; the table never
// sees plaintext.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore over an existing connection
// pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// PutSecret upserts the sealed credential for a provider.
func (s *PostgresStore) PutSecret(ctx context.Context, providerID string, sealed EncryptedSecret) error {
	query := `
		INSERT INTO provider_credentials (provider_id, ciphertext, nonce, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			nonce = EXCLUDED.nonce,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, providerID, sealed.CiphertextBase64(), sealed.NonceBase64())
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetSecret fetches the sealed credential for a provider.
func (s *PostgresStore) GetSecret(ctx context.Context, providerID string) (EncryptedSecret, error) {
	query := `SELECT ciphertext, nonce FROM provider_credentials WHERE provider_id = $1`

	var ciphertextB64, nonceB64 string
	err := s.db.QueryRowContext(ctx, query, providerID).Scan(&ciphertextB64, &nonceB64)
	if err == sql.ErrNoRows {
		return EncryptedSecret{}, ErrCredentialNotFound
	}
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("failed to fetch credential: %w", err)
	}

	return DecodeSecret(ciphertextB64, nonceB64)
}

// DeleteSecret removes a credential.
func (s *PostgresStore) DeleteSecret(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_credentials WHERE provider_id = $1`, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
