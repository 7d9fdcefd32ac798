// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce size in bytes.
	NonceSize = 12
)

var (
	// ErrInvalidKeyLength is returned when the master key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("master key must be 32 bytes")

	// ErrDecryptFailed is returned when authenticated decryption fails.
	// A failed auth tag means the ciphertext was tampered with or the
	// wrong master key is loaded.
	ErrDecryptFailed = errors.New("decryption failed")
)

// EncryptedSecret is a sealed credential as persisted by the store.
// Ciphertext includes the GCM auth tag.
type EncryptedSecret struct {
	Ciphertext []byte
	Nonce      []byte
}

// CiphertextBase64 encodes the ciphertext for storage.
func (e EncryptedSecret) CiphertextBase64() string {
	return base64.StdEncoding.EncodeToString(e.Ciphertext)
}

// NonceBase64 encodes the nonce for storage.
func (e EncryptedSecret) NonceBase64() string {
	return base64.StdEncoding.EncodeToString(e.Nonce)
}

// DecodeSecret rebuilds an EncryptedSecret from its base64 columns.
func DecodeSecret(ciphertextB64, nonceB64 string) (EncryptedSecret, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("invalid nonce encoding: %w", err)
	}
	if len(nonce) != NonceSize {
		return EncryptedSecret{}, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return EncryptedSecret{Ciphertext: ct, Nonce: nonce}, nil
}

// Cipher performs AES-256-GCM authenticated encryption of provider
// credentials under the vault master key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte master key.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) (EncryptedSecret, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedSecret{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, plaintext, nil)
	return EncryptedSecret{Ciphertext: ct, Nonce: nonce}, nil
}

// Decrypt opens a sealed secret.
func (c *Cipher) Decrypt(sealed EncryptedSecret) ([]byte, error) {
	if len(sealed.Nonce) != NonceSize {
		return nil, ErrDecryptFailed
	}
	plaintext, err := c.aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
