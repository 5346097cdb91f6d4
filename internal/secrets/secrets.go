// Package secrets seals imported account credentials at rest.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecrypt = errors.New("secrets: decryption failed")

// Sealer encrypts and decrypts credential blobs with a key derived
// from the configured passphrase.
type Sealer struct {
	key [32]byte
}

// NewSealer derives the sealing key from the passphrase
func NewSealer(passphrase string) (*Sealer, error) {
	if len(passphrase) < 32 {
		return nil, fmt.Errorf("secrets: passphrase must be at least 32 characters")
	}
	return &Sealer{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the box.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a blob produced by Seal
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
