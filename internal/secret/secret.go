// Package secret seals provider API keys at rest with AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// PBKDF2Iterations is the iteration count for passphrase derivation.
	PBKDF2Iterations = 600000
)

var (
	// ErrDecrypt is returned when a sealed value cannot be opened.
	ErrDecrypt = errors.New("secret: decrypt failed")
	// ErrNoKey is returned when neither a key nor a passphrase is configured.
	ErrNoKey = errors.New("secret: no encryption key configured")
)

// Sealer encrypts and decrypts short secrets. Ciphertext and IV are hex encoded
// so they can be stored in separate text columns.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a Sealer from a raw 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// FromConfig builds a Sealer from a 64-char hex key, or derives one from
// passphrase and salt when no key is set.
func FromConfig(hexKey, passphrase, salt string) (*Sealer, error) {
	if hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("secret: invalid hex key: %w", err)
		}
		return New(key)
	}
	if passphrase == "" {
		return nil, ErrNoKey
	}
	return New(DeriveKey(passphrase, salt))
}

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase, salt string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(salt), PBKDF2Iterations, KeySize, sha256.New)
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (ciphertext, iv string, err error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(nonce), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(ciphertext, iv string) (string, error) {
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrDecrypt, err)
	}
	nonce, err := hex.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrDecrypt, err)
	}
	if len(nonce) != s.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv length %d", ErrDecrypt, len(nonce))
	}
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
