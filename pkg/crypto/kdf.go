package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinIterations is the lowest PBKDF2 work factor accepted for the master key.
	MinIterations = 100_000
	// DefaultIterations is used when the operator does not configure one.
	DefaultIterations = 600_000
	// SaltSize is the length of the persisted random salt.
	SaltSize = 16
)

// DeriveKey stretches the operator secret into a 32-byte AES key with PBKDF2-HMAC-SHA256.
func DeriveKey(secret string, salt []byte, iterations int) ([]byte, error) {
	if secret == "" {
		return nil, &EncryptionError{Op: "derive key", Err: ErrEmptySecret}
	}
	if iterations < MinIterations {
		return nil, &EncryptionError{Op: "derive key", Err: fmt.Errorf("%w: %d < %d", ErrWeakKDF, iterations, MinIterations)}
	}
	if len(salt) < SaltSize {
		return nil, &EncryptionError{Op: "derive key", Err: fmt.Errorf("salt must be at least %d bytes", SaltSize)}
	}
	return pbkdf2.Key([]byte(secret), salt, iterations, KeySize, sha256.New), nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := cryptoRandRead(salt); err != nil {
		return nil, &EncryptionError{Op: "generate salt", Err: err}
	}
	return salt, nil
}

// GenerateSecret returns a random base64 string suitable as an operator master secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := cryptoRandRead(buf); err != nil {
		return "", fmt.Errorf("generate random secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// cryptoRandRead is a variable for testing purposes
var cryptoRandRead = func(b []byte) (int, error) {
	return rand.Read(b)
}
