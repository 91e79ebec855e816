package crypto

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrWrongKey          = errors.New("master secret does not match the stored key verifier")
	ErrUnknownKeyVersion = errors.New("ciphertext key version not available")
	ErrEmptySecret       = errors.New("master secret is empty")
	ErrWeakKDF           = errors.New("key derivation iteration count below minimum")
)

// DecryptFailure classifies why a ciphertext could not be opened.
type DecryptFailure string

const (
	// FailureMalformed: the value is not an ENC[vN]: payload at all.
	FailureMalformed DecryptFailure = "malformed"
	// FailureIntegrity: the key is known-good but the authentication tag does not verify (corrupted row).
	FailureIntegrity DecryptFailure = "integrity"
	// FailureWrongKey: the master secret does not open the key verifier (operator misconfiguration).
	FailureWrongKey DecryptFailure = "wrong_key"
	// FailureUnknownVersion: the ciphertext names a key version that is not loaded.
	FailureUnknownVersion DecryptFailure = "unknown_version"
)

// DecryptionError is returned by every failed decryption so callers can tell a
// corrupted configuration row from a wrong master secret.
type DecryptionError struct {
	Kind DecryptFailure
	Err  error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt (%s): %v", e.Kind, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// EncryptionError covers key derivation, nonce generation and rotation failures.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

func decryptErr(kind DecryptFailure, err error) error {
	return &DecryptionError{Kind: kind, Err: err}
}
