// Package crypto provides field-level encryption for configuration values.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required size for AES-256 keys (32 bytes)
	KeySize = 32
	// NonceSize is the size of GCM nonce (12 bytes)
	NonceSize = 12
	// VersionPrefix is the prefix for encrypted data
	VersionPrefix = "ENC[v%d]:"
)

// Encryptor handles AES-256-GCM encryption and decryption for one key version.
type Encryptor struct {
	aead    cipher.AEAD
	version int
}

// NewEncryptor creates a new Encryptor with the given key.
// Key must be 32 bytes for AES-256.
func NewEncryptor(key []byte, version int) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &EncryptionError{Op: "create cipher", Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &EncryptionError{Op: "create GCM", Err: err}
	}
	return &Encryptor{aead: gcm, version: version}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns base64-encoded ciphertext with version prefix: ENC[v1]:base64(nonce+ciphertext)
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &EncryptionError{Op: "generate nonce", Err: err}
	}

	// nonce + ciphertext (includes auth tag)
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(VersionPrefix, e.version) + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decrypts ciphertext encrypted by Encrypt.
// Expects format: ENC[vN]:base64data
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", decryptErr(FailureMalformed, ErrInvalidCiphertext)
	}
	if version != e.version {
		return "", decryptErr(FailureUnknownVersion, fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version))
	}

	colonIdx := strings.Index(ciphertext, "]:")
	data, err := base64.StdEncoding.DecodeString(ciphertext[colonIdx+2:])
	if err != nil {
		return "", decryptErr(FailureMalformed, fmt.Errorf("%w: base64: %v", ErrInvalidCiphertext, err))
	}
	if len(data) < NonceSize+e.aead.Overhead() {
		return "", decryptErr(FailureMalformed, ErrInvalidCiphertext)
	}

	plaintext, err := e.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", decryptErr(FailureIntegrity, ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// Version returns the key version used by this encryptor.
func (e *Encryptor) Version() int {
	return e.version
}

// IsEncrypted reports whether s carries the ENC[vN]: envelope.
func IsEncrypted(s string) bool {
	return ParseVersion(s) > 0
}

// ParseVersion extracts the version number from an encrypted string.
// Returns 0 if the format is invalid.
func ParseVersion(ciphertext string) int {
	if !strings.HasPrefix(ciphertext, "ENC[v") || !strings.Contains(ciphertext, "]:") {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(ciphertext, "ENC[v%d]:", &version); err != nil || version <= 0 {
		return 0
	}
	return version
}
