package crypto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const verifierPlaintext = "trading-authority/key-check"

// KeyMaterial is the persisted, non-secret half of the master key: everything needed to
// re-derive and verify it except the operator secret itself.
type KeyMaterial struct {
	Version    int
	Salt       []byte
	Iterations int
	Verifier   string
	CreatedAt  time.Time
}

// MaterialStore persists KeyMaterial. LoadKeyMaterial returns (nil, nil) on first boot.
type MaterialStore interface {
	LoadKeyMaterial(ctx context.Context) (*KeyMaterial, error)
	SaveKeyMaterial(ctx context.Context, m KeyMaterial) error
}

// Rewrapper re-encrypts every encrypted value it owns inside one durable transaction.
// It must persist next together with the rewritten values and call commit only after
// the transaction committed, while still holding its write serialization point.
type Rewrapper interface {
	Rewrap(ctx context.Context, next KeyMaterial, transform func(ciphertext string) (string, error), commit func()) error
}

// KeyManager owns the master key. Old key versions stay loaded after a rotation so
// readers holding a pre-rotation ciphertext can still open it.
type KeyManager struct {
	mu         sync.RWMutex
	rotateMu   sync.Mutex
	current    *Encryptor
	material   KeyMaterial
	encryptors map[int]*Encryptor
}

// Open derives the master key from secret. On first boot it creates fresh key material
// (random salt, version 1) and saves it; afterwards it re-derives from the stored salt and
// checks the verifier, failing with a wrong_key DecryptionError on mismatch.
func Open(ctx context.Context, secret string, iterations int, store MaterialStore) (*KeyManager, error) {
	if iterations == 0 {
		iterations = DefaultIterations
	}
	stored, err := store.LoadKeyMaterial(ctx)
	if err != nil {
		return nil, fmt.Errorf("load key material: %w", err)
	}
	if stored != nil {
		return NewKeyManager(secret, *stored)
	}

	enc, material, err := newMaterial(secret, 1, iterations)
	if err != nil {
		return nil, err
	}
	if err := store.SaveKeyMaterial(ctx, material); err != nil {
		return nil, fmt.Errorf("save key material: %w", err)
	}
	return newKeyManager(enc, material), nil
}

// NewKeyManager re-derives the key described by material and verifies it.
func NewKeyManager(secret string, material KeyMaterial) (*KeyManager, error) {
	key, err := DeriveKey(secret, material.Salt, material.Iterations)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncryptor(key, material.Version)
	if err != nil {
		return nil, err
	}
	if err := verify(enc, material.Verifier); err != nil {
		return nil, err
	}
	return newKeyManager(enc, material), nil
}

func newKeyManager(enc *Encryptor, material KeyMaterial) *KeyManager {
	return &KeyManager{
		current:    enc,
		material:   material,
		encryptors: map[int]*Encryptor{enc.Version(): enc},
	}
}

func newMaterial(secret string, version, iterations int) (*Encryptor, KeyMaterial, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, KeyMaterial{}, err
	}
	key, err := DeriveKey(secret, salt, iterations)
	if err != nil {
		return nil, KeyMaterial{}, err
	}
	enc, err := NewEncryptor(key, version)
	if err != nil {
		return nil, KeyMaterial{}, err
	}
	verifier, err := enc.Encrypt(verifierPlaintext)
	if err != nil {
		return nil, KeyMaterial{}, err
	}
	return enc, KeyMaterial{
		Version:    version,
		Salt:       salt,
		Iterations: iterations,
		Verifier:   verifier,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func verify(enc *Encryptor, verifier string) error {
	plain, err := enc.Decrypt(verifier)
	var de *DecryptionError
	if errors.As(err, &de) && de.Kind == FailureIntegrity {
		return decryptErr(FailureWrongKey, ErrWrongKey)
	}
	if err != nil {
		return err
	}
	if plain != verifierPlaintext {
		return decryptErr(FailureWrongKey, ErrWrongKey)
	}
	return nil
}

// Encrypt encrypts plaintext using the current (latest) key version.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current.Encrypt(plaintext)
}

// Decrypt decrypts ciphertext, automatically selecting the correct key version.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", decryptErr(FailureMalformed, ErrInvalidCiphertext)
	}

	km.mu.RLock()
	enc, ok := km.encryptors[version]
	km.mu.RUnlock()
	if !ok {
		return "", decryptErr(FailureUnknownVersion, fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version))
	}
	return enc.Decrypt(ciphertext)
}

// ReEncrypt re-encrypts a ciphertext with the current key version.
func (km *KeyManager) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt for re-encryption: %w", err)
	}
	return km.Encrypt(plaintext)
}

// CurrentVersion returns the current (latest) key version being used.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current.Version()
}

// Material returns the persisted description of the current key.
func (km *KeyManager) Material() KeyMaterial {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.material
}

// HasVersion checks if a specific key version is loaded.
func (km *KeyManager) HasVersion(version int) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	_, ok := km.encryptors[version]
	return ok
}

// RotateKey derives a key from newSecret under a fresh salt and asks rw to re-encrypt every
// stored ciphertext with it. The in-memory key is swapped only from rw's commit callback; on
// any failure the current key stays in place and rw is expected to have rolled back.
func (km *KeyManager) RotateKey(ctx context.Context, newSecret string, rw Rewrapper) error {
	km.rotateMu.Lock()
	defer km.rotateMu.Unlock()

	old := km.Material()
	next, material, err := newMaterial(newSecret, old.Version+1, old.Iterations)
	if err != nil {
		return &EncryptionError{Op: "rotate", Err: err}
	}

	transform := func(ciphertext string) (string, error) {
		plain, err := km.Decrypt(ciphertext)
		if err != nil {
			return "", err
		}
		return next.Encrypt(plain)
	}
	committed := false
	commit := func() {
		km.mu.Lock()
		km.encryptors[next.Version()] = next
		km.current = next
		km.material = material
		km.mu.Unlock()
		committed = true
	}

	if err := rw.Rewrap(ctx, material, transform, commit); err != nil {
		return &EncryptionError{Op: "rotate", Err: err}
	}
	if !committed {
		return &EncryptionError{Op: "rotate", Err: errors.New("rewrap returned without committing")}
	}
	return nil
}
