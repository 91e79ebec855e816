package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey(0), 1)
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "hello"},
		{"api_key", "abc123XYZ789"},
		{"wallet", "4NMwxzmYbfSzBzDXSgfHZ6FrqZFo5MxTqRoNKvKvDzqWf2ZTq8o3ELQJYGBMUzwdkT5TLGx6JvwcjTCbJ2cMmHqo"},
		{"unicode", "中文測試 🔐"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(ciphertext, "ENC[v1]:"), "missing version prefix: %s", ciphertext)
			assert.True(t, IsEncrypted(ciphertext))

			decrypted, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptDifferentCiphertexts(t *testing.T) {
	enc, err := NewEncryptor(testKey(0), 1)
	require.NoError(t, err)

	c1, _ := enc.Encrypt("same-api-key")
	c2, _ := enc.Encrypt("same-api-key")
	assert.NotEqual(t, c1, c2, "random nonce must make ciphertexts differ")
}

func TestInvalidKey(t *testing.T) {
	_, err := NewEncryptor([]byte("short"), 1)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecryptInvalidCiphertext(t *testing.T) {
	enc, _ := NewEncryptor(testKey(0), 1)

	invalids := []string{
		"",
		"not-encrypted",
		"ENC[v1]:",
		"ENC[v1]:!!!invalid",
		"ENC[v1]:c2hvcnQ=",
	}

	for _, invalid := range invalids {
		_, err := enc.Decrypt(invalid)
		var de *DecryptionError
		require.ErrorAs(t, err, &de, "input %q", invalid)
		assert.Equal(t, FailureMalformed, de.Kind, "input %q", invalid)
	}
}

func TestDecryptDistinguishesFailures(t *testing.T) {
	enc, _ := NewEncryptor(testKey(0), 1)
	other, _ := NewEncryptor(testKey(7), 1)
	v2, _ := NewEncryptor(testKey(0), 2)

	ct, err := enc.Encrypt("secret-value")
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ct, "ENC[v1]:"))
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xFF
		_, err = enc.Decrypt("ENC[v1]:" + base64.StdEncoding.EncodeToString(raw))
		var de *DecryptionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, FailureIntegrity, de.Kind)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("other key", func(t *testing.T) {
		_, err := other.Decrypt(ct)
		var de *DecryptionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, FailureIntegrity, de.Kind)
	})

	t.Run("other version", func(t *testing.T) {
		_, err := v2.Decrypt(ct)
		var de *DecryptionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, FailureUnknownVersion, de.Kind)
		assert.True(t, errors.Is(err, ErrUnknownKeyVersion))
	})
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		ciphertext string
		expected   int
	}{
		{"ENC[v1]:data", 1},
		{"ENC[v2]:data", 2},
		{"ENC[v10]:data", 10},
		{"invalid", 0},
		{"ENC[vX]:data", 0},
		{"ENC[v0]:data", 0},
		{"ENC[v3]data", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseVersion(tt.ciphertext), "ParseVersion(%q)", tt.ciphertext)
	}
}

func TestProperty_EncryptRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	enc, err := NewEncryptor(testKey(3), 4)
	require.NoError(t, err)

	properties.Property("decrypt(encrypt(p)) == p", prop.ForAll(
		func(p string) bool {
			ct, err := enc.Encrypt(p)
			if err != nil {
				return false
			}
			got, err := enc.Decrypt(ct)
			return err == nil && got == p
		},
		gen.AnyString(),
	))

	properties.Property("two encryptions of one plaintext differ", prop.ForAll(
		func(p string) bool {
			c1, err1 := enc.Encrypt(p)
			c2, err2 := enc.Encrypt(p)
			return err1 == nil && err2 == nil && c1 != c2
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestDeriveKey(t *testing.T) {
	salt := make([]byte, SaltSize)

	k1, err := DeriveKey("operator-secret", salt, MinIterations)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := DeriveKey("operator-secret", salt, MinIterations)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "derivation must be deterministic")

	_, err = DeriveKey("operator-secret", salt, MinIterations-1)
	assert.ErrorIs(t, err, ErrWeakKDF)

	_, err = DeriveKey("", salt, MinIterations)
	assert.ErrorIs(t, err, ErrEmptySecret)
}
