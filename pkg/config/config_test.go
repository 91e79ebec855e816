package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MASTER_SECRET", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 600000, cfg.KDFIterations)
	assert.True(t, cfg.MockFeePct.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, cfg.MockPrices["SOL/USDC"].Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 60*time.Second, cfg.LiveDeadline)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryInitialDelay)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Error(t, cfg.RequireSecret())
	assert.Empty(t, cfg.JWTSecret)
	assert.Error(t, cfg.RequireJWTSecret())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MASTER_SECRET", "operator-secret")
	t.Setenv("MOCK_PRICES", "sol/usdc=151.5, ETH/USDC=3200")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("SENSITIVE_TOKENS", "pin, otp")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.RequireSecret())
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, []string{"pin", "otp"}, cfg.SensitiveTokens)
	assert.True(t, cfg.MockPrices["SOL/USDC"].Equal(decimal.RequireFromString("151.5")))
	assert.Len(t, cfg.MockPrices, 2)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "authority.yaml")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR: \":9090\"\nMOCK_FEE_PCT: \"0.1\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.True(t, cfg.MockFeePct.Equal(decimal.RequireFromString("0.1")))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"KDF_ITERATIONS":     "1000",
		"MOCK_FEE_PCT":       "100",
		"MOCK_SLIPPAGE_PCT":  "-1",
		"TRADE_MIN_AMOUNT":   "abc",
		"RETRY_MAX_ATTEMPTS": "0",
		"MOCK_PRICES":        "SOL/USDC",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestRequireJWTSecret(t *testing.T) {
	tests := []struct {
		secret string
		ok     bool
	}{
		{"", false},
		{"dev-secret", false},
		{"changeme", false},
		{"short-key", false},
		{"0123456789abcdef", true},
		{"a-long-operator-chosen-signing-key", true},
	}
	for _, tt := range tests {
		t.Run(tt.secret, func(t *testing.T) {
			cfg := &Config{JWTSecret: tt.secret}
			if tt.ok {
				assert.NoError(t, cfg.RequireJWTSecret())
			} else {
				assert.Error(t, cfg.RequireJWTSecret())
			}
		})
	}
}

func TestParsePrices(t *testing.T) {
	prices, err := ParsePrices("")
	require.NoError(t, err)
	assert.Empty(t, prices)

	_, err = ParsePrices("SOL/USDC=-3")
	assert.Error(t, err)
}
