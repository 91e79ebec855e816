package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-authority/internal/domain"
	"trading-authority/internal/status"
	"trading-authority/pkg/config"
	"trading-authority/pkg/crypto"
	"trading-authority/pkg/logging"
)

const (
	testWalletKey     = "4NMwxzmYbfSzBzDXSgfHZ6FrqZFo5MxTqRoNKvKvDzqWf2ZTq8o3ELQJYGBMUzwdkT5TLGx6JvwcjTCbJ2cMmHqo"
	testWalletAddress = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "authority.db")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("MASTER_SECRET", "first-secret")
	t.Setenv("KDF_ITERATIONS", "100000")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SETTLEMENT_URL", "")
	t.Setenv("AUDIT_LOG_PATH", "")
	return dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openTestStack(t *testing.T) *Stack {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	st, err := openStack(context.Background(), cfg, logging.New(logging.LogConfig{Level: "error"}), false)
	require.NoError(t, err)
	return st
}

func onboard(t *testing.T) {
	t.Helper()
	st := openTestStack(t)
	defer st.Close()
	_, err := st.Status.CompleteOnboarding(context.Background(), status.OnboardingPayload{
		Mode:             "TEST",
		WalletPrivateKey: testWalletKey,
		WalletAddress:    testWalletAddress,
	})
	require.NoError(t, err)
}

func TestStatusCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "status", "--json")
	require.NoError(t, err)

	var snap domain.StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.False(t, snap.IsConfigured)
	assert.Equal(t, domain.ModeTest, snap.OperatingMode)
}

func TestMissingSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("MASTER_SECRET", "")

	_, err := run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MASTER_SECRET")
}

func TestServeRequiresJWTSecret(t *testing.T) {
	setupEnv(t)

	for _, secret := range []string{"", "dev-secret", "too-short"} {
		t.Setenv("JWT_SECRET", secret)
		_, err := run(t, "serve")
		require.Error(t, err, "secret %q", secret)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	}
}

func TestSwitchModeCommand(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "switch-mode", "PRODUCTION")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	_, err = run(t, "switch-mode", "LIVE")
	require.Error(t, err)

	onboard(t)

	out, err := run(t, "status", "--json")
	require.NoError(t, err)
	var before domain.StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &before))

	_, err = run(t, "switch-mode", "production", "--expected-version", strconv.FormatInt(before.ConfigurationVersion-1, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	out, err = run(t, "switch-mode", "production", "--json")
	require.NoError(t, err)
	var after domain.StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &after))
	assert.Equal(t, domain.ModeProduction, after.OperatingMode)
	assert.Equal(t, before.ConfigurationVersion+1, after.ConfigurationVersion)
}

func TestResetCommand(t *testing.T) {
	setupEnv(t)
	onboard(t)

	_, err := run(t, "reset")
	require.Error(t, err)

	out, err := run(t, "reset", "--confirm", "--json")
	require.NoError(t, err)
	var snap domain.StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.False(t, snap.IsConfigured)
}

func TestLedgerAndAuditCommands(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "ledger", "credit", "usdc", "100")
	require.NoError(t, err)
	_, err = run(t, "ledger", "credit", "usdc", "0")
	require.Error(t, err)

	out, err := run(t, "ledger", "balances", "--json")
	require.NoError(t, err)
	var balances map[string]decimal.Decimal
	require.NoError(t, json.Unmarshal([]byte(out), &balances))
	assert.True(t, balances["USDC"].Equal(decimal.NewFromInt(100)))

	onboard(t)
	st := openTestStack(t)
	_, err = st.Factory.Execute(context.Background(), "SOL/USDC", domain.SideBuy, decimal.NewFromInt(10))
	require.NoError(t, err)
	st.Close()

	out, err = run(t, "audit", "list", "--json", "--status", "simulated")
	require.NoError(t, err)
	var records []domain.TransactionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, domain.ModeTest, records[0].ModeUsed)

	out, err = run(t, "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SIMULATED")
}

func TestRotateKeyCommand(t *testing.T) {
	setupEnv(t)
	onboard(t)

	_, err := run(t, "rotate-key", "--new-secret-env", "ROTATION_SECRET")
	require.Error(t, err)

	t.Setenv("ROTATION_SECRET", "second-secret")
	out, err := run(t, "rotate-key", "--new-secret-env", "ROTATION_SECRET", "--json")
	require.NoError(t, err)
	var resp map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp["key_version"])

	// The old secret no longer opens the key.
	_, err = run(t, "status")
	require.Error(t, err)
	var de *crypto.DecryptionError
	assert.ErrorAs(t, err, &de)

	t.Setenv("MASTER_SECRET", "second-secret")
	st := openTestStack(t)
	defer st.Close()
	v, err := st.Store.Get(context.Background(), "wallet_private_key")
	require.NoError(t, err)
	assert.Equal(t, testWalletKey, v)
}
