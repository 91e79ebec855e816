package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-authority/internal/audit"
	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/events"
	"trading-authority/internal/execution"
	"trading-authority/internal/ledger"
	"trading-authority/internal/monitor"
	"trading-authority/internal/settings"
	"trading-authority/internal/status"
	"trading-authority/pkg/crypto"
	"trading-authority/pkg/db"
)

const (
	testSecret        = "test-secret"
	testWalletKey     = "4NMwxzmYbfSzBzDXSgfHZ6FrqZFo5MxTqRoNKvKvDzqWf2ZTq8o3ELQJYGBMUzwdkT5TLGx6JvwcjTCbJ2cMmHqo"
	testWalletAddress = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

func generateToken(t *testing.T, userID, secret string, expiresAt time.Time) string {
	t.Helper()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newTestAPIServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	keys, err := crypto.Open(context.Background(), "operator-secret", crypto.MinIterations, settings.NewKeyStore(database))
	require.NoError(t, err)

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	store := settings.NewStore(database, keys, settings.Options{Bus: bus, Metrics: metrics, Logger: zerolog.Nop()})
	mgr := status.NewManager(database, store, bus, zerolog.Nop())
	ldg := ledger.New(database, zerolog.Nop())
	prices := ledger.NewPriceBook(map[string]decimal.Decimal{"SOL/USDC": decimal.NewFromInt(150)})
	trail := audit.New(database, audit.Options{Host: "api-test", Bus: bus, Metrics: metrics, Logger: zerolog.Nop()})
	factory := execution.NewFactory(execution.Deps{
		Status:  mgr,
		Config:  store,
		Trail:   trail,
		Ledger:  ldg,
		Prices:  prices,
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	}, execution.DefaultParams())
	dispatcher := execution.NewDispatcher(factory, 2, zerolog.Nop())

	server := NewServer(Deps{
		Status:     mgr,
		Store:      store,
		Factory:    factory,
		Dispatcher: dispatcher,
		Trail:      trail,
		Ledger:     ldg,
		Prices:     prices,
		Metrics:    metrics,
		Logger:     zerolog.Nop(),
	}, Options{JWTSecret: testSecret, RateLimit: 1000, RateBurst: 1000})

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		dispatcher.Close()
		_ = server.Shutdown(context.Background())
		_ = database.Close()
	})
	return httpServer, generateToken(t, "user-1", testSecret, time.Now().Add(time.Hour))
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields []errs.FieldError `json:"fields"`
}

type tradeBody struct {
	Code   string                   `json:"code"`
	Record domain.TransactionRecord `json:"record"`
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	client := ts.Client()

	assert.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, nil))
	assert.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/health", "", nil, nil))

	var resp errorBody
	code := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/system/status", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "MISSING_TOKEN", resp.Code)

	wrong := generateToken(t, "user-1", "other-secret", time.Now().Add(time.Hour))
	code = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/system/status", wrong, nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_TOKEN", resp.Code)

	expired := generateToken(t, "user-1", testSecret, time.Now().Add(-time.Minute))
	code = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/system/status", expired, nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOnboardingAndTradeFlow(t *testing.T) {
	ts, token := newTestAPIServer(t)
	client := ts.Client()
	url := func(p string) string { return ts.URL + p }

	var snap domain.StatusSnapshot
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, url("/api/system/status"), token, nil, &snap))
	assert.False(t, snap.IsConfigured)

	// Not configured: refused, but recorded.
	var trade tradeBody
	code := doJSONRequest(t, client, http.MethodPost, url("/api/trades"), token,
		map[string]any{"pair": "SOL/USDC", "side": "BUY", "amount": "10"}, &trade)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_CONFIGURED", trade.Code)
	assert.Equal(t, domain.StatusFailed, trade.Record.Status)

	var partial status.PartialResult
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding/validate"), token,
		map[string]any{"mode": "TEST"}, &partial))
	assert.False(t, partial.Complete)
	assert.Contains(t, partial.Missing, status.MissingCredential)

	partial = status.PartialResult{}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding/validate"), token,
		map[string]any{"mode": "TEST", "wallet_private_key": testWalletKey}, &partial))
	assert.False(t, partial.Complete)
	assert.Equal(t, []string{settings.KeyWalletAddress}, partial.Missing)

	var rejected errorBody
	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding"), token,
		map[string]any{"mode": "TEST", "api_key": "ak_live_0123456789abcdef"}, &rejected))
	assert.Equal(t, "VALIDATION_FAILED", rejected.Code)

	require.Equal(t, http.StatusCreated, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding"), token,
		map[string]any{"mode": "TEST", "wallet_private_key": testWalletKey, "wallet_address": testWalletAddress}, &snap))
	assert.True(t, snap.IsConfigured)

	var eb errorBody
	assert.Equal(t, http.StatusConflict, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding"), token,
		map[string]any{"mode": "PRODUCTION", "wallet_private_key": testWalletKey, "wallet_address": testWalletAddress}, &eb))
	assert.Equal(t, "ALREADY_CONFIGURED", eb.Code)

	code = doJSONRequest(t, client, http.MethodPost, url("/api/trades"), token,
		map[string]any{"pair": "SOL/USDC", "side": "buy", "amount": "10"}, &trade)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", trade.Code)
	assert.Equal(t, domain.ModeTest, trade.Record.ModeUsed)

	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/ledger/credit"), token,
		map[string]any{"asset": "usdc", "amount": "1000"}, nil))

	trade = tradeBody{}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/trades"), token,
		map[string]any{"pair": "SOL/USDC", "side": "BUY", "amount": "10"}, &trade))
	assert.Equal(t, domain.StatusSimulated, trade.Record.Status)
	assert.Equal(t, domain.ModeTest, trade.Record.ModeUsed)

	var list struct {
		Records []domain.TransactionRecord `json:"records"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, url("/api/trades?status=failed"), token, nil, &list))
	assert.Len(t, list.Records, 2)

	var ledgerResp struct {
		Balances map[string]decimal.Decimal `json:"balances"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, url("/api/ledger"), token, nil, &ledgerResp))
	assert.True(t, ledgerResp.Balances["USDC"].Equal(decimal.RequireFromString("989.97")), "got %s", ledgerResp.Balances["USDC"])
}

func TestConfigEndpoints(t *testing.T) {
	ts, token := newTestAPIServer(t)
	client := ts.Client()
	url := func(p string) string { return ts.URL + p }

	var onboarded domain.StatusSnapshot
	require.Equal(t, http.StatusCreated, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding"), token,
		map[string]any{"mode": "TEST", "wallet_private_key": testWalletKey, "api_key": "ak_live_0123456789abcdef", "api_secret": "sk_live_fedcba9876543210"}, &onboarded))

	var set struct {
		Key     string `json:"key"`
		Version int64  `json:"configuration_version"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPut, url("/api/config/mock_fee_pct"), token,
		map[string]any{"value": "0.1", "category": "trading"}, &set))
	assert.Equal(t, "mock_fee_pct", set.Key)
	assert.Equal(t, onboarded.ConfigurationVersion+1, set.Version)

	var snap domain.StatusSnapshot
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, url("/api/system/status"), token, nil, &snap))
	assert.Equal(t, set.Version, snap.ConfigurationVersion)

	var eb errorBody
	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, client, http.MethodPut, url("/api/config/mock_fee_pct"), token,
		map[string]any{"value": "150", "category": "TRADING"}, &eb))
	assert.Equal(t, "VALIDATION_FAILED", eb.Code)
	require.NotEmpty(t, eb.Fields)
	assert.Equal(t, "mock_fee_pct", eb.Fields[0].Field)

	var cfg struct {
		Entries []settings.Entry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, url("/api/config"), token, nil, &cfg))
	byKey := map[string]settings.Entry{}
	for _, e := range cfg.Entries {
		byKey[e.Key] = e
	}
	assert.Equal(t, "********", byKey[settings.KeyWalletPrivateKey].Value)
	assert.Equal(t, "****cdef", byKey[settings.KeyAPIKey].Value)
	assert.Equal(t, "0.1", byKey[settings.KeyMockFeePct].Value)

	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, client, http.MethodGet, url("/api/config?category=nope"), token, nil, nil))
}

func TestSwitchModeEndpoint(t *testing.T) {
	ts, token := newTestAPIServer(t)
	client := ts.Client()
	url := func(p string) string { return ts.URL + p }

	var eb errorBody
	assert.Equal(t, http.StatusConflict, doJSONRequest(t, client, http.MethodPost, url("/api/system/mode"), token,
		map[string]any{"mode": "PRODUCTION"}, &eb))
	assert.Equal(t, "NOT_CONFIGURED", eb.Code)

	var snap domain.StatusSnapshot
	require.Equal(t, http.StatusCreated, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding"), token,
		map[string]any{"mode": "TEST", "wallet_private_key": testWalletKey, "wallet_address": testWalletAddress}, &snap))

	assert.Equal(t, http.StatusConflict, doJSONRequest(t, client, http.MethodPost, url("/api/system/mode"), token,
		map[string]any{"mode": "PRODUCTION", "expected_version": snap.ConfigurationVersion - 1}, &eb))
	assert.Equal(t, "VERSION_CONFLICT", eb.Code)

	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, client, http.MethodPost, url("/api/system/mode"), token,
		map[string]any{"mode": "LIVE"}, &eb))
	assert.Equal(t, "VALIDATION_FAILED", eb.Code)

	var next domain.StatusSnapshot
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/system/mode"), token,
		map[string]any{"mode": "production", "expected_version": snap.ConfigurationVersion}, &next))
	assert.Equal(t, domain.ModeProduction, next.OperatingMode)
	assert.Equal(t, snap.ConfigurationVersion+1, next.ConfigurationVersion)

	// PRODUCTION without a venue: the attempt fails but is still recorded with its mode.
	var trade tradeBody
	assert.Equal(t, http.StatusConflict, doJSONRequest(t, client, http.MethodPost, url("/api/trades"), token,
		map[string]any{"pair": "SOL/USDC", "side": "SELL", "amount": "1"}, &trade))
	assert.Equal(t, "LIVE_UNAVAILABLE", trade.Code)
	assert.Equal(t, domain.ModeProduction, trade.Record.ModeUsed)
}

func TestBatchAndPrices(t *testing.T) {
	ts, token := newTestAPIServer(t)
	client := ts.Client()
	url := func(p string) string { return ts.URL + p }

	require.Equal(t, http.StatusCreated, doJSONRequest(t, client, http.MethodPost, url("/api/onboarding"), token,
		map[string]any{"mode": "TEST", "wallet_private_key": testWalletKey, "wallet_address": testWalletAddress}, nil))
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPut, url("/api/ledger/prices"), token,
		map[string]any{"pair": "ETH/USDC", "price": "2000"}, nil))
	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, client, http.MethodPut, url("/api/ledger/prices"), token,
		map[string]any{"pair": "ETH/USDC", "price": "-1"}, nil))
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/ledger/credit"), token,
		map[string]any{"asset": "ETH", "amount": "1"}, nil))

	var batch struct {
		Results []struct {
			Record domain.TransactionRecord `json:"record"`
			Error  string                   `json:"error"`
		} `json:"results"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodPost, url("/api/trades/batch"), token,
		map[string]any{"requests": []map[string]any{
			{"pair": "ETH/USDC", "side": "SELL", "amount": "0.5"},
			{"pair": "ETH/USDC", "side": "SELL", "amount": "0.5"},
		}}, &batch))
	require.Len(t, batch.Results, 2)

	simulated := 0
	for _, r := range batch.Results {
		if r.Record.Status == domain.StatusSimulated {
			simulated++
		}
	}
	// 0.5 plus the 0.3% fee twice exceeds 1 ETH, so only one sell fills.
	assert.Equal(t, 1, simulated)

	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, client, http.MethodPost, url("/api/trades/batch"), token,
		map[string]any{"requests": []map[string]any{}}, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errs.NewValidationError("x", "bad"), 400, "VALIDATION_FAILED"},
		{fmt.Errorf("wrap: %w", errs.ErrAmountOutOfBounds), 400, "VALIDATION_FAILED"},
		{&errs.NotConfiguredError{}, 409, "NOT_CONFIGURED"},
		{&errs.ConcurrencyConflictError{Expected: 1, Actual: 2}, 409, "VERSION_CONFLICT"},
		{&errs.InsufficientBalanceError{Asset: "USDC"}, 422, "INSUFFICIENT_BALANCE"},
		{&crypto.DecryptionError{Kind: crypto.FailureWrongKey, Err: crypto.ErrWrongKey}, 500, "DECRYPTION_FAILED"},
		{&crypto.EncryptionError{Op: "rotate", Err: errors.New("x")}, 500, "ENCRYPTION_FAILED"},
		{errs.NewTransient("submit", errors.New("503")), 503, "SETTLEMENT_UNAVAILABLE"},
		{fmt.Errorf("%w: deadline", errs.ErrTimeout), 504, "TIMEOUT"},
		{errors.Join(&errs.InsufficientBalanceError{}, errors.New("audit down")), 422, "INSUFFICIENT_BALANCE"},
		{errors.New("boom"), 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		st, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, st, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
