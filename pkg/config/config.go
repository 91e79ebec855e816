// Package config loads process configuration from .env, an optional file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"trading-authority/pkg/crypto"
)

// Config holds environment-driven settings for the authority service.
type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC health server

	// Storage and key derivation
	DBPath        string
	MasterSecret  string
	KDFIterations int

	// Sensitivity classification
	SchemaPath      string
	SensitiveTokens []string

	// Identity collaborator
	JWTSecret string

	// Logging
	LogLevel     string
	LogFile      string
	AuditLogPath string

	// Mock fill model
	MockFeePct      decimal.Decimal // percent, e.g. 0.3
	MockSlippagePct decimal.Decimal // percent, e.g. 0.5
	MockPrices      map[string]decimal.Decimal

	// Amount bounds
	TradeMinAmount decimal.Decimal
	TradeMaxAmount decimal.Decimal

	// Live path
	LiveDeadline        time.Duration
	RetryMaxAttempts    int
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration
	RetryMultiplier     float64
	ConfirmPollInterval time.Duration
	ConfirmPollAttempts int
	SettlementURL       string
	SettlementRPS       float64

	// HTTP surface
	APIRateLimit float64
	APIRateBurst int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("DB_PATH", "./data/authority.db")
	v.SetDefault("MASTER_SECRET", "")
	v.SetDefault("KDF_ITERATIONS", crypto.DefaultIterations)
	v.SetDefault("SCHEMA_PATH", "")
	v.SetDefault("SENSITIVE_TOKENS", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("AUDIT_LOG_PATH", "")
	v.SetDefault("MOCK_FEE_PCT", "0.3")
	v.SetDefault("MOCK_SLIPPAGE_PCT", "0.5")
	v.SetDefault("MOCK_PRICES", "SOL/USDC=150")
	v.SetDefault("TRADE_MIN_AMOUNT", "0.000001")
	v.SetDefault("TRADE_MAX_AMOUNT", "1000000")
	v.SetDefault("LIVE_DEADLINE", "60s")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_DELAY", "200ms")
	v.SetDefault("RETRY_MAX_DELAY", "5s")
	v.SetDefault("RETRY_MULTIPLIER", 2.0)
	v.SetDefault("CONFIRM_POLL_INTERVAL", "2s")
	v.SetDefault("CONFIRM_POLL_ATTEMPTS", 15)
	v.SetDefault("SETTLEMENT_URL", "")
	v.SetDefault("SETTLEMENT_RPS", 5.0)
	v.SetDefault("API_RATE_LIMIT", 20.0)
	v.SetDefault("API_RATE_BURST", 50)
}

// Load reads .env (when present), then the optional config file, then the environment.
// Environment variables win over file values.
func Load(configFile string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		GRPCAddr:            v.GetString("GRPC_ADDR"),
		DBPath:              v.GetString("DB_PATH"),
		MasterSecret:        v.GetString("MASTER_SECRET"),
		KDFIterations:       v.GetInt("KDF_ITERATIONS"),
		SchemaPath:          v.GetString("SCHEMA_PATH"),
		SensitiveTokens:     splitAndTrim(v.GetString("SENSITIVE_TOKENS")),
		JWTSecret:           v.GetString("JWT_SECRET"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFile:             v.GetString("LOG_FILE"),
		AuditLogPath:        v.GetString("AUDIT_LOG_PATH"),
		LiveDeadline:        v.GetDuration("LIVE_DEADLINE"),
		RetryMaxAttempts:    v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryInitialDelay:   v.GetDuration("RETRY_INITIAL_DELAY"),
		RetryMaxDelay:       v.GetDuration("RETRY_MAX_DELAY"),
		RetryMultiplier:     v.GetFloat64("RETRY_MULTIPLIER"),
		ConfirmPollInterval: v.GetDuration("CONFIRM_POLL_INTERVAL"),
		ConfirmPollAttempts: v.GetInt("CONFIRM_POLL_ATTEMPTS"),
		SettlementURL:       v.GetString("SETTLEMENT_URL"),
		SettlementRPS:       v.GetFloat64("SETTLEMENT_RPS"),
		APIRateLimit:        v.GetFloat64("API_RATE_LIMIT"),
		APIRateBurst:        v.GetInt("API_RATE_BURST"),
	}

	var err error
	if cfg.MockFeePct, err = getDecimal(v, "MOCK_FEE_PCT"); err != nil {
		return nil, err
	}
	if cfg.MockSlippagePct, err = getDecimal(v, "MOCK_SLIPPAGE_PCT"); err != nil {
		return nil, err
	}
	if cfg.TradeMinAmount, err = getDecimal(v, "TRADE_MIN_AMOUNT"); err != nil {
		return nil, err
	}
	if cfg.TradeMaxAmount, err = getDecimal(v, "TRADE_MAX_AMOUNT"); err != nil {
		return nil, err
	}
	if cfg.MockPrices, err = ParsePrices(v.GetString("MOCK_PRICES")); err != nil {
		return nil, fmt.Errorf("MOCK_PRICES: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.KDFIterations < crypto.MinIterations {
		return fmt.Errorf("KDF_ITERATIONS must be at least %d", crypto.MinIterations)
	}
	hundred := decimal.NewFromInt(100)
	if c.MockFeePct.IsNegative() || c.MockFeePct.GreaterThanOrEqual(hundred) {
		return errors.New("MOCK_FEE_PCT must be in [0, 100)")
	}
	if c.MockSlippagePct.IsNegative() || c.MockSlippagePct.GreaterThanOrEqual(hundred) {
		return errors.New("MOCK_SLIPPAGE_PCT must be in [0, 100)")
	}
	if !c.TradeMinAmount.IsPositive() || c.TradeMaxAmount.LessThan(c.TradeMinAmount) {
		return errors.New("TRADE_MIN_AMOUNT must be positive and not above TRADE_MAX_AMOUNT")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryMultiplier < 1 {
		return errors.New("RETRY_MULTIPLIER must be at least 1")
	}
	if c.LiveDeadline <= 0 || c.ConfirmPollInterval <= 0 || c.ConfirmPollAttempts < 1 {
		return errors.New("LIVE_DEADLINE, CONFIRM_POLL_INTERVAL and CONFIRM_POLL_ATTEMPTS must be positive")
	}
	return nil
}

// RequireSecret fails when no master secret is configured. Commands that never touch
// encrypted values skip this check.
func (c *Config) RequireSecret() error {
	if c.MasterSecret == "" {
		return errors.New("MASTER_SECRET is required")
	}
	return nil
}

// minJWTSecretLen is the shortest HS256 key serve accepts.
const minJWTSecretLen = 16

// RequireJWTSecret fails when the bearer-token key is unset, too short or a known
// placeholder. Only serve verifies tokens, so only serve calls it.
func (c *Config) RequireJWTSecret() error {
	switch {
	case c.JWTSecret == "":
		return errors.New("JWT_SECRET is required")
	case c.JWTSecret == "dev-secret" || c.JWTSecret == "changeme":
		return errors.New("JWT_SECRET is a placeholder value")
	case len(c.JWTSecret) < minJWTSecretLen:
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}
	return nil
}

// ParsePrices parses "SOL/USDC=150,ETH/USDC=3200.5".
func ParsePrices(val string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, item := range splitAndTrim(val) {
		pair, price, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q must be PAIR=PRICE", item)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("entry %q: price must be a positive decimal", item)
		}
		out[strings.ToUpper(strings.TrimSpace(pair))] = d
	}
	return out, nil
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
