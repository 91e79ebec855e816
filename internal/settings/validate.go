package settings

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
)

const (
	maxValueLen   = 4096
	base58Letters = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,63}$`)

// Well-known keys.
const (
	KeyWalletPrivateKey = "wallet_private_key"
	KeyWalletAddress    = "wallet_address"
	KeyAPIKey           = "api_key"
	KeyAPISecret        = "api_secret"
	KeyMockFeePct       = "mock_fee_pct"
	KeyMockSlippagePct  = "mock_slippage_pct"
	KeyMinTradeAmount   = "min_trade_amount"
	KeyMaxTradeAmount   = "max_trade_amount"
	KeyDefaultPair      = "default_pair"
	KeyTheme            = "theme"
)

// formats maps a format name to its checker. Names are usable from the YAML schema.
var formats = map[string]func(string) error{
	"base58_key":     base58Len(43, 88),
	"base58_address": base58Len(32, 44),
	"url":            absoluteURL,
	"api_key":        apiKey,
	"percent":        percent,
	"decimal":        positiveDecimal,
	"pair":           pair,
	"theme":          oneOf("light", "dark", "system"),
	"any":            func(string) error { return nil },
}

// formatFor picks the format rule for key: schema first, then well-known names.
func formatFor(key string, schema *Schema) string {
	if rule, ok := schema.Rule(key); ok && rule.Format != "" {
		return rule.Format
	}
	switch {
	case key == KeyWalletPrivateKey:
		return "base58_key"
	case key == KeyWalletAddress:
		return "base58_address"
	case key == KeyAPIKey || key == KeyAPISecret:
		return "api_key"
	case key == KeyMockFeePct || key == KeyMockSlippagePct:
		return "percent"
	case key == KeyMinTradeAmount || key == KeyMaxTradeAmount:
		return "decimal"
	case key == KeyDefaultPair:
		return "pair"
	case key == KeyTheme:
		return "theme"
	case strings.HasSuffix(key, "_url") || strings.HasSuffix(key, "_endpoint"):
		return "url"
	}
	return "any"
}

// validateEntry checks key, category and value format. Messages never echo the value.
func validateEntry(key, value string, category Category, schema *Schema) error {
	var ve errs.ValidationError
	if !keyPattern.MatchString(key) {
		ve.Add("key", "must match ^[a-z][a-z0-9_.]{0,63}$")
	}
	if !category.Valid() {
		ve.Add("category", fmt.Sprintf("unknown category %q", category))
	}
	if value == "" {
		ve.Add(key, "value is required")
	} else if len(value) > maxValueLen {
		ve.Add(key, fmt.Sprintf("value longer than %d bytes", maxValueLen))
	} else if keyPattern.MatchString(key) {
		if err := formats[formatFor(key, schema)](value); err != nil {
			ve.Add(key, err.Error())
		}
	}
	return ve.Err()
}

// ValidKey reports whether key is an acceptable configuration key name.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ValidateValue runs only the format rule for key; onboarding uses it for partial checks.
func ValidateValue(key, value string, schema *Schema) error {
	if value == "" {
		return errors.New("value is required")
	}
	if len(value) > maxValueLen {
		return fmt.Errorf("value longer than %d bytes", maxValueLen)
	}
	return formats[formatFor(key, schema)](value)
}

func base58Len(lo, hi int) func(string) error {
	return func(v string) error {
		if len(v) < lo || len(v) > hi {
			return fmt.Errorf("must be %d-%d base58 characters", lo, hi)
		}
		for _, r := range v {
			if !strings.ContainsRune(base58Letters, r) {
				return errors.New("contains characters outside the base58 alphabet")
			}
		}
		return nil
	}
}

func absoluteURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	}
	return errors.New("scheme must be http, https, ws or wss")
}

func apiKey(v string) error {
	if len(v) < 16 || len(v) > 256 {
		return errors.New("must be 16-256 characters")
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return errors.New("must not contain whitespace")
	}
	return nil
}

func percent(v string) error {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return errors.New("must be a decimal number")
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return errors.New("must be in [0, 100)")
	}
	return nil
}

func positiveDecimal(v string) error {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return errors.New("must be a decimal number")
	}
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

func pair(v string) error {
	_, err := domain.ParsePair(v)
	return err
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}
