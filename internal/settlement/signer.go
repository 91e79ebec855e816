package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"time"
)

// ErrMissingCredentials is returned when a signer has no key or secret.
var ErrMissingCredentials = errors.New("settlement: api key/secret required")

// Signer authenticates orders with HMAC-SHA256 over their canonical query encoding.
type Signer struct {
	APIKey    string
	APISecret string

	now func() time.Time
}

// NewSigner binds credentials read from the configuration store.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{APIKey: apiKey, APISecret: apiSecret, now: time.Now}
}

// Sign stamps o and signs it.
func (s *Signer) Sign(o Order) (SignedTx, error) {
	if s.APIKey == "" || s.APISecret == "" {
		return SignedTx{}, ErrMissingCredentials
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	tx := SignedTx{Order: o, APIKey: s.APIKey, Timestamp: now().UnixMilli()}
	tx.Signature = sign(canonical(tx), s.APISecret)
	return tx, nil
}

// Verify reports whether tx carries a valid signature for secret.
func Verify(tx SignedTx, secret string) bool {
	want := sign(canonical(tx), secret)
	return hmac.Equal([]byte(want), []byte(tx.Signature))
}

// canonical is url.Values.Encode, which sorts keys.
func canonical(tx SignedTx) string {
	params := url.Values{}
	params.Set("client_id", tx.ClientID)
	params.Set("pair", tx.Pair)
	params.Set("side", string(tx.Side))
	params.Set("amount", tx.Amount.String())
	params.Set("price", tx.Price.String())
	params.Set("max_slippage_pct", tx.MaxSlippagePct.String())
	if tx.Wallet != "" {
		params.Set("wallet", tx.Wallet)
	}
	params.Set("timestamp", strconv.FormatInt(tx.Timestamp, 10))
	return params.Encode()
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
