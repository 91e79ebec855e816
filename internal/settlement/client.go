package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
)

const maxBody = 1 << 20

// Venue error codes returned in 4xx bodies.
const (
	CodeSlippage          = "SLIPPAGE_EXCEEDED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeRejected          = "REJECTED"
)

// ClientConfig configures the HTTP settlement client.
type ClientConfig struct {
	BaseURL string
	// RPS caps outgoing requests per second; zero disables the limiter.
	RPS        float64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is the JSON-over-HTTP Settlement implementation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient validates cfg and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("settlement: base url is empty")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("settlement: base url: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), httpClient: hc}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c, nil
}

type quoteRequest struct {
	Pair   string          `json:"pair"`
	Side   domain.Side     `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

// Quote asks the venue for a price and fee estimate.
func (c *Client) Quote(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (Quote, error) {
	var q Quote
	err := c.do(ctx, "quote", http.MethodPost, "/v1/quote", "", quoteRequest{Pair: pair.String(), Side: side, Amount: amount}, &q)
	if err != nil {
		return Quote{}, err
	}
	if !q.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: venue quoted non-positive price %s", errs.ErrOrderRejected, q.Price)
	}
	return q, nil
}

// Submit sends a signed transaction and returns the venue's transaction id.
func (c *Client) Submit(ctx context.Context, tx SignedTx) (string, error) {
	var res struct {
		TxID string `json:"tx_id"`
	}
	if err := c.do(ctx, "submit", http.MethodPost, "/v1/transactions", tx.APIKey, tx, &res); err != nil {
		return "", err
	}
	if res.TxID == "" {
		return "", errs.NewTransient("submit", errors.New("venue returned empty tx id"))
	}
	return res.TxID, nil
}

// PollStatus reads the confirmation state of txID.
func (c *Client) PollStatus(ctx context.Context, txID string) (Confirmation, error) {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "poll", http.MethodGet, "/v1/transactions/"+url.PathEscape(txID), "", nil, &res); err != nil {
		return Pending, err
	}
	return ParseConfirmation(res.Status), nil
}

type venueError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Asset     string          `json:"asset"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// do performs one request. Network failures, 429 and 5xx come back as
// TransientExecutionError; venue rejections are mapped onto the error taxonomy.
func (c *Client) do(ctx context.Context, op, method, path, apiKey string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("settlement %s: %w", op, ctxErr(ctx, err))
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("settlement %s: %w", op, ctx.Err())
		}
		return errs.NewTransient(op, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return errs.NewTransient(op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return errs.NewTransient(op, fmt.Errorf("status %d: %s", res.StatusCode, truncate(payload)))
	case res.StatusCode >= 400:
		return classify(op, res.StatusCode, payload)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func classify(op string, status int, payload []byte) error {
	var ve venueError
	_ = json.Unmarshal(payload, &ve)
	msg := ve.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d: %s", status, truncate(payload))
	}
	switch ve.Code {
	case CodeSlippage:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrSlippageExceeded, msg)
	case CodeInsufficientFunds:
		return &errs.InsufficientBalanceError{Asset: ve.Asset, Required: ve.Required, Available: ve.Available}
	default:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrOrderRejected, msg)
	}
}

// ctxErr normalizes limiter failures. Wait fails early when the deadline cannot be met,
// which is reported as the deadline itself.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
