// Package settlement talks to the external venue that settles live swaps.
package settlement

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
)

// Confirmation is the venue's view of a submitted transaction.
type Confirmation string

const (
	Confirmed Confirmation = "confirmed"
	Pending   Confirmation = "pending"
	Failed    Confirmation = "failed"
)

// ParseConfirmation maps venue status strings onto the three known states. Anything
// unrecognised counts as pending so the caller keeps polling until its deadline.
func ParseConfirmation(s string) Confirmation {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed", "finalized", "filled", "success":
		return Confirmed
	case "failed", "rejected", "expired", "dropped":
		return Failed
	default:
		return Pending
	}
}

// Quote is the venue's price for a swap and its fee estimate.
type Quote struct {
	Price       decimal.Decimal `json:"price"`
	FeeEstimate decimal.Decimal `json:"fee_estimate"`
}

// Order is an unsigned swap intent priced from a Quote.
type Order struct {
	ClientID string          `json:"client_id"`
	Pair     string          `json:"pair"`
	Side     domain.Side     `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	// MaxSlippagePct bounds the fill price relative to Price, in percent.
	MaxSlippagePct decimal.Decimal `json:"max_slippage_pct"`
	Wallet         string          `json:"wallet,omitempty"`
}

// SignedTx is an Order plus the credentials proof the venue checks.
type SignedTx struct {
	Order
	APIKey    string `json:"-"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Settlement is the live venue collaborator.
type Settlement interface {
	Quote(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (Quote, error)
	Submit(ctx context.Context, tx SignedTx) (txID string, err error)
	PollStatus(ctx context.Context, txID string) (Confirmation, error)
}
