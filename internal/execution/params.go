package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-authority/internal/errs"
	"trading-authority/internal/settlement"
)

var hundred = decimal.NewFromInt(100)

// Params is the execution tuning bound into a handler at dispatch time. Defaults come
// from process configuration; TRADING entries in the configuration store override them.
type Params struct {
	FeePct      decimal.Decimal // percent of amount
	SlippagePct decimal.Decimal // percent of nominal price
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal

	LiveDeadline time.Duration
	Retry        settlement.RetryPolicy
	PollInterval time.Duration
	PollAttempts int
}

// DefaultParams returns conservative defaults.
func DefaultParams() Params {
	return Params{
		FeePct:       decimal.RequireFromString("0.3"),
		SlippagePct:  decimal.RequireFromString("0.5"),
		MinAmount:    decimal.RequireFromString("0.000001"),
		MaxAmount:    decimal.NewFromInt(1000000),
		LiveDeadline: 60 * time.Second,
		Retry:        settlement.DefaultRetryPolicy(),
		PollInterval: 2 * time.Second,
		PollAttempts: 15,
	}
}

func (p Params) checkBounds(amount decimal.Decimal) error {
	if !p.MinAmount.IsZero() && amount.LessThan(p.MinAmount) {
		return fmt.Errorf("%w: %s below minimum %s", errs.ErrAmountOutOfBounds, amount, p.MinAmount)
	}
	if !p.MaxAmount.IsZero() && amount.GreaterThan(p.MaxAmount) {
		return fmt.Errorf("%w: %s above maximum %s", errs.ErrAmountOutOfBounds, amount, p.MaxAmount)
	}
	return nil
}

func (p Params) feeRate() decimal.Decimal { return p.FeePct.Div(hundred) }

func (p Params) slippageRate() decimal.Decimal { return p.SlippagePct.Div(hundred) }
