package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/ledger"
)

// outputPlaces bounds the precision of simulated fills.
const outputPlaces = 12

// mockHandler fills swaps against the virtual ledger at the reference price adjusted
// by the configured slippage, charging the configured fee on the input asset.
type mockHandler struct {
	base
	ledger *ledger.Ledger
	prices *ledger.PriceBook
}

// Fill is the simulated outcome of a swap before it touches the ledger.
type Fill struct {
	Price  decimal.Decimal // nominal adjusted by slippage
	Fee    decimal.Decimal // charged in the input asset
	Debit  decimal.Decimal // amount + fee, input asset
	Output decimal.Decimal // output asset
}

// SimulateFill applies the mock fill model. BUY spends amount of the quote asset,
// SELL spends amount of the base asset; slippage always moves the price against the caller.
func SimulateFill(side domain.Side, amount, nominal decimal.Decimal, p Params) Fill {
	slip := p.slippageRate()
	f := Fill{Fee: amount.Mul(p.feeRate())}
	f.Debit = amount.Add(f.Fee)
	if side == domain.SideBuy {
		f.Price = nominal.Mul(decimal.NewFromInt(1).Add(slip))
		f.Output = amount.DivRound(f.Price, outputPlaces)
	} else {
		f.Price = nominal.Mul(decimal.NewFromInt(1).Sub(slip))
		f.Output = amount.Mul(f.Price).Round(outputPlaces)
	}
	return f
}

func (h *mockHandler) ExecuteSwap(ctx context.Context, pair string, side domain.Side, amount decimal.Decimal) (domain.TransactionRecord, error) {
	start := time.Now()
	rec := h.newRecord(pair, side, amount)

	p, err := h.validate(pair, side, amount)
	if err != nil {
		return h.finish(ctx, rec, start, err)
	}
	rec.Pair = p.String()
	if err := ctx.Err(); err != nil {
		return h.finish(ctx, rec, start, err)
	}

	nominal, ok := h.prices.Price(p)
	if !ok {
		return h.finish(ctx, rec, start, fmt.Errorf("%w: %s", errs.ErrNoPrice, p))
	}
	fill := SimulateFill(side, amount, nominal, h.params)
	if !fill.Price.IsPositive() {
		return h.finish(ctx, rec, start, fmt.Errorf("%w: slippage leaves no positive price for %s", errs.ErrNoPrice, p))
	}
	rec.Price = fill.Price
	rec.Fee = fill.Fee

	in, out := p.Legs(side)
	if err := h.ledger.Swap(ctx, in, fill.Debit, out, fill.Output); err != nil {
		return h.finish(ctx, rec, start, err)
	}
	rec.Status = domain.StatusSimulated
	return h.finish(ctx, rec, start, nil)
}
