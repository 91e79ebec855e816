package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
)

// refusedHandler is built while the system is not configured. Every call fails, and
// every failure is still recorded.
type refusedHandler struct {
	base
}

func (h *refusedHandler) ExecuteSwap(ctx context.Context, pair string, side domain.Side, amount decimal.Decimal) (domain.TransactionRecord, error) {
	start := time.Now()
	rec := h.newRecord(pair, side, amount)
	rec.Reason = ReasonNotConfigured
	return h.finish(ctx, rec, start, &errs.NotConfiguredError{Op: "execute swap"})
}
