package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/settlement"
)

// ErrNoSettlement means PRODUCTION was selected but no venue is wired.
var ErrNoSettlement = errors.New("no settlement venue configured")

// ErrSettlementFailed means the venue reported the submitted transaction as failed.
var ErrSettlementFailed = errors.New("settlement reported failure")

// liveHandler settles swaps through the external venue. No status lock is held while
// it runs; the whole attempt is bounded by Params.LiveDeadline.
type liveHandler struct {
	base
	venue   settlement.Settlement
	signer  *settlement.Signer
	wallet  string
	credErr error
}

func (h *liveHandler) ExecuteSwap(ctx context.Context, pair string, side domain.Side, amount decimal.Decimal) (domain.TransactionRecord, error) {
	start := time.Now()
	rec := h.newRecord(pair, side, amount)

	p, err := h.validate(pair, side, amount)
	if err != nil {
		return h.finish(ctx, rec, start, err)
	}
	rec.Pair = p.String()
	switch {
	case h.credErr != nil:
		return h.finish(ctx, rec, start, fmt.Errorf("read credentials: %w", h.credErr))
	case h.venue == nil:
		return h.finish(ctx, rec, start, ErrNoSettlement)
	case h.signer == nil:
		return h.finish(ctx, rec, start, errs.ErrMissingCredential)
	}

	attemptCtx := ctx
	if h.params.LiveDeadline > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, h.params.LiveDeadline)
		defer cancel()
	}

	err = h.settle(attemptCtx, p, side, amount, &rec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			rec.Reason = ReasonTimeout
			err = fmt.Errorf("%w: %w", errs.ErrTimeout, err)
		}
		return h.finish(ctx, rec, start, err)
	}
	rec.Status = domain.StatusExecuted
	return h.finish(ctx, rec, start, nil)
}

// settle runs quote, sign, submit and confirmation polling, filling rec as it goes.
func (h *liveHandler) settle(ctx context.Context, p domain.Pair, side domain.Side, amount decimal.Decimal, rec *domain.TransactionRecord) error {
	quote, err := settlement.Retry(ctx, h.params.Retry, "quote", h.onRetry("quote"),
		func(ctx context.Context) (settlement.Quote, error) {
			return h.venue.Quote(ctx, p, side, amount)
		})
	if err != nil {
		return err
	}
	rec.Price = quote.Price
	rec.Fee = quote.FeeEstimate

	// The record id doubles as the client id so a retried submit is idempotent at the venue.
	signed, err := h.signer.Sign(settlement.Order{
		ClientID:       rec.ID,
		Pair:           p.String(),
		Side:           side,
		Amount:         amount,
		Price:          quote.Price,
		MaxSlippagePct: h.params.SlippagePct,
		Wallet:         h.wallet,
	})
	if err != nil {
		return err
	}

	txID, err := settlement.Retry(ctx, h.params.Retry, "submit", h.onRetry("submit"),
		func(ctx context.Context) (string, error) {
			return h.venue.Submit(ctx, signed)
		})
	if err != nil {
		return err
	}
	rec.TxID = txID

	return h.confirm(ctx, txID)
}

func (h *liveHandler) confirm(ctx context.Context, txID string) error {
	attempts := h.params.PollAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		state, err := settlement.Retry(ctx, h.params.Retry, "poll", h.onRetry("poll"),
			func(ctx context.Context) (settlement.Confirmation, error) {
				return h.venue.PollStatus(ctx, txID)
			})
		if err != nil {
			return err
		}
		switch state {
		case settlement.Confirmed:
			return nil
		case settlement.Failed:
			return fmt.Errorf("%w: tx %s", ErrSettlementFailed, txID)
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(h.params.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("tx %s unconfirmed after %d polls: %w", txID, attempts, context.DeadlineExceeded)
}

func (h *liveHandler) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		h.metrics.SettlementRetry(op)
		h.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient settlement failure, retrying")
	}
}
