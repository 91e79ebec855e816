// Package execution decides, per request, whether a swap settles for real or runs
// against the virtual ledger, and records every attempt in the audit trail.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-authority/internal/audit"
	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/monitor"
)

// Audit reasons with fixed wording.
const (
	ReasonNotConfigured = "system not configured"
	ReasonTimeout       = "timeout"
)

// Handler executes swaps under the operating mode it was built with. The mode never
// changes for the handler's lifetime; only this package can implement it.
type Handler interface {
	Mode() domain.OperatingMode
	ConfigVersion() int64
	ExecuteSwap(ctx context.Context, pair string, side domain.Side, amount decimal.Decimal) (domain.TransactionRecord, error)

	sealed()
}

// base carries what every handler variant shares: the bound snapshot, the parameters
// resolved at dispatch time and the audit sink.
type base struct {
	mode      domain.OperatingMode
	version   int64
	params    Params
	paramsErr error // set when stored overrides could not be read
	trail     *audit.Trail
	metrics   *monitor.Metrics
	logger    zerolog.Logger
}

func (b *base) Mode() domain.OperatingMode { return b.mode }

func (b *base) ConfigVersion() int64 { return b.version }

func (b *base) sealed() {}

// newRecord starts the record for one attempt; every field the caller supplied is kept
// even when it fails validation, so rejected input is visible in the trail.
func (b *base) newRecord(pair string, side domain.Side, amount decimal.Decimal) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		ModeUsed:      b.mode,
		ConfigVersion: b.version,
	}
}

// finish stamps the outcome, appends the one audit record for this call and reports
// metrics. A failed append is returned alongside any execution error.
func (b *base) finish(ctx context.Context, rec domain.TransactionRecord, start time.Time, execErr error) (domain.TransactionRecord, error) {
	if execErr != nil {
		rec.Status = domain.StatusFailed
		if rec.Reason == "" {
			rec.Reason = execErr.Error()
		}
	}

	stored, err := b.trail.Append(ctx, rec)
	b.metrics.ObserveExecution(string(rec.ModeUsed), string(rec.Status), time.Since(start))

	ev := b.logger.Info()
	if execErr != nil {
		ev = b.logger.Warn().Err(execErr)
	}
	ev.Str("id", stored.ID).
		Str("pair", stored.Pair).
		Str("side", string(stored.Side)).
		Str("amount", stored.Amount.String()).
		Str("mode_used", string(stored.ModeUsed)).
		Str("status", string(stored.Status)).
		Int64("config_version", stored.ConfigVersion).
		Dur("latency", time.Since(start)).
		Msg("swap finished")

	if err != nil {
		return stored, errors.Join(execErr, err)
	}
	return stored, execErr
}

// validate checks that the dispatch parameters resolved, then the request shape and
// amount bounds.
func (b *base) validate(pair string, side domain.Side, amount decimal.Decimal) (domain.Pair, error) {
	if b.paramsErr != nil {
		return domain.Pair{}, b.paramsErr
	}
	verr := &errs.ValidationError{}
	p, err := domain.ParsePair(pair)
	if err != nil {
		verr.Add("pair", err.Error())
	}
	if side != domain.SideBuy && side != domain.SideSell {
		verr.Add("side", fmt.Sprintf("must be %s or %s", domain.SideBuy, domain.SideSell))
	}
	if !amount.IsPositive() {
		verr.Add("amount", "must be positive")
	}
	if err := verr.Err(); err != nil {
		return domain.Pair{}, err
	}
	if err := b.params.checkBounds(amount); err != nil {
		return domain.Pair{}, err
	}
	return p, nil
}
