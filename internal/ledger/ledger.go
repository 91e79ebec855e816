// Package ledger is the virtual balance book used by simulated executions.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-authority/internal/errs"
	"trading-authority/pkg/db"
	"trading-authority/pkg/logging"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger holds per-asset virtual balances. The database row is the source of truth.
// Every read-check-write runs inside one db.WriteTx, so balance changes are serialized
// by the database's single writer, across assets as well as within one.
type Ledger struct {
	db     *db.Database
	logger zerolog.Logger
}

// New creates a ledger over database.
func New(database *db.Database, logger zerolog.Logger) *Ledger {
	return &Ledger{
		db:     database,
		logger: logging.Component(logger, "ledger"),
	}
}

func normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Balance returns the current amount of asset; assets never touched hold zero.
func (l *Ledger) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return l.db.Queries().GetBalance(ctx, normalize(asset))
}

// Balances returns every asset with a stored balance.
func (l *Ledger) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := l.db.Queries().ListBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Asset] = r.Amount
	}
	return out, nil
}

// Credit adds amount to asset and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	asset = normalize(asset)
	if asset == "" {
		return decimal.Zero, errs.NewValidationError("asset", "required")
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("credit %s: %w", asset, ErrInvalidAmount)
	}

	var next decimal.Decimal
	err := l.db.WriteTx(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		cur, err := q.GetBalance(ctx, asset)
		if err != nil {
			return err
		}
		next = cur.Add(amount)
		return q.UpsertBalance(ctx, asset, next)
	})
	if err != nil {
		return decimal.Zero, err
	}
	l.logger.Info().Str("asset", asset).Str("amount", amount.String()).Str("balance", next.String()).Msg("virtual balance credited")
	return next, nil
}

// Swap atomically debits debitAmount of debitAsset and credits creditAmount of creditAsset.
// When the debit would go negative nothing changes and an InsufficientBalanceError is returned.
func (l *Ledger) Swap(ctx context.Context, debitAsset string, debitAmount decimal.Decimal, creditAsset string, creditAmount decimal.Decimal) error {
	debitAsset, creditAsset = normalize(debitAsset), normalize(creditAsset)
	if !debitAmount.IsPositive() || creditAmount.IsNegative() {
		return ErrInvalidAmount
	}
	if debitAsset == creditAsset {
		return errs.NewValidationError("asset", "debit and credit assets must differ")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return l.db.WriteTx(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		have, err := q.GetBalance(ctx, debitAsset)
		if err != nil {
			return err
		}
		if have.LessThan(debitAmount) {
			return &errs.InsufficientBalanceError{Asset: debitAsset, Required: debitAmount, Available: have}
		}
		got, err := q.GetBalance(ctx, creditAsset)
		if err != nil {
			return err
		}
		if err := q.UpsertBalance(ctx, debitAsset, have.Sub(debitAmount)); err != nil {
			return err
		}
		return q.UpsertBalance(ctx, creditAsset, got.Add(creditAmount))
	})
}
