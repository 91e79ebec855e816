package ledger

import (
	"sync"

	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
)

// PriceBook holds nominal reference prices (quote per base) for the simulated path.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewPriceBook seeds a book from "BASE/QUOTE" keyed prices.
func NewPriceBook(seed map[string]decimal.Decimal) *PriceBook {
	b := &PriceBook{prices: make(map[string]decimal.Decimal, len(seed))}
	for k, v := range seed {
		if p, err := domain.ParsePair(k); err == nil && v.IsPositive() {
			b.prices[p.String()] = v
		}
	}
	return b
}

// Price returns the nominal price of pair, deriving it from the inverse pair when only
// that one is known.
func (b *PriceBook) Price(pair domain.Pair) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.prices[pair.String()]; ok {
		return p, true
	}
	inv := domain.Pair{Base: pair.Quote, Quote: pair.Base}
	if p, ok := b.prices[inv.String()]; ok {
		return decimal.NewFromInt(1).DivRound(p, 18), true
	}
	return decimal.Zero, false
}

// Set replaces the nominal price of pair.
func (b *PriceBook) Set(pair domain.Pair, price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[pair.String()] = price
	return nil
}

// All returns a copy of every configured price.
func (b *PriceBook) All() map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(b.prices))
	for k, v := range b.prices {
		out[k] = v
	}
	return out
}
