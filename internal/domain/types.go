// Package domain holds the value types shared by the status, execution and audit layers.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OperatingMode selects real settlement (PRODUCTION) or ledger simulation (TEST).
type OperatingMode string

const (
	ModeTest       OperatingMode = "TEST"
	ModeProduction OperatingMode = "PRODUCTION"
)

// Valid reports whether m is one of the two known modes.
func (m OperatingMode) Valid() bool {
	return m == ModeTest || m == ModeProduction
}

// ParseMode normalizes user input ("test", " Production ") into an OperatingMode.
func ParseMode(s string) (OperatingMode, error) {
	m := OperatingMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown operating mode %q", s)
	}
	return m, nil
}

// Side denotes swap direction relative to the pair's base asset.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes user input into a Side.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	if side != SideBuy && side != SideSell {
		return "", fmt.Errorf("unknown side %q", s)
	}
	return side, nil
}

// ExecutionStatus is the terminal outcome of one execution attempt.
type ExecutionStatus string

const (
	StatusExecuted  ExecutionStatus = "EXECUTED"
	StatusSimulated ExecutionStatus = "SIMULATED"
	StatusFailed    ExecutionStatus = "FAILED"
)

// Pair is a BASE/QUOTE market such as SOL/USDC.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair accepts "SOL/USDC" (case-insensitive, surrounding spaces ignored).
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "/")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("pair %q must look like BASE/QUOTE", s)
	}
	base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if base == "" || quote == "" || base == quote {
		return Pair{}, fmt.Errorf("pair %q must name two distinct assets", s)
	}
	return Pair{Base: base, Quote: quote}, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Legs returns the asset spent and the asset received for a swap on this pair.
// BUY spends the quote asset, SELL spends the base asset.
func (p Pair) Legs(side Side) (in, out string) {
	if side == SideBuy {
		return p.Quote, p.Base
	}
	return p.Base, p.Quote
}

// TransactionRecord is the immutable outcome of one ExecuteSwap call.
type TransactionRecord struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Pair          string          `json:"pair"`
	Side          Side            `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Fee           decimal.Decimal `json:"fee"`
	ModeUsed      OperatingMode   `json:"mode_used"`
	Status        ExecutionStatus `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	TxID          string          `json:"tx_id,omitempty"`
	ConfigVersion int64           `json:"config_version"`
	Host          string          `json:"host,omitempty"`
}

// Failed reports whether the attempt ended in FAILED.
func (r TransactionRecord) Failed() bool {
	return r.Status == StatusFailed
}

// StatusSnapshot is a read-only view of the SystemStatus row.
type StatusSnapshot struct {
	IsConfigured         bool          `json:"is_configured"`
	OperatingMode        OperatingMode `json:"operating_mode"`
	ConfigurationVersion int64         `json:"configuration_version"`
	LastUpdate           time.Time     `json:"last_update"`
}
