package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusRow mirrors the single system_status row.
type StatusRow struct {
	IsConfigured         bool
	OperatingMode        string
	ConfigurationVersion int64
	LastUpdate           time.Time
}

// ConfigEntry is one configuration_entries row. Value holds ciphertext when IsEncrypted.
type ConfigEntry struct {
	Key         string
	Value       string
	Category    string
	IsEncrypted bool
	Description string
	UpdatedAt   time.Time
}

// KeyRow is the persisted, non-secret description of one master key version.
type KeyRow struct {
	Version    int
	Salt       string // base64
	Iterations int
	Verifier   string
	Active     bool
	CreatedAt  time.Time
}

// TransactionRow is one append-only transaction_records row.
type TransactionRow struct {
	Seq           int64
	ID            string
	Timestamp     time.Time
	Pair          string
	Side          string
	Amount        decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	ModeUsed      string
	Status        string
	Reason        string
	TxID          string
	ConfigVersion int64
	Host          string
}

// TransactionFilter narrows ListTransactions. Zero values match everything.
type TransactionFilter struct {
	Status   string
	ModeUsed string
	Limit    int
}

// BalanceRow is one virtual_balances row.
type BalanceRow struct {
	Asset     string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}
