package settings

import "time"

// Category groups configuration entries.
type Category string

const (
	CategoryAPIKey     Category = "API_KEY"
	CategoryWallet     Category = "WALLET"
	CategoryAuth       Category = "AUTH"
	CategoryAppearance Category = "APPEARANCE"
	CategoryTrading    Category = "TRADING"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAPIKey, CategoryWallet, CategoryAuth, CategoryAppearance, CategoryTrading:
		return true
	}
	return false
}

// AlwaysEncrypted reports whether every value in c must be stored as ciphertext.
func (c Category) AlwaysEncrypted() bool {
	return c == CategoryAPIKey || c == CategoryWallet
}

// Entry is a configuration entry as seen by callers. Value is plaintext on reads from
// Get/All and masked on reads from Masked.
type Entry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    Category  `json:"category"`
	IsEncrypted bool      `json:"is_encrypted"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RawEntry is a pre-formed row presented to Import. When IsEncrypted is set, Value must
// already be ciphertext under a loaded key version.
type RawEntry struct {
	Key         string   `json:"key"`
	Value       string   `json:"value"`
	Category    Category `json:"category"`
	IsEncrypted bool     `json:"is_encrypted"`
	Description string   `json:"description,omitempty"`
}
