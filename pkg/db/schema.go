package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS system_status (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    is_configured INTEGER NOT NULL DEFAULT 0,
    operating_mode TEXT NOT NULL DEFAULT 'TEST' CHECK (operating_mode IN ('TEST', 'PRODUCTION')),
    configuration_version INTEGER NOT NULL DEFAULT 0,
    last_update TEXT NOT NULL
);

INSERT OR IGNORE INTO system_status (id, is_configured, operating_mode, configuration_version, last_update)
VALUES (1, 0, 'TEST', 0, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));

CREATE TRIGGER IF NOT EXISTS system_status_no_delete
BEFORE DELETE ON system_status
BEGIN
    SELECT RAISE(ABORT, 'system_status row cannot be deleted');
END;

CREATE TABLE IF NOT EXISTS configuration_entries (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    category TEXT NOT NULL CHECK (category IN ('API_KEY', 'WALLET', 'AUTH', 'APPEARANCE', 'TRADING')),
    is_encrypted INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    CHECK (category NOT IN ('API_KEY', 'WALLET') OR is_encrypted = 1),
    CHECK (is_encrypted = 0 OR value LIKE 'ENC[v%')
);

CREATE TRIGGER IF NOT EXISTS configuration_entries_no_delete
BEFORE DELETE ON configuration_entries
BEGIN
    SELECT RAISE(ABORT, 'configuration entries are overwritten, never deleted');
END;

CREATE TABLE IF NOT EXISTS key_metadata (
    version INTEGER PRIMARY KEY,
    salt TEXT NOT NULL,
    iterations INTEGER NOT NULL,
    verifier TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    timestamp TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    amount TEXT NOT NULL,
    price TEXT NOT NULL,
    mode_used TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('EXECUTED', 'SIMULATED', 'FAILED')),
    reason TEXT,
    fee TEXT NOT NULL DEFAULT '0',
    tx_id TEXT,
    config_version INTEGER NOT NULL DEFAULT 0,
    host TEXT
);

CREATE INDEX IF NOT EXISTS idx_transaction_records_status ON transaction_records(status);

CREATE TRIGGER IF NOT EXISTS transaction_records_no_update
BEFORE UPDATE ON transaction_records
BEGIN
    SELECT RAISE(ABORT, 'transaction records are append-only');
END;

CREATE TRIGGER IF NOT EXISTS transaction_records_no_delete
BEFORE DELETE ON transaction_records
BEGIN
    SELECT RAISE(ABORT, 'transaction records are append-only');
END;

CREATE TABLE IF NOT EXISTS virtual_balances (
    asset TEXT PRIMARY KEY,
    amount TEXT NOT NULL CHECK (amount NOT LIKE '-%'),
    updated_at TEXT NOT NULL
);
`

// ApplyMigrations ensures the database schema exists. It is safe to run on every start.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
