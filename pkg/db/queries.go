package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrVersionMismatch means a compare-and-swap on system_status lost the race.
	ErrVersionMismatch = errors.New("configuration version changed")
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries provides typed access to the authority tables.
type Queries struct {
	q Querier
}

// NewQueries binds helpers to a handle or an open transaction.
func NewQueries(q Querier) *Queries {
	return &Queries{q: q}
}

// ----------------------------------------
// System status
// ----------------------------------------

// GetStatus reads the system_status row.
func (q *Queries) GetStatus(ctx context.Context) (StatusRow, error) {
	var (
		row        StatusRow
		configured int
		updated    string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT is_configured, operating_mode, configuration_version, last_update
		FROM system_status WHERE id = 1
	`).Scan(&configured, &row.OperatingMode, &row.ConfigurationVersion, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusRow{}, ErrNotFound
	}
	if err != nil {
		return StatusRow{}, fmt.Errorf("query system status: %w", err)
	}
	row.IsConfigured = configured == 1
	if row.LastUpdate, err = ParseTime(updated); err != nil {
		return StatusRow{}, err
	}
	return row, nil
}

// CompareAndSetStatus writes configured/mode and bumps the version, but only when the
// stored version still equals expectedVersion. Returns the new version.
func (q *Queries) CompareAndSetStatus(ctx context.Context, configured bool, mode string, expectedVersion int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE system_status
		SET is_configured = ?, operating_mode = ?, configuration_version = configuration_version + 1, last_update = ?
		WHERE id = 1 AND configuration_version = ?
	`, boolToInt(configured), mode, now(), expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update system status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update system status: %w", err)
	}
	if n == 0 {
		return 0, ErrVersionMismatch
	}
	return expectedVersion + 1, nil
}

// BumpConfigVersion increments configuration_version unconditionally. Callers run it in
// the same transaction as the configuration write it accounts for.
func (q *Queries) BumpConfigVersion(ctx context.Context) (int64, error) {
	var version int64
	err := q.q.QueryRowContext(ctx, `
		UPDATE system_status
		SET configuration_version = configuration_version + 1, last_update = ?
		WHERE id = 1
		RETURNING configuration_version
	`, now()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bump configuration version: %w", err)
	}
	return version, nil
}

// ----------------------------------------
// Configuration entries
// ----------------------------------------

// GetConfigEntry returns the entry for key or ErrNotFound.
func (q *Queries) GetConfigEntry(ctx context.Context, key string) (ConfigEntry, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT key, value, category, is_encrypted, description, updated_at
		FROM configuration_entries WHERE key = ?
	`, key)
	e, err := scanConfigEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigEntry{}, ErrNotFound
	}
	return e, err
}

// ListConfigEntries returns all entries, or only those of category when non-empty.
func (q *Queries) ListConfigEntries(ctx context.Context, category string) ([]ConfigEntry, error) {
	query := `SELECT key, value, category, is_encrypted, description, updated_at FROM configuration_entries`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY key`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query configuration entries: %w", err)
	}
	defer rows.Close()

	var entries []ConfigEntry
	for rows.Next() {
		e, err := scanConfigEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListEncryptedEntries returns every row holding ciphertext.
func (q *Queries) ListEncryptedEntries(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT key, value, category, is_encrypted, description, updated_at
		FROM configuration_entries WHERE is_encrypted = 1 ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("query encrypted entries: %w", err)
	}
	defer rows.Close()

	var entries []ConfigEntry
	for rows.Next() {
		e, err := scanConfigEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertConfigEntry inserts or overwrites the row for e.Key.
func (q *Queries) UpsertConfigEntry(ctx context.Context, e ConfigEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO configuration_entries (key, value, category, is_encrypted, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			is_encrypted = excluded.is_encrypted,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, e.Key, e.Value, e.Category, boolToInt(e.IsEncrypted), e.Description, now())
	if err != nil {
		return fmt.Errorf("upsert configuration entry %s: %w", e.Key, err)
	}
	return nil
}

// UpdateConfigValue replaces only the stored value of an existing row.
func (q *Queries) UpdateConfigValue(ctx context.Context, key, value string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE configuration_entries SET value = ?, updated_at = ? WHERE key = ?
	`, value, now(), key)
	if err != nil {
		return fmt.Errorf("update configuration value %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfigEntry(s rowScanner) (ConfigEntry, error) {
	var (
		e         ConfigEntry
		encrypted int
		updated   string
	)
	if err := s.Scan(&e.Key, &e.Value, &e.Category, &encrypted, &e.Description, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConfigEntry{}, err
		}
		return ConfigEntry{}, fmt.Errorf("scan configuration entry: %w", err)
	}
	e.IsEncrypted = encrypted == 1
	t, err := ParseTime(updated)
	if err != nil {
		return ConfigEntry{}, err
	}
	e.UpdatedAt = t
	return e, nil
}

// ----------------------------------------
// Key metadata
// ----------------------------------------

// GetActiveKey returns the active key row or ErrNotFound on a fresh database.
func (q *Queries) GetActiveKey(ctx context.Context) (KeyRow, error) {
	var (
		k       KeyRow
		active  int
		created string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT version, salt, iterations, verifier, active, created_at
		FROM key_metadata WHERE active = 1 ORDER BY version DESC LIMIT 1
	`).Scan(&k.Version, &k.Salt, &k.Iterations, &k.Verifier, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRow{}, ErrNotFound
	}
	if err != nil {
		return KeyRow{}, fmt.Errorf("query key metadata: %w", err)
	}
	k.Active = active == 1
	if k.CreatedAt, err = ParseTime(created); err != nil {
		return KeyRow{}, err
	}
	return k, nil
}

// ActivateKey stores k as the only active key version. Older rows are kept as history.
func (q *Queries) ActivateKey(ctx context.Context, k KeyRow) error {
	if _, err := q.q.ExecContext(ctx, `UPDATE key_metadata SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate key metadata: %w", err)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO key_metadata (version, salt, iterations, verifier, active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, k.Version, k.Salt, k.Iterations, k.Verifier, FormatTime(k.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert key metadata v%d: %w", k.Version, err)
	}
	return nil
}

// ----------------------------------------
// Transaction records
// ----------------------------------------

// InsertTransaction appends one record. Records are never updated or deleted.
func (q *Queries) InsertTransaction(ctx context.Context, r TransactionRow) error {
	var reason, txID, host sql.NullString
	if r.Reason != "" {
		reason = sql.NullString{String: r.Reason, Valid: true}
	}
	if r.TxID != "" {
		txID = sql.NullString{String: r.TxID, Valid: true}
	}
	if r.Host != "" {
		host = sql.NullString{String: r.Host, Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO transaction_records
			(id, timestamp, pair, side, amount, price, fee, mode_used, status, reason, tx_id, config_version, host)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, FormatTime(r.Timestamp), r.Pair, r.Side, r.Amount.String(), r.Price.String(), r.Fee.String(),
		r.ModeUsed, r.Status, reason, txID, r.ConfigVersion, host)
	if err != nil {
		return fmt.Errorf("insert transaction record %s: %w", r.ID, err)
	}
	return nil
}

// ListTransactions returns records newest first.
func (q *Queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]TransactionRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ModeUsed != "" {
		where = append(where, "mode_used = ?")
		args = append(args, f.ModeUsed)
	}
	query := `
		SELECT seq, id, timestamp, pair, side, amount, price, fee, mode_used, status,
			COALESCE(reason, ''), COALESCE(tx_id, ''), config_version, COALESCE(host, '')
		FROM transaction_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transaction records: %w", err)
	}
	defer rows.Close()

	var out []TransactionRow
	for rows.Next() {
		var (
			r                  TransactionRow
			ts                 string
			amount, price, fee string
		)
		if err := rows.Scan(&r.Seq, &r.ID, &ts, &r.Pair, &r.Side, &amount, &price, &fee, &r.ModeUsed, &r.Status,
			&r.Reason, &r.TxID, &r.ConfigVersion, &r.Host); err != nil {
			return nil, fmt.Errorf("scan transaction record: %w", err)
		}
		if r.Timestamp, err = ParseTime(ts); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("record %s amount: %w", r.ID, err)
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("record %s price: %w", r.ID, err)
		}
		if r.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("record %s fee: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountTransactions returns the number of stored records.
func (q *Queries) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transaction_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transaction records: %w", err)
	}
	return n, nil
}

// ----------------------------------------
// Virtual balances
// ----------------------------------------

// ListBalances returns every virtual balance ordered by asset.
func (q *Queries) ListBalances(ctx context.Context) ([]BalanceRow, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT asset, amount, updated_at FROM virtual_balances ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("query virtual balances: %w", err)
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var (
			b               BalanceRow
			amount, updated string
		)
		if err := rows.Scan(&b.Asset, &amount, &updated); err != nil {
			return nil, fmt.Errorf("scan virtual balance: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("balance %s: %w", b.Asset, err)
		}
		if b.UpdatedAt, err = ParseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBalance returns the stored amount for asset, or zero when the asset was never touched.
func (q *Queries) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var amount string
	err := q.q.QueryRowContext(ctx, `SELECT amount FROM virtual_balances WHERE asset = ?`, asset).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query virtual balance %s: %w", asset, err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", asset, err)
	}
	return d, nil
}

// UpsertBalance stores the absolute amount for asset.
func (q *Queries) UpsertBalance(ctx context.Context, asset string, amount decimal.Decimal) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO virtual_balances (asset, amount, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
	`, asset, amount.String(), now())
	if err != nil {
		return fmt.Errorf("upsert virtual balance %s: %w", asset, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
