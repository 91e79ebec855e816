// Package settings is the encrypted key/value configuration store.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trading-authority/internal/errs"
	"trading-authority/internal/events"
	"trading-authority/internal/monitor"
	"trading-authority/pkg/crypto"
	"trading-authority/pkg/db"
	"trading-authority/pkg/logging"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = db.ErrNotFound

// Options carries the store's optional collaborators.
type Options struct {
	Classifier *Classifier
	Schema     *Schema
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	Logger     zerolog.Logger
}

// Store persists configuration entries, encrypting sensitive values. Every write goes
// through the database write gate and bumps configuration_version in the same transaction.
type Store struct {
	db         *db.Database
	keys       *crypto.KeyManager
	classifier *Classifier
	schema     *Schema
	bus        *events.Bus
	metrics    *monitor.Metrics
	logger     zerolog.Logger
}

// NewStore wires a Store. A nil classifier falls back to the default tokens plus schema.
func NewStore(database *db.Database, keys *crypto.KeyManager, opts Options) *Store {
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(nil, opts.Schema)
	}
	return &Store{
		db:         database,
		keys:       keys,
		classifier: opts.Classifier,
		schema:     opts.Schema,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     logging.Component(opts.Logger, "settings"),
	}
}

// Schema returns the per-key schema in effect (may be nil).
func (s *Store) Schema() *Schema {
	return s.schema
}

// Set validates, classifies and stores one value.
func (s *Store) Set(ctx context.Context, key, value string, category Category) error {
	_, err := s.SetEntry(ctx, Entry{Key: key, Value: value, Category: category})
	return err
}

// SetEntry is Set with a description and returns the configuration version this write
// produced. An empty category is taken from the schema.
func (s *Store) SetEntry(ctx context.Context, e Entry) (int64, error) {
	var changed events.ConfigChanged
	err := s.db.WriteTxAndThen(ctx, func(tx *sql.Tx) error {
		var err error
		changed, err = s.PutTx(ctx, tx, e)
		return err
	}, func() {
		s.committed(changed)
	})
	if err != nil {
		return 0, err
	}
	return changed.Version, nil
}

// PutTx writes e inside a caller-owned transaction and bumps the version. The caller
// publishes the returned event once the transaction commits (see Committed).
func (s *Store) PutTx(ctx context.Context, tx *sql.Tx, e Entry) (events.ConfigChanged, error) {
	row, err := s.prepare(e)
	if err != nil {
		return events.ConfigChanged{}, err
	}
	q := db.NewQueries(tx)
	if err := q.UpsertConfigEntry(ctx, row); err != nil {
		return events.ConfigChanged{}, err
	}
	version, err := q.BumpConfigVersion(ctx)
	if err != nil {
		return events.ConfigChanged{}, err
	}
	return events.ConfigChanged{Key: row.Key, Category: row.Category, Encrypted: row.IsEncrypted, Version: version}, nil
}

// Committed publishes the change produced by PutTx after its transaction committed.
func (s *Store) Committed(changes ...events.ConfigChanged) {
	for _, c := range changes {
		s.committed(c)
	}
}

func (s *Store) committed(c events.ConfigChanged) {
	s.logger.Info().
		Str("key", c.Key).
		Str("category", c.Category).
		Bool("encrypted", c.Encrypted).
		Int64("version", c.Version).
		Msg("configuration written")
	s.metrics.ConfigWritten(c.Category)
	s.bus.Publish(events.EventConfigChanged, c)
}

func (s *Store) prepare(e Entry) (db.ConfigEntry, error) {
	if e.Category == "" {
		if rule, ok := s.schema.Rule(e.Key); ok {
			e.Category = rule.Category
		}
	}
	if e.Description == "" {
		if rule, ok := s.schema.Rule(e.Key); ok {
			e.Description = rule.Description
		}
	}
	if err := validateEntry(e.Key, e.Value, e.Category, s.schema); err != nil {
		return db.ConfigEntry{}, err
	}

	row := db.ConfigEntry{Key: e.Key, Value: e.Value, Category: string(e.Category), Description: e.Description}
	if s.classifier.Classify(e.Key, e.Category).Sensitive {
		ct, err := s.keys.Encrypt(e.Value)
		if err != nil {
			return db.ConfigEntry{}, err
		}
		row.Value = ct
		row.IsEncrypted = true
	}
	return row, nil
}

// Import stores a pre-formed row (restore or migration). Sensitive entries must arrive
// as ciphertext under a loaded key; a plaintext secret is rejected.
func (s *Store) Import(ctx context.Context, raw RawEntry) error {
	if raw.IsEncrypted && !crypto.IsEncrypted(raw.Value) {
		return errs.NewValidationError(raw.Key, "is_encrypted set but value is not ciphertext")
	}
	if !raw.IsEncrypted && crypto.IsEncrypted(raw.Value) {
		return errs.NewValidationError(raw.Key, "ciphertext presented as plaintext")
	}
	if !raw.IsEncrypted && s.classifier.Classify(raw.Key, raw.Category).Sensitive {
		return errs.NewValidationError(raw.Key, "plaintext value rejected for sensitive key")
	}

	plain := raw.Value
	if raw.IsEncrypted {
		var err error
		if plain, err = s.keys.Decrypt(raw.Value); err != nil {
			return fmt.Errorf("import %s: %w", raw.Key, err)
		}
	}
	if err := validateEntry(raw.Key, plain, raw.Category, s.schema); err != nil {
		return err
	}

	row := db.ConfigEntry{
		Key:         raw.Key,
		Value:       raw.Value,
		Category:    string(raw.Category),
		IsEncrypted: raw.IsEncrypted,
		Description: raw.Description,
	}
	var changed events.ConfigChanged
	return s.db.WriteTxAndThen(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		if err := q.UpsertConfigEntry(ctx, row); err != nil {
			return err
		}
		version, err := q.BumpConfigVersion(ctx)
		if err != nil {
			return err
		}
		changed = events.ConfigChanged{Key: row.Key, Category: row.Category, Encrypted: row.IsEncrypted, Version: version}
		return nil
	}, func() {
		s.committed(changed)
	})
}

// Get returns the plaintext value of key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	e, err := s.GetEntry(ctx, key)
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Lookup is Get that reports a missing key as ok == false instead of an error.
func (s *Store) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// GetEntry returns the decrypted entry for key.
func (s *Store) GetEntry(ctx context.Context, key string) (Entry, error) {
	row, err := s.db.Queries().GetConfigEntry(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	return s.decrypt(row)
}

// All returns every entry (or those of category) with plaintext values.
func (s *Store) All(ctx context.Context, category Category) ([]Entry, error) {
	rows, err := s.db.Queries().ListConfigEntries(ctx, string(category))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := s.decrypt(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Masked returns entries safe to show to a client. Wallet secrets are fully hidden;
// other encrypted values show only their last four characters.
func (s *Store) Masked(ctx context.Context, category Category) ([]Entry, error) {
	rows, err := s.db.Queries().ListConfigEntries(ctx, string(category))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := entryFromRow(row)
		if row.IsEncrypted {
			if fullyHidden(e) {
				e.Value = "********"
			} else {
				plain, err := s.keys.Decrypt(row.Value)
				if err != nil {
					return nil, fmt.Errorf("mask %s: %w", row.Key, err)
				}
				e.Value = logging.MaskCredential(plain)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func fullyHidden(e Entry) bool {
	if e.Category == CategoryWallet {
		return true
	}
	for _, t := range hardTokens {
		if strings.Contains(e.Key, t) {
			return true
		}
	}
	return false
}

func (s *Store) decrypt(row db.ConfigEntry) (Entry, error) {
	e := entryFromRow(row)
	if row.IsEncrypted {
		plain, err := s.keys.Decrypt(row.Value)
		if err != nil {
			return Entry{}, fmt.Errorf("decrypt %s: %w", row.Key, err)
		}
		e.Value = plain
	}
	return e, nil
}

func entryFromRow(row db.ConfigEntry) Entry {
	return Entry{
		Key:         row.Key,
		Value:       row.Value,
		Category:    Category(row.Category),
		IsEncrypted: row.IsEncrypted,
		Description: row.Description,
		UpdatedAt:   row.UpdatedAt,
	}
}

// RotateKey re-encrypts every encrypted entry under a key derived from newSecret.
// Either every entry moves to the new key or none does.
func (s *Store) RotateKey(ctx context.Context, newSecret string) (int, error) {
	if err := s.keys.RotateKey(ctx, newSecret, s); err != nil {
		s.logger.Error().Err(err).Msg("key rotation failed; previous key kept")
		return 0, err
	}
	version := s.keys.CurrentVersion()
	s.logger.Info().Int("key_version", version).Msg("master key rotated")
	return version, nil
}

// Rewrap implements crypto.Rewrapper over configuration_entries and key_metadata.
func (s *Store) Rewrap(ctx context.Context, next crypto.KeyMaterial, transform func(string) (string, error), commit func()) error {
	var rewrapped int
	var version int64
	return s.db.WriteTxAndThen(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		rows, err := q.ListEncryptedEntries(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			ct, err := transform(row.Value)
			if err != nil {
				return fmt.Errorf("rewrap %s: %w", row.Key, err)
			}
			if err := q.UpdateConfigValue(ctx, row.Key, ct); err != nil {
				return err
			}
		}
		if err := q.ActivateKey(ctx, rowFromMaterial(next)); err != nil {
			return err
		}
		if version, err = q.BumpConfigVersion(ctx); err != nil {
			return err
		}
		rewrapped = len(rows)
		return nil
	}, func() {
		commit()
		s.bus.Publish(events.EventKeyRotated, events.KeyRotated{Version: next.Version, Rewrapped: rewrapped, RotatedAt: time.Now().UTC()})
		s.metrics.SetConfigVersion(version)
	})
}
