package settings

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"trading-authority/pkg/crypto"
	"trading-authority/pkg/db"
)

// KeyStore persists master key material in key_metadata.
type KeyStore struct {
	db *db.Database
}

// NewKeyStore returns a crypto.MaterialStore backed by database.
func NewKeyStore(database *db.Database) *KeyStore {
	return &KeyStore{db: database}
}

func (k *KeyStore) LoadKeyMaterial(ctx context.Context) (*crypto.KeyMaterial, error) {
	row, err := k.db.Queries().GetActiveKey(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := materialFromRow(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (k *KeyStore) SaveKeyMaterial(ctx context.Context, m crypto.KeyMaterial) error {
	return k.db.WriteTx(ctx, func(tx *sql.Tx) error {
		return db.NewQueries(tx).ActivateKey(ctx, rowFromMaterial(m))
	})
}

func materialFromRow(row db.KeyRow) (crypto.KeyMaterial, error) {
	salt, err := base64.StdEncoding.DecodeString(row.Salt)
	if err != nil {
		return crypto.KeyMaterial{}, fmt.Errorf("key v%d salt: %w", row.Version, err)
	}
	return crypto.KeyMaterial{
		Version:    row.Version,
		Salt:       salt,
		Iterations: row.Iterations,
		Verifier:   row.Verifier,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func rowFromMaterial(m crypto.KeyMaterial) db.KeyRow {
	return db.KeyRow{
		Version:    m.Version,
		Salt:       base64.StdEncoding.EncodeToString(m.Salt),
		Iterations: m.Iterations,
		Verifier:   m.Verifier,
		Active:     true,
		CreatedAt:  m.CreatedAt,
	}
}
