package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB

	// writeMu is the single serialization point for every mutating transaction.
	writeMu sync.Mutex
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Queries returns query helpers bound to the plain handle (outside any transaction).
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// WriteTx runs fn inside one transaction behind the write gate. fn must only use tx;
// touching d.DB from inside fn deadlocks on the single connection.
func (d *Database) WriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return d.WriteTxAndThen(ctx, fn, nil)
}

// WriteTxAndThen is WriteTx with a hook that runs after a successful commit while the
// write gate is still held, so in-memory state can be published before the next writer.
func (d *Database) WriteTxAndThen(ctx context.Context, fn func(tx *sql.Tx) error, then func()) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	if then != nil {
		then()
	}
	return nil
}

// now formats timestamps the way every table stores them.
func now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t as stored in TEXT timestamp columns.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored TEXT timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
