package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-authority/internal/domain"
	"trading-authority/internal/events"
	"trading-authority/pkg/db"
)

func newTrail(t *testing.T, opts Options) (*Trail, *db.Database) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	opts.Logger = zerolog.Nop()
	if opts.Host == "" {
		opts.Host = "test-host"
	}
	return New(database, opts), database
}

func record(status domain.ExecutionStatus, mode domain.OperatingMode) domain.TransactionRecord {
	return domain.TransactionRecord{
		Pair:          "SOL/USDC",
		Side:          domain.SideBuy,
		Amount:        decimal.RequireFromString("10"),
		Price:         decimal.RequireFromString("150.75"),
		Fee:           decimal.RequireFromString("0.03"),
		ModeUsed:      mode,
		Status:        status,
		ConfigVersion: 3,
	}
}

func TestAppendFillsDefaults(t *testing.T) {
	trail, _ := newTrail(t, Options{})
	ctx := context.Background()

	stored, err := trail.Append(ctx, record(domain.StatusSimulated, domain.ModeTest))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.Timestamp.IsZero())
	assert.Equal(t, "test-host", stored.Host)

	list, err := trail.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, domain.ModeTest, got.ModeUsed)
	assert.Equal(t, domain.StatusSimulated, got.Status)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("150.75")))
	assert.Equal(t, int64(3), got.ConfigVersion)
}

func TestAppendMasksReason(t *testing.T) {
	trail, _ := newTrail(t, Options{})
	rec := record(domain.StatusFailed, domain.ModeProduction)
	rec.Reason = "submit rejected: api_key=abcdef123456 not authorised"

	stored, err := trail.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.NotContains(t, stored.Reason, "abcdef123456")

	list, err := trail.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotContains(t, list[0].Reason, "abcdef123456")
	assert.Contains(t, list[0].Reason, "submit rejected")
}

func TestAppendSurvivesCancelledContext(t *testing.T) {
	trail, _ := newTrail(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := record(domain.StatusFailed, domain.ModeTest)
	rec.Reason = "context canceled"
	_, err := trail.Append(ctx, rec)
	require.NoError(t, err)

	n, err := trail.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestListFilters(t *testing.T) {
	trail, _ := newTrail(t, Options{})
	ctx := context.Background()
	for _, r := range []domain.TransactionRecord{
		record(domain.StatusSimulated, domain.ModeTest),
		record(domain.StatusFailed, domain.ModeTest),
		record(domain.StatusExecuted, domain.ModeProduction),
		record(domain.StatusFailed, domain.ModeProduction),
	} {
		_, err := trail.Append(ctx, r)
		require.NoError(t, err)
	}

	failed, err := trail.List(ctx, Filter{Status: domain.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	prod, err := trail.List(ctx, Filter{ModeUsed: domain.ModeProduction})
	require.NoError(t, err)
	require.Len(t, prod, 2)
	// newest first
	assert.Equal(t, domain.StatusFailed, prod[0].Status)

	limited, err := trail.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordsAreImmutable(t *testing.T) {
	trail, database := newTrail(t, Options{})
	ctx := context.Background()
	stored, err := trail.Append(ctx, record(domain.StatusSimulated, domain.ModeTest))
	require.NoError(t, err)

	_, err = database.DB.ExecContext(ctx, `UPDATE transaction_records SET status = 'EXECUTED' WHERE id = ?`, stored.ID)
	assert.Error(t, err)
	_, err = database.DB.ExecContext(ctx, `DELETE FROM transaction_records WHERE id = ?`, stored.ID)
	assert.Error(t, err)

	_, err = trail.Append(ctx, stored)
	assert.Error(t, err, "duplicate id must not overwrite")
}

func TestMirrorAndEvent(t *testing.T) {
	var buf bytes.Buffer
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventExecutionRecorded, 1)
	defer unsub()

	trail, _ := newTrail(t, Options{Mirror: &buf, Bus: bus})
	stored, err := trail.Append(context.Background(), record(domain.StatusSimulated, domain.ModeTest))
	require.NoError(t, err)

	var line domain.TransactionRecord
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, stored.ID, line.ID)

	select {
	case payload := <-ch:
		assert.Equal(t, stored.ID, payload.(domain.TransactionRecord).ID)
	case <-time.After(time.Second):
		t.Fatal("execution.recorded not published")
	}
}
