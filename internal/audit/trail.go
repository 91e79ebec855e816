// Package audit keeps the append-only record of every execution attempt.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trading-authority/internal/domain"
	"trading-authority/internal/events"
	"trading-authority/internal/monitor"
	"trading-authority/pkg/db"
	"trading-authority/pkg/hostid"
	"trading-authority/pkg/logging"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status   domain.ExecutionStatus
	ModeUsed domain.OperatingMode
	Limit    int
}

// Options carries the trail's optional collaborators.
type Options struct {
	// Mirror receives one JSON line per committed record (e.g. a lumberjack file).
	Mirror  io.Writer
	Host    string
	Bus     *events.Bus
	Metrics *monitor.Metrics
	Logger  zerolog.Logger
}

// Trail appends TransactionRecords to transaction_records. The table rejects UPDATE and
// DELETE, so a stored record can never change.
type Trail struct {
	db      *db.Database
	host    string
	bus     *events.Bus
	metrics *monitor.Metrics
	logger  zerolog.Logger

	mirrorMu sync.Mutex
	mirror   io.Writer
}

// New wires a Trail. An empty host defaults to the protected machine id.
func New(database *db.Database, opts Options) *Trail {
	if opts.Host == "" {
		opts.Host = hostid.ID()
	}
	return &Trail{
		db:      database,
		host:    opts.Host,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  logging.Component(opts.Logger, "audit"),
		mirror:  opts.Mirror,
	}
}

// Append stores rec and returns it as stored (id, timestamp and host filled in, reason
// masked). It runs detached from ctx cancellation: a cancelled trade is still recorded.
func (t *Trail) Append(ctx context.Context, rec domain.TransactionRecord) (domain.TransactionRecord, error) {
	rec = t.normalize(rec)
	ctx = context.WithoutCancel(ctx)

	err := t.db.WriteTx(ctx, func(tx *sql.Tx) error {
		return db.NewQueries(tx).InsertTransaction(ctx, rowFromRecord(rec))
	})
	if err != nil {
		t.metrics.AuditAppendFailed()
		t.logger.Error().Err(err).
			Str("id", rec.ID).
			Str("mode_used", string(rec.ModeUsed)).
			Str("status", string(rec.Status)).
			Msg("audit append failed")
		return rec, fmt.Errorf("append audit record: %w", err)
	}

	t.writeMirror(rec)
	t.bus.Publish(events.EventExecutionRecorded, rec)
	return rec, nil
}

func (t *Trail) normalize(rec domain.TransactionRecord) domain.TransactionRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Host == "" {
		rec.Host = t.host
	}
	rec.Reason = logging.Mask(strings.TrimSpace(rec.Reason))
	return rec
}

func (t *Trail) writeMirror(rec domain.TransactionRecord) {
	if t.mirror == nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		t.logger.Warn().Err(err).Str("id", rec.ID).Msg("encode audit mirror line")
		return
	}
	t.mirrorMu.Lock()
	defer t.mirrorMu.Unlock()
	if _, err := t.mirror.Write(append(line, '\n')); err != nil {
		t.logger.Warn().Err(err).Str("id", rec.ID).Msg("write audit mirror")
	}
}

// List returns stored records newest first.
func (t *Trail) List(ctx context.Context, f Filter) ([]domain.TransactionRecord, error) {
	rows, err := t.db.Queries().ListTransactions(ctx, db.TransactionFilter{
		Status:   string(f.Status),
		ModeUsed: string(f.ModeUsed),
		Limit:    f.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromRow(row))
	}
	return out, nil
}

// Count returns the number of stored records.
func (t *Trail) Count(ctx context.Context) (int64, error) {
	return t.db.Queries().CountTransactions(ctx)
}

func rowFromRecord(r domain.TransactionRecord) db.TransactionRow {
	return db.TransactionRow{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		Pair:          r.Pair,
		Side:          string(r.Side),
		Amount:        r.Amount,
		Price:         r.Price,
		Fee:           r.Fee,
		ModeUsed:      string(r.ModeUsed),
		Status:        string(r.Status),
		Reason:        r.Reason,
		TxID:          r.TxID,
		ConfigVersion: r.ConfigVersion,
		Host:          r.Host,
	}
}

func recordFromRow(row db.TransactionRow) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:            row.ID,
		Timestamp:     row.Timestamp,
		Pair:          row.Pair,
		Side:          domain.Side(row.Side),
		Amount:        row.Amount,
		Price:         row.Price,
		Fee:           row.Fee,
		ModeUsed:      domain.OperatingMode(row.ModeUsed),
		Status:        domain.ExecutionStatus(row.Status),
		Reason:        row.Reason,
		TxID:          row.TxID,
		ConfigVersion: row.ConfigVersion,
		Host:          row.Host,
	}
}
