// Package status owns the SystemStatus state machine: NOT_CONFIGURED -> TEST <-> PRODUCTION.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/events"
	"trading-authority/internal/settings"
	"trading-authority/pkg/db"
	"trading-authority/pkg/logging"
)

// DefaultSwitchAttempts bounds how often SwitchMode retries against a moved version.
const DefaultSwitchAttempts = 5

// Manager mutates the single SystemStatus row. Reads always go to the database so every
// caller sees the latest committed state.
type Manager struct {
	// mu makes this process a single writer of system_status.
	mu sync.Mutex

	db             *db.Database
	store          *settings.Store
	bus            *events.Bus
	logger         zerolog.Logger
	switchAttempts int
}

// NewManager wires a Manager.
func NewManager(database *db.Database, store *settings.Store, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		db:             database,
		store:          store,
		bus:            bus,
		logger:         logging.Component(logger, "status"),
		switchAttempts: DefaultSwitchAttempts,
	}
}

// Status returns the latest committed snapshot.
func (m *Manager) Status(ctx context.Context) (domain.StatusSnapshot, error) {
	row, err := m.db.Queries().GetStatus(ctx)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return snapshotFromRow(row), nil
}

func snapshotFromRow(row db.StatusRow) domain.StatusSnapshot {
	return domain.StatusSnapshot{
		IsConfigured:         row.IsConfigured,
		OperatingMode:        domain.OperatingMode(row.OperatingMode),
		ConfigurationVersion: row.ConfigurationVersion,
		LastUpdate:           row.LastUpdate,
	}
}

// CompleteOnboarding persists the initial credentials and settings, then flips
// is_configured and sets the mode, all in one transaction. Incomplete input changes nothing.
func (m *Manager) CompleteOnboarding(ctx context.Context, p OnboardingPayload) (domain.StatusSnapshot, error) {
	res := m.ValidatePartial(p)
	if !res.Complete {
		return domain.StatusSnapshot{}, res.Err()
	}
	mode, _ := domain.ParseMode(p.Mode)

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		changes []events.ConfigChanged
		final   db.StatusRow
	)
	err := m.db.WriteTxAndThen(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		st, err := q.GetStatus(ctx)
		if err != nil {
			return err
		}
		if st.IsConfigured {
			return errs.ErrAlreadyConfigured
		}

		for _, e := range p.entries() {
			c, err := m.store.PutTx(ctx, tx, e)
			if err != nil {
				return fmt.Errorf("onboarding %s: %w", e.Key, err)
			}
			changes = append(changes, c)
		}

		st, err = q.GetStatus(ctx)
		if err != nil {
			return err
		}
		if _, err := q.CompareAndSetStatus(ctx, true, string(mode), st.ConfigurationVersion); err != nil {
			return err
		}
		final, err = q.GetStatus(ctx)
		return err
	}, func() {
		m.store.Committed(changes...)
		snap := snapshotFromRow(final)
		m.bus.Publish(events.EventSystemOnboarded, events.StatusChanged{Status: snap})
		m.logger.Info().
			Str("mode", string(snap.OperatingMode)).
			Int64("version", snap.ConfigurationVersion).
			Int("entries", len(changes)).
			Msg("onboarding completed")
	})
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return snapshotFromRow(final), nil
}

// SwitchMode moves a configured system to target. The version check runs inside the
// write gate; a compare-and-swap lost to another process is retried a bounded number of
// times against the latest version. Switching to the current mode is a no-op and does not
// bump the version.
func (m *Manager) SwitchMode(ctx context.Context, target domain.OperatingMode) (domain.StatusSnapshot, error) {
	if !target.Valid() {
		return domain.StatusSnapshot{}, errs.NewValidationError("mode", fmt.Sprintf("unknown operating mode %q", target))
	}

	var lastErr error
	for attempt := 0; attempt < m.switchAttempts; attempt++ {
		snap, err := m.switchMode(ctx, target, nil)
		var conflict *errs.ConcurrencyConflictError
		if errors.As(err, &conflict) {
			lastErr = err
			m.logger.Debug().Int("attempt", attempt+1).Msg("mode switch lost race; retrying")
			continue
		}
		return snap, err
	}
	return domain.StatusSnapshot{}, lastErr
}

// SwitchModeIfVersion switches only when configuration_version still equals expected.
func (m *Manager) SwitchModeIfVersion(ctx context.Context, target domain.OperatingMode, expected int64) (domain.StatusSnapshot, error) {
	if !target.Valid() {
		return domain.StatusSnapshot{}, errs.NewValidationError("mode", fmt.Sprintf("unknown operating mode %q", target))
	}
	return m.switchMode(ctx, target, &expected)
}

func (m *Manager) switchMode(ctx context.Context, target domain.OperatingMode, expected *int64) (domain.StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		from  domain.OperatingMode
		final db.StatusRow
		noop  bool
	)
	err := m.db.WriteTxAndThen(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		st, err := q.GetStatus(ctx)
		if err != nil {
			return err
		}
		if !st.IsConfigured {
			return &errs.NotConfiguredError{Op: "switch mode"}
		}
		version := st.ConfigurationVersion
		if expected != nil && *expected != version {
			return &errs.ConcurrencyConflictError{Expected: *expected, Actual: version}
		}
		from = domain.OperatingMode(st.OperatingMode)
		if from == target {
			noop, final = true, st
			return nil
		}
		if _, err := q.CompareAndSetStatus(ctx, true, string(target), version); err != nil {
			if errors.Is(err, db.ErrVersionMismatch) {
				latest, _ := q.GetStatus(ctx)
				return &errs.ConcurrencyConflictError{Expected: version, Actual: latest.ConfigurationVersion}
			}
			return err
		}
		final, err = q.GetStatus(ctx)
		return err
	}, func() {
		if noop {
			return
		}
		m.bus.Publish(events.EventModeSwitched, events.ModeSwitched{
			From:    from,
			To:      target,
			Version: final.ConfigurationVersion,
			At:      time.Now().UTC(),
		})
		m.logger.Info().
			Str("from", string(from)).
			Str("to", string(target)).
			Int64("version", final.ConfigurationVersion).
			Msg("operating mode switched")
	})
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return snapshotFromRow(final), nil
}

// Reset returns the system to NOT_CONFIGURED. Configuration entries are kept.
func (m *Manager) Reset(ctx context.Context) (domain.StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var final db.StatusRow
	err := m.db.WriteTxAndThen(ctx, func(tx *sql.Tx) error {
		q := db.NewQueries(tx)
		st, err := q.GetStatus(ctx)
		if err != nil {
			return err
		}
		if _, err := q.CompareAndSetStatus(ctx, false, st.OperatingMode, st.ConfigurationVersion); err != nil {
			return err
		}
		final, err = q.GetStatus(ctx)
		return err
	}, func() {
		snap := snapshotFromRow(final)
		m.bus.Publish(events.EventSystemReset, events.StatusChanged{Status: snap})
		m.logger.Warn().Int64("version", snap.ConfigurationVersion).Msg("system reset to not configured")
	})
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return snapshotFromRow(final), nil
}
