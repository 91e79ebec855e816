package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"trading-authority/internal/audit"
	"trading-authority/internal/events"
	"trading-authority/internal/execution"
	"trading-authority/internal/ledger"
	"trading-authority/internal/monitor"
	"trading-authority/internal/settings"
	"trading-authority/internal/settlement"
	"trading-authority/internal/status"
	"trading-authority/pkg/config"
	"trading-authority/pkg/crypto"
	"trading-authority/pkg/db"
	"trading-authority/pkg/hostid"
	"trading-authority/pkg/logging"
)

// Stack is every service a command may need, wired over one database.
type Stack struct {
	DB         *db.Database
	Keys       *crypto.KeyManager
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	Store      *settings.Store
	Status     *status.Manager
	Ledger     *ledger.Ledger
	Prices     *ledger.PriceBook
	Trail      *audit.Trail
	Factory    *execution.Factory
	Dispatcher *execution.Dispatcher

	closers []io.Closer
}

// openStack opens the database, derives the master key and wires the services.
// withMirror attaches the JSONL audit mirror; only the long-running server wants it.
func openStack(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withMirror bool) (*Stack, error) {
	if err := cfg.RequireSecret(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := &Stack{DB: database, closers: []io.Closer{database}}

	if err := db.ApplyMigrations(database); err != nil {
		st.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	st.Keys, err = crypto.Open(ctx, cfg.MasterSecret, cfg.KDFIterations, settings.NewKeyStore(database))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open master key: %w", err)
	}

	schema, err := settings.LoadSchema(cfg.SchemaPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load schema: %w", err)
	}

	st.Bus = events.NewBus()
	st.Metrics = monitor.NewMetrics()
	st.Store = settings.NewStore(database, st.Keys, settings.Options{
		Classifier: settings.NewClassifier(cfg.SensitiveTokens, schema),
		Schema:     schema,
		Bus:        st.Bus,
		Metrics:    st.Metrics,
		Logger:     logger,
	})
	st.Status = status.NewManager(database, st.Store, st.Bus, logger)
	st.Ledger = ledger.New(database, logger)
	st.Prices = ledger.NewPriceBook(cfg.MockPrices)

	auditOpts := audit.Options{
		Host:    hostid.ID(),
		Bus:     st.Bus,
		Metrics: st.Metrics,
		Logger:  logger,
	}
	if withMirror && cfg.AuditLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err != nil {
			st.Close()
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
		mirror := logging.RotatingFile(cfg.AuditLogPath, 100, 30, 365)
		auditOpts.Mirror = mirror
		st.closers = append(st.closers, mirror)
	}
	st.Trail = audit.New(database, auditOpts)

	deps := execution.Deps{
		Status:  st.Status,
		Config:  st.Store,
		Trail:   st.Trail,
		Ledger:  st.Ledger,
		Prices:  st.Prices,
		Metrics: st.Metrics,
		Logger:  logger,
	}
	if cfg.SettlementURL != "" {
		client, err := settlement.NewClient(settlement.ClientConfig{
			BaseURL: cfg.SettlementURL,
			RPS:     cfg.SettlementRPS,
			Timeout: cfg.LiveDeadline,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("settlement client: %w", err)
		}
		deps.Venue = client
	} else {
		logger.Warn().Msg("SETTLEMENT_URL not set; PRODUCTION executions will fail")
	}

	st.Factory = execution.NewFactory(deps, executionParams(cfg))
	st.Dispatcher = execution.NewDispatcher(st.Factory, 0, logger)
	return st, nil
}

func executionParams(cfg *config.Config) execution.Params {
	p := execution.DefaultParams()
	p.FeePct = cfg.MockFeePct
	p.SlippagePct = cfg.MockSlippagePct
	p.MinAmount = cfg.TradeMinAmount
	p.MaxAmount = cfg.TradeMaxAmount
	p.LiveDeadline = cfg.LiveDeadline
	p.Retry = settlement.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   cfg.RetryMultiplier,
	}
	p.PollInterval = cfg.ConfirmPollInterval
	p.PollAttempts = cfg.ConfirmPollAttempts
	return p
}

// Close stops the dispatcher and releases files in reverse order.
func (s *Stack) Close() {
	if s.Dispatcher != nil {
		s.Dispatcher.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}
