package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"trading-authority/internal/api"
	"trading-authority/internal/health"
	"trading-authority/internal/monitor"
	"trading-authority/pkg/logging"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the gRPC health service when GRPC_ADDR is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return serve(ctx, app)
		},
	}
}

func serve(ctx context.Context, app *App) error {
	cfg := app.Config
	logger := logging.Component(app.Logger, "serve")

	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	st, err := app.open(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.Status.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	st.Metrics.SetConfigVersion(snap.ConfigurationVersion)
	logger.Info().
		Bool("configured", snap.IsConfigured).
		Str("mode", string(snap.OperatingMode)).
		Int64("config_version", snap.ConfigurationVersion).
		Int("key_version", st.Keys.CurrentVersion()).
		Msg("authority starting")

	mon := &monitor.Monitor{
		Bus:    st.Bus,
		Logger: app.Logger,
		Sinks: []monitor.EventSink{
			monitor.LogSink(logging.Component(app.Logger, "events")),
			monitor.VersionSink(st.Metrics),
		},
	}
	mon.Start(ctx)

	errCh := make(chan error, 2)

	if cfg.GRPCAddr != "" {
		hs := health.New(st.Status, st.Bus, app.Logger)
		if err := hs.Sync(ctx); err != nil {
			return fmt.Errorf("health sync: %w", err)
		}
		hs.Watch(ctx)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health listening")
			if err := hs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc health: %w", err)
			}
		}()
		defer hs.Stop()
	}

	server := api.NewServer(api.Deps{
		Status:     st.Status,
		Store:      st.Store,
		Factory:    st.Factory,
		Dispatcher: st.Dispatcher,
		Trail:      st.Trail,
		Ledger:     st.Ledger,
		Prices:     st.Prices,
		Metrics:    st.Metrics,
		Logger:     app.Logger,
	}, api.Options{
		JWTSecret: cfg.JWTSecret,
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIRateBurst,
	})
	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return runErr
}
