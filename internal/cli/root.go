// Package cli provides the command-line interface for the trading authority.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trading-authority/pkg/config"
	"trading-authority/pkg/logging"
)

// Version information
const Version = "0.1.0"

// App holds what every command shares once flags are parsed.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	open func(ctx context.Context, withMirror bool) (*Stack, error)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(app *App) *cobra.Command {
	app.open = func(ctx context.Context, withMirror bool) (*Stack, error) {
		return openStack(ctx, app.Config, app.Logger, withMirror)
	}

	rootCmd := &cobra.Command{
		Use:   "authority",
		Short: "Trading authority - operating mode, encrypted configuration and execution",
		Long: `The trading authority decides whether swaps settle for real (PRODUCTION)
or against a virtual ledger (TEST), keeps credentials encrypted at rest and
records every execution attempt in an append-only audit trail.

Configuration comes from .env, an optional --config file and the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config != nil {
				return nil
			}
			cfgFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			app.Config = cfg

			logCfg := logging.DefaultLogConfig()
			logCfg.Level = cfg.LogLevel
			logCfg.FilePath = cfg.LogFile
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logCfg.Level = "debug"
			}
			app.Logger = logging.New(logCfg)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd(app))
	addAdminCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)
	addAuditCommands(rootCmd, app)

	return rootCmd
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		NewOutput(rootCmd).Error("Error: %v", err)
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{"version": Version})
				return
			}
			output.Printf("trading authority v%s\n", Version)
		},
	}
}
