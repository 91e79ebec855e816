package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trading-authority/internal/domain"
	"trading-authority/pkg/crypto"
)

// addAdminCommands adds status, mode and key management commands.
func addAdminCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newSwitchModeCmd(app))
	rootCmd.AddCommand(newRotateKeyCmd(app))
	rootCmd.AddCommand(newResetCmd(app))
}

func printSnapshot(output *Output, snap domain.StatusSnapshot) error {
	if output.IsJSON() {
		return output.JSON(snap)
	}
	configured := "no"
	if snap.IsConfigured {
		configured = "yes"
	}
	output.Printf("  Configured:     %s\n", configured)
	output.Printf("  Operating mode: %s\n", snap.OperatingMode)
	output.Printf("  Config version: %d\n", snap.ConfigurationVersion)
	if !snap.LastUpdate.IsZero() {
		output.Printf("  Last update:    %s\n", snap.LastUpdate.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := st.Status.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printSnapshot(NewOutput(cmd), snap)
		},
	}
}

func newSwitchModeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch-mode <TEST|PRODUCTION>",
		Short: "Switch the operating mode",
		Example: `  authority switch-mode production
  authority switch-mode TEST --expected-version 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseMode(args[0])
			if err != nil {
				return err
			}
			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			var snap domain.StatusSnapshot
			if cmd.Flags().Changed("expected-version") {
				expected, _ := cmd.Flags().GetInt64("expected-version")
				snap, err = st.Status.SwitchModeIfVersion(cmd.Context(), mode, expected)
			} else {
				snap, err = st.Status.SwitchMode(cmd.Context(), mode)
			}
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if !output.IsJSON() {
				output.Success("Operating mode is %s", snap.OperatingMode)
			}
			return printSnapshot(output, snap)
		},
	}
	cmd.Flags().Int64("expected-version", 0, "fail unless the configuration version still equals this value")
	return cmd
}

func newRotateKeyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt every stored secret under a new master secret",
		Long: `Derives a new master key from the secret held in the environment variable
named by --new-secret-env and re-encrypts every encrypted entry in one
transaction. On failure nothing changes. After success, set MASTER_SECRET
to the new secret before the next start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			envName, _ := cmd.Flags().GetString("new-secret-env")
			secret := os.Getenv(envName)
			if secret == "" {
				return fmt.Errorf("environment variable %s is empty", envName)
			}
			if secret == app.Config.MasterSecret {
				return errors.New("new secret equals the current MASTER_SECRET")
			}

			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			version, err := st.Store.RotateKey(cmd.Context(), secret)
			if err != nil {
				var ee *crypto.EncryptionError
				if errors.As(err, &ee) {
					return fmt.Errorf("rotation rolled back: %w", err)
				}
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]int{"key_version": version})
			}
			output.Success("Master key rotated to version %d", version)
			output.Warning("Set MASTER_SECRET to the value of %s before restarting.", envName)
			return nil
		},
	}
	cmd.Flags().String("new-secret-env", "NEW_MASTER_SECRET", "environment variable holding the new master secret")
	return cmd
}

func newResetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return the system to NOT_CONFIGURED (configuration entries are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
				return errors.New("refusing to reset without --confirm")
			}
			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := st.Status.Reset(cmd.Context())
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if !output.IsJSON() {
				output.Warning("System reset; executions are refused until onboarding completes again.")
			}
			return printSnapshot(output, snap)
		},
	}
	cmd.Flags().Bool("confirm", false, "confirm the reset")
	return cmd
}
