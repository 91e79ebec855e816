package cli

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"trading-authority/internal/audit"
	"trading-authority/internal/domain"
)

// addLedgerCommands adds virtual ledger commands.
func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and fund the virtual ledger used in TEST mode",
	}
	cmd.AddCommand(newLedgerBalancesCmd(app))
	cmd.AddCommand(newLedgerCreditCmd(app))
	rootCmd.AddCommand(cmd)
}

func newLedgerBalancesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show virtual balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			balances, err := st.Ledger.Balances(cmd.Context())
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(balances)
			}
			if len(balances) == 0 {
				output.Info("Ledger is empty. Fund it with 'authority ledger credit <asset> <amount>'.")
				return nil
			}
			assets := make([]string, 0, len(balances))
			for a := range balances {
				assets = append(assets, a)
			}
			sort.Strings(assets)
			table := NewTable(output, "ASSET", "BALANCE")
			for _, a := range assets {
				table.AddRow(a, balances[a].String())
			}
			table.Render()
			return nil
		},
	}
}

func newLedgerCreditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "credit <asset> <amount>",
		Short:   "Credit an asset on the virtual ledger",
		Example: "  authority ledger credit USDC 1000",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return err
			}
			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			balance, err := st.Ledger.Credit(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]decimal.Decimal{"balance": balance})
			}
			output.Success("Balance is now %s", balance.String())
			return nil
		},
	}
}

// addAuditCommands adds audit trail queries.
func addAuditCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the execution audit trail",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent execution records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			mode, _ := cmd.Flags().GetString("mode")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := audit.Filter{Limit: limit}
			if status != "" {
				filter.Status = domain.ExecutionStatus(strings.ToUpper(status))
			}
			if mode != "" {
				m, err := domain.ParseMode(mode)
				if err != nil {
					return err
				}
				filter.ModeUsed = m
			}

			st, err := app.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.Trail.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(records)
			}
			table := NewTable(output, "TIME", "ID", "MODE", "STATUS", "PAIR", "SIDE", "AMOUNT", "PRICE", "FEE", "VERSION", "REASON")
			for _, r := range records {
				table.AddRow(
					r.Timestamp.Format("2006-01-02 15:04:05"),
					r.ID,
					string(r.ModeUsed),
					string(r.Status),
					r.Pair,
					string(r.Side),
					r.Amount.String(),
					r.Price.String(),
					r.Fee.String(),
					strconv.FormatInt(r.ConfigVersion, 10),
					r.Reason,
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().String("status", "", "filter by EXECUTED, SIMULATED or FAILED")
	list.Flags().String("mode", "", "filter by TEST or PRODUCTION")
	list.Flags().Int("limit", 50, "maximum number of records")
	cmd.AddCommand(list)
	rootCmd.AddCommand(cmd)
}
