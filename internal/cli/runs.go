package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crypto-backtester/internal/config"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/store"
	"crypto-backtester/internal/strategies"
	"crypto-backtester/pkg/utils"
)

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse saved backtest runs",
		Long:  "List, show and delete runs stored with 'backtester run --save'.",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Example: `  backtester runs list
  backtester runs list --strategy dual_ma --since 2024-06-01 --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			filter := store.RunFilter{Strategy: mustString(cmd, "strategy")}
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			since, err := config.ParseDate(mustString(cmd, "since"))
			if err != nil {
				output.Error("%v", err)
				return err
			}
			filter.Since = since

			db, err := openResults(app.Config)
			if err != nil {
				output.Error("Failed to open results database: %v", err)
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), filter)
			if err != nil {
				output.Error("Failed to list runs: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No saved runs.")
				return nil
			}

			table := NewTable(output, "ID", "Created", "Strategy", "Symbols", "Balance", "Return", "Sharpe", "Trades")
			for _, r := range runs {
				table.AddRow(
					shortID(r.ID),
					FormatDateTime(r.CreatedAt),
					r.Strategy,
					TruncateString(strings.Join(r.VtSymbols, ","), 32),
					utils.FormatCompact(r.Statistics.EndBalance),
					output.FormatPercent(r.Statistics.TotalReturn),
					fmt.Sprintf("%.2f", r.Statistics.SharpeRatio),
					FormatFloat(float64(r.Statistics.TotalTradeCount)),
				)
			}
			table.Render()
			return nil
		},
	}
	listCmd.Flags().String("strategy", "", "only runs of this strategy")
	listCmd.Flags().String("since", "", "only runs created on or after this date")
	listCmd.Flags().Int("limit", 20, "maximum number of runs (0 for all)")
	cmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved run",
		Long:  "Show a saved run. The id may be abbreviated to any unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			showTrades, _ := cmd.Flags().GetBool("trades")

			db, err := openResults(app.Config)
			if err != nil {
				output.Error("Failed to open results database: %v", err)
				return err
			}
			defer db.Close()

			id, err := resolveRunID(cmd, db, args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			run, err := db.GetRun(cmd.Context(), id)
			if err != nil {
				output.Error("Failed to load run: %v", err)
				return err
			}

			if output.IsJSON() {
				if !showTrades {
					run.Trades = nil
				}
				return output.JSON(run)
			}

			output.Bold("Run %s", run.ID)
			output.Printf("  Created:   %s\n", FormatDateTime(run.CreatedAt))
			output.Printf("  Symbols:   %s\n", strings.Join(run.VtSymbols, ", "))
			output.Printf("  Interval:  %s (%s mode)\n", run.Interval, run.Mode)
			output.Printf("  Window:    %s .. %s\n", utils.FormatDate(run.Start), utils.FormatDate(run.End))
			for _, line := range FormatSettingsMap(run.Settings) {
				output.Printf("  %s\n", line)
			}
			output.Println()
			displayStatistics(output, run.Strategy, run.Statistics)

			if showTrades {
				output.Println()
				renderTrades(output, run.Trades)
			}
			return nil
		},
	}
	showCmd.Flags().Bool("trades", false, "include the trade list")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			db, err := openResults(app.Config)
			if err != nil {
				output.Error("Failed to open results database: %v", err)
				return err
			}
			defer db.Close()

			id, err := resolveRunID(cmd, db, args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if err := db.DeleteRun(cmd.Context(), id); err != nil {
				output.Error("Failed to delete run: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": id})
			}
			output.Success("✓ Deleted run %s", id)
			return nil
		},
	})

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveRunID expands a unique id prefix to the full run id.
func resolveRunID(cmd *cobra.Command, db store.DataStore, prefix string) (string, error) {
	runs, err := db.ListRuns(cmd.Context(), store.RunFilter{})
	if err != nil {
		return "", err
	}

	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", apperrors.Wrapf(apperrors.ErrNoData, "no run matches %q", prefix)
	case 1:
		return matches[0], nil
	}
	return "", apperrors.NewValidationError("id", prefix, fmt.Sprintf("ambiguous, matches %d runs", len(matches)))
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "strategies",
		Short:       "List the bundled strategies",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(strategies.Names())
				return
			}
			for _, name := range strategies.Names() {
				output.Println(name)
			}
		},
	}
}
