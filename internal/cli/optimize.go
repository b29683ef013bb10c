package cli

import (
	"math"
	"time"

	"github.com/spf13/cobra"

	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
	"crypto-backtester/internal/strategies"
)

func newOptimizeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Grid-search strategy parameters",
		Long: `Backtest every point of the [optimization] parameter grid against the
same history and rank the runs by the target statistic.

Grid values override the matching keys of [strategy.settings].`,
		Example: `  backtester optimize
  backtester optimize --target total_return --workers 4 --top 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config

			if target, _ := cmd.Flags().GetString("target"); target != "" {
				cfg.Optimization.Target = target
			}
			workers := cfg.Optimization.Workers
			if cmd.Flags().Changed("workers") {
				workers, _ = cmd.Flags().GetInt("workers")
			}
			top, _ := cmd.Flags().GetInt("top")

			setting := cfg.OptimizationSetting(app.Logger)
			if len(setting.Names()) == 0 {
				err := apperrors.Wrap(apperrors.ErrInvalidParameter, "no optimisation parameters configured")
				output.Error("%v", err)
				return err
			}

			began := time.Now()
			pb, err := prepareBacktest(cmd.Context(), app)
			if err != nil {
				output.Error("Failed to prepare backtest: %v", err)
				return err
			}

			pb.SetOptimizationProgress(func(done, total int) {
				output.Progress(done, total, "Optimising")
			})

			factory := strategies.OptimizationFactory(cfg.Strategy.Name, cfg.VtSymbols(), cfg.Strategy.Settings)
			results, err := pb.RunOptimization(cmd.Context(), setting, factory, workers)
			if err != nil {
				output.Error("Optimisation failed: %v", err)
				return err
			}
			if top > 0 && len(results) > top {
				results = results[:top]
			}

			if output.IsJSON() {
				rows := make([]map[string]interface{}, 0, len(results))
				for _, r := range results {
					rows = append(rows, map[string]interface{}{
						"settings":   r.Settings,
						"target":     r.Target,
						"statistics": r.Statistics,
					})
				}
				return output.JSON(map[string]interface{}{
					"strategy": cfg.Strategy.Name,
					"target":   setting.Target(),
					"results":  rows,
				})
			}

			output.Bold("Optimisation: %s ranked by %s", cfg.Strategy.Name, setting.Target())
			output.Println()

			table := NewTable(output, "#", "Settings", setting.Target(), "Return", "Max DD%", "Sharpe", "Trades")
			for i, r := range results {
				table.AddRow(
					FormatFloat(float64(i+1)),
					FormatSettings(r.Settings),
					FormatFloat(roundTarget(r.Target)),
					output.FormatPercent(r.Statistics.TotalReturn),
					output.FormatPercent(r.Statistics.MaxDDPercent),
					FormatFloat(roundTarget(r.Statistics.SharpeRatio)),
					FormatFloat(float64(r.Statistics.TotalTradeCount)),
				)
			}
			table.Render()

			output.Println()
			output.Dim("Completed in %s", FormatDuration(time.Since(began)))
			return nil
		},
	}

	cmd.Flags().String("target", "", "statistic to maximise (overrides config)")
	cmd.Flags().Int("workers", 0, "parallel runs (0 uses every CPU)")
	cmd.Flags().Int("top", 10, "show only the best N runs (0 shows all)")

	return cmd
}

func roundTarget(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return models.RoundTo(v, 0.0001)
}
