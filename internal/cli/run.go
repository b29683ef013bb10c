package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crypto-backtester/internal/backtest"
	"crypto-backtester/internal/config"
	"crypto-backtester/internal/datafeed"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/logging"
	"crypto-backtester/internal/models"
	"crypto-backtester/internal/store"
	"crypto-backtester/internal/strategies"
	"crypto-backtester/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest",
		Long: `Load history for every configured instrument, replay it through the
configured strategy and print the portfolio statistics.

The strategy and its settings come from the [strategy] section of the
config file; --strategy overrides the name.`,
		Example: `  backtester run
  backtester run --config btc.toml --chart
  backtester run --export-daily daily.csv --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config

			if name, _ := cmd.Flags().GetString("strategy"); name != "" {
				cfg.Strategy.Name = name
			}
			showChart, _ := cmd.Flags().GetBool("chart")
			showTrades, _ := cmd.Flags().GetBool("trades")
			exportPath, _ := cmd.Flags().GetString("export-daily")
			save, _ := cmd.Flags().GetBool("save")

			began := time.Now()
			pb, err := prepareBacktest(cmd.Context(), app)
			if err != nil {
				output.Error("Failed to prepare backtest: %v", err)
				return err
			}

			strategy, err := strategies.New(cfg.Strategy.Name, pb, cfg.VtSymbols(), cfg.Strategy.Settings)
			if err != nil {
				output.Error("Failed to create strategy: %v", err)
				return err
			}
			pb.AddStrategy(strategy)

			if err := pb.RunBacktesting(); err != nil {
				output.Error("Backtest failed: %v", err)
				return err
			}

			daily := pb.CalculateResult()
			stats, curve := pb.CalculateStatistics(daily, true)
			elapsed := time.Since(began)

			if exportPath != "" {
				if err := writeDailyCSV(exportPath, curve); err != nil {
					output.Error("Failed to export daily results: %v", err)
					return err
				}
			}

			var runID string
			if save || cfg.Output.SaveResults {
				runID, err = saveRun(cmd.Context(), app, pb, stats, daily)
				if err != nil {
					output.Error("Failed to save run: %v", err)
					return err
				}
			}

			if output.IsJSON() {
				result := map[string]interface{}{
					"strategy":   cfg.Strategy.Name,
					"vt_symbols": pb.VtSymbols(),
					"statistics": stats,
					"elapsed_ms": elapsed.Milliseconds(),
				}
				if runID != "" {
					result["run_id"] = runID
				}
				if showTrades {
					result["trades"] = pb.Trades()
				}
				return output.JSON(result)
			}

			displayStatistics(output, cfg.Strategy.Name, stats)
			if showChart {
				output.Println()
				output.Bold("Balance")
				output.Println(backtest.RenderBalanceChart(curve, 60, 12))
			}
			if showTrades {
				output.Println()
				displayTrades(output, pb)
			}

			output.Println()
			if exportPath != "" {
				output.Success("✓ Daily results written to %s", exportPath)
			}
			if runID != "" {
				output.Success("✓ Run saved as %s", runID)
			}
			output.Dim("Completed in %s", FormatDuration(elapsed))
			return nil
		},
	}

	cmd.Flags().StringP("strategy", "s", "", "strategy name (overrides config)")
	cmd.Flags().Bool("chart", false, "draw the balance curve")
	cmd.Flags().Bool("trades", false, "list every trade")
	cmd.Flags().String("export-daily", "", "write the daily balance table to a CSV file")
	cmd.Flags().Bool("save", false, "store the run in the results database")

	return cmd
}

// prepareBacktest builds a backtester from the loaded config and fills it
// with history from the configured source.
func prepareBacktest(ctx context.Context, app *App) (*backtest.PortfolioBacktester, error) {
	cfg := app.Config

	params, err := cfg.Parameters()
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	pb := backtest.NewPortfolioBacktester(logger)
	pb.SetParameters(params)

	src, closeSource, err := openSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	if err := pb.LoadData(ctx, src); err != nil {
		return nil, err
	}
	if pb.HistoryLen() == 0 {
		logger.Warn().Strs("vt_symbols", pb.VtSymbols()).Msg("No history loaded for the backtest window")
	}
	return pb, nil
}

// openSource returns the configured history source and a func releasing it.
func openSource(cfg *config.Config, logger zerolog.Logger) (datafeed.Source, func(), error) {
	noop := func() {}

	switch cfg.Data.Source {
	case config.SourceCSV:
		return datafeed.NewCSVSource(cfg.Data.CSVDir), noop, nil

	case config.SourceSQLite:
		db, err := store.NewSQLiteStore(cfg.Data.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return db, func() { db.Close() }, nil

	case config.SourceCached:
		db, err := store.NewSQLiteStore(cfg.Data.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		cached := store.NewCachedSource(db, datafeed.NewCSVSource(cfg.Data.CSVDir), logger)
		cached.MaxAge = cfg.Data.CacheMaxAge
		return cached, func() { db.Close() }, nil
	}
	return nil, noop, apperrors.NewConfigError("data.source", cfg.Data.Source, "unknown data source")
}

// openResults opens the results database.
func openResults(cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Output.ResultsDB
	if path == "" {
		path = cfg.Data.SQLitePath
	}
	return store.NewSQLiteStore(path)
}

func saveRun(ctx context.Context, app *App, pb *backtest.PortfolioBacktester, stats backtest.Statistics, daily []backtest.DailyRow) (string, error) {
	db, err := openResults(app.Config)
	if err != nil {
		return "", err
	}
	defer db.Close()

	run := store.NewRun(pb, app.Config.Strategy.Name, app.Config.Strategy.Settings, stats, daily)
	if err := db.SaveRun(ctx, run); err != nil {
		return "", err
	}
	logger := logging.WithRun(app.Logger, run.ID)
	logger.Info().Int("trades", len(run.Trades)).Msg("Run saved")
	return run.ID, nil
}

func displayStatistics(output *Output, strategy string, s backtest.Statistics) {
	if s.TotalDays == 0 {
		output.Warning("No trades were made; there is nothing to report.")
		return
	}

	output.Box(fmt.Sprintf("Backtest Result: %s", strategy), []string{
		fmt.Sprintf("Period:            %s .. %s", s.StartDate, s.EndDate),
		fmt.Sprintf("Trading Days:      %d (%d profit / %d loss)", s.TotalDays, s.ProfitDays, s.LossDays),
		"",
		fmt.Sprintf("Capital:           %s", FormatMoney(s.Capital)),
		fmt.Sprintf("End Balance:       %s", FormatMoney(s.EndBalance)),
		fmt.Sprintf("Total Return:      %s", output.FormatPercent(s.TotalReturn)),
		fmt.Sprintf("Annual Return:     %s", output.FormatPercent(s.AnnualReturn)),
		"",
		fmt.Sprintf("Max Drawdown:      %s (%s)", FormatMoney(s.MaxDrawdown), output.FormatPercent(s.MaxDDPercent)),
		fmt.Sprintf("Max DD Duration:   %s", utils.FormatDays(s.MaxDrawdownDuration)),
		"",
		fmt.Sprintf("Total Net P&L:     %s", output.FormatPnL(s.TotalNetPnL)),
		fmt.Sprintf("Daily Net P&L:     %s", output.FormatPnL(s.DailyNetPnL)),
		fmt.Sprintf("Commission:        %s", FormatMoney(s.TotalCommission)),
		fmt.Sprintf("Slippage:          %s", FormatMoney(s.TotalSlippage)),
		fmt.Sprintf("Turnover:          %s", FormatMoney(s.TotalTurnover)),
		fmt.Sprintf("Trades:            %d (%.2f / day)", s.TotalTradeCount, s.DailyTradeCount),
		"",
		fmt.Sprintf("Daily Return:      %.4f%%", s.DailyReturn),
		fmt.Sprintf("Return Std:        %.4f%%", s.ReturnStd),
		fmt.Sprintf("Sharpe Ratio:      %.2f", s.SharpeRatio),
		fmt.Sprintf("Return/Drawdown:   %.2f", s.ReturnDrawdownRatio),
	})
}

func displayTrades(output *Output, pb *backtest.PortfolioBacktester) {
	renderTrades(output, pb.Trades())
}

func renderTrades(output *Output, trades []models.Trade) {
	output.Bold("Trades (%d)", len(trades))
	if len(trades) == 0 {
		return
	}

	table := NewTable(output, "Time", "Symbol", "Direction", "Offset", "Price", "Volume")
	for _, t := range trades {
		direction := output.Green(string(t.Direction))
		if t.Direction == models.DirectionShort {
			direction = output.Red(string(t.Direction))
		}
		table.AddRow(
			FormatDateTime(t.Datetime),
			output.Cyan(t.VtSymbol()),
			direction,
			string(t.Offset),
			FormatPrice(t.Price),
			FormatFloat(t.Volume),
		)
	}
	table.Render()
}

// dailyRecord is one CSV line of the exported balance table.
type dailyRecord struct {
	Date       string  `csv:"date"`
	TradeCount int     `csv:"trade_count"`
	StartPos   float64 `csv:"start_pos"`
	EndPos     float64 `csv:"end_pos"`
	Turnover   float64 `csv:"turnover"`
	Commission float64 `csv:"commission"`
	Slippage   float64 `csv:"slippage"`
	TradingPnL float64 `csv:"trading_pnl"`
	HoldingPnL float64 `csv:"holding_pnl"`
	TotalPnL   float64 `csv:"total_pnl"`
	NetPnL     float64 `csv:"net_pnl"`
	Balance    float64 `csv:"balance"`
	Return     float64 `csv:"return"`
	HighLevel  float64 `csv:"highlevel"`
	Drawdown   float64 `csv:"drawdown"`
	DDPercent  float64 `csv:"ddpercent"`
}

func writeDailyCSV(path string, curve []backtest.BalanceRow) error {
	records := make([]*dailyRecord, 0, len(curve))
	for _, r := range curve {
		records = append(records, &dailyRecord{
			Date:       r.DateKey(),
			TradeCount: r.TradeCount,
			StartPos:   r.StartPos,
			EndPos:     r.EndPos,
			Turnover:   r.Turnover,
			Commission: r.Commission,
			Slippage:   r.Slippage,
			TradingPnL: r.TradingPnL,
			HoldingPnL: r.HoldingPnL,
			TotalPnL:   r.TotalPnL,
			NetPnL:     r.NetPnL,
			Balance:    r.Balance,
			Return:     r.Return,
			HighLevel:  r.HighLevel,
			Drawdown:   r.Drawdown,
			DDPercent:  r.DDPercent,
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(&records, f)
}
