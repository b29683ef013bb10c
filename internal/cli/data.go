package cli

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crypto-backtester/internal/config"
	"crypto-backtester/internal/datafeed"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
	"crypto-backtester/internal/store"
	"crypto-backtester/pkg/utils"
)

func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage stored market history",
		Long: `Import CSV history into the SQLite store, export it back to CSV,
list the stored series and delete them.`,
	}

	cmd.AddCommand(newDataImportCmd(app))
	cmd.AddCommand(newDataExportCmd(app))
	cmd.AddCommand(newDataListCmd(app))
	cmd.AddCommand(newDataDeleteCmd(app))

	return cmd
}

// parseVtSymbol splits "BTCUSDT.BINANCE" into symbol and exchange. A bare
// symbol gets the default exchange.
func parseVtSymbol(s string) (string, models.Exchange, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	symbol, exchange, found := strings.Cut(s, ".")
	if symbol == "" || (found && exchange == "") {
		return "", "", apperrors.NewValidationError("vt_symbol", s, "expected SYMBOL.EXCHANGE")
	}
	if !found {
		exchange = string(models.ExchangeBinance)
	}
	return symbol, models.Exchange(exchange), nil
}

func openDataStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Data.SQLitePath)
}

func newDataImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <vt_symbol> --file <file.csv>",
		Short: "Import a bar or tick CSV file",
		Long: `Read a CSV file with a header row and store its rows in the SQLite
database configured as data.sqlite_path. Rows already present for the same
timestamp are replaced.

Columns missing from the file (symbol, exchange, interval) are taken from
the arguments.`,
		Example: `  backtester data import BTCUSDT.BINANCE --file btc_1m.csv --interval 1m
  backtester data import ETHUSDT.OKX --file eth_ticks.csv --interval tick`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			symbol, exchange, err := parseVtSymbol(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			interval := models.Interval(mustString(cmd, "interval"))
			file := mustString(cmd, "file")
			defaults := datafeed.Defaults{Symbol: symbol, Exchange: exchange, Interval: interval}

			db, err := openDataStore(app.Config)
			if err != nil {
				output.Error("Failed to open data store: %v", err)
				return err
			}
			defer db.Close()

			var count int
			if interval == models.IntervalTick {
				ticks, err := datafeed.ReadTicksFile(file, defaults)
				if err != nil {
					output.Error("Failed to read %s: %v", file, err)
					return err
				}
				if err := db.SaveTicks(ctx, ticks); err != nil {
					output.Error("Failed to store ticks: %v", err)
					return err
				}
				count = len(ticks)
			} else {
				bars, err := datafeed.ReadBarsFile(file, defaults)
				if err != nil {
					output.Error("Failed to read %s: %v", file, err)
					return err
				}
				if err := db.SaveBars(ctx, bars); err != nil {
					output.Error("Failed to store bars: %v", err)
					return err
				}
				count = len(bars)
			}

			key := store.SyncKey(symbol, exchange, interval)
			if err := db.SetLastSync(key, time.Now()); err != nil {
				app.Logger.Warn().Err(err).Str("series", key).Msg("Failed to mark series synced")
			}
			app.Logger.Info().Str("series", key).Int("rows", count).Msg("Imported history")

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"vt_symbol": models.VtSymbol(symbol, exchange),
					"interval":  interval,
					"rows":      count,
				})
			}
			output.Success("✓ Imported %s rows of %s %s", utils.FormatQuantity(float64(count)), models.VtSymbol(symbol, exchange), interval)
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "CSV file to import")
	cmd.Flags().StringP("interval", "i", string(models.IntervalMinute), "bar interval (1m, 1h, d) or tick")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newDataExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <vt_symbol> <file.csv>",
		Short: "Export a stored series to CSV",
		Example: `  backtester data export BTCUSDT.BINANCE btc.csv --interval 1h
  backtester data export BTCUSDT.BINANCE jan.csv --start 2024-01-01 --end 2024-02-01`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			symbol, exchange, err := parseVtSymbol(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			interval := models.Interval(mustString(cmd, "interval"))
			start, err := config.ParseDate(mustString(cmd, "start"))
			if err != nil {
				output.Error("%v", err)
				return err
			}
			end, err := config.ParseDate(mustString(cmd, "end"))
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if end.IsZero() {
				end = time.Now().UTC()
			}

			db, err := openDataStore(app.Config)
			if err != nil {
				output.Error("Failed to open data store: %v", err)
				return err
			}
			defer db.Close()

			if err := datafeed.CheckFormat(args[1]); err != nil {
				output.Error("%v", err)
				return err
			}
			f, err := os.Create(args[1])
			if err != nil {
				output.Error("Failed to create %s: %v", args[1], err)
				return err
			}
			defer f.Close()

			var count int
			if interval == models.IntervalTick {
				ticks, err := db.LoadTicks(ctx, symbol, exchange, start, end)
				if err != nil {
					output.Error("Failed to load ticks: %v", err)
					return err
				}
				if err := datafeed.WriteTicks(f, ticks); err != nil {
					return err
				}
				count = len(ticks)
			} else {
				bars, err := db.LoadBars(ctx, symbol, exchange, interval, start, end)
				if err != nil {
					output.Error("Failed to load bars: %v", err)
					return err
				}
				if err := datafeed.WriteBars(f, bars); err != nil {
					return err
				}
				count = len(bars)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"file": args[1],
					"rows": count,
				})
			}
			if count == 0 {
				output.Warning("No rows stored for %s %s in that range", models.VtSymbol(symbol, exchange), interval)
				return nil
			}
			output.Success("✓ Exported %s rows to %s", utils.FormatQuantity(float64(count)), args[1])
			return nil
		},
	}

	cmd.Flags().StringP("interval", "i", string(models.IntervalMinute), "bar interval (1m, 1h, d) or tick")
	cmd.Flags().String("start", "", "first date to export (inclusive)")
	cmd.Flags().String("end", "", "last date to export (exclusive, default now)")

	return cmd
}

func newDataListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			db, err := openDataStore(app.Config)
			if err != nil {
				output.Error("Failed to open data store: %v", err)
				return err
			}
			defer db.Close()

			series, err := db.ListSeries(cmd.Context())
			if err != nil {
				output.Error("Failed to list series: %v", err)
				return err
			}

			freshness := store.NewCachedSource(db, nil, app.Logger)
			freshness.MaxAge = app.Config.Data.CacheMaxAge

			if output.IsJSON() {
				return output.JSON(series)
			}
			if len(series) == 0 {
				output.Info("No stored series. Use 'backtester data import' to add history.")
				return nil
			}

			table := NewTable(output, "Series", "Interval", "Rows", "First", "Last", "Sync")
			for _, s := range series {
				f := freshness.Freshness(store.SyncKey(s.Symbol, s.Exchange, s.Interval))
				sync := store.FormatFreshness(f)
				if !f.IsFresh && !f.LastUpdated.IsZero() {
					sync = output.Yellow(sync)
				}
				table.AddRow(
					s.VtSymbol(),
					string(s.Interval),
					utils.FormatQuantity(float64(s.Count)),
					FormatDateTime(s.First),
					FormatDateTime(s.Last),
					sync,
				)
			}
			table.Render()
			return nil
		},
	}
}

func newDataDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <vt_symbol>",
		Short:   "Delete a stored series",
		Example: `  backtester data delete BTCUSDT.BINANCE --interval 1m`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbol, exchange, err := parseVtSymbol(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			interval := models.Interval(mustString(cmd, "interval"))

			db, err := openDataStore(app.Config)
			if err != nil {
				output.Error("Failed to open data store: %v", err)
				return err
			}
			defer db.Close()

			deleted, err := db.DeleteSeries(cmd.Context(), symbol, exchange, interval)
			if err != nil {
				output.Error("Failed to delete series: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int64{"deleted": deleted})
			}
			if deleted == 0 {
				output.Warning("No rows stored for %s %s", models.VtSymbol(symbol, exchange), interval)
				return nil
			}
			output.Success("✓ Deleted %s rows", utils.FormatQuantity(float64(deleted)))
			return nil
		},
	}

	cmd.Flags().StringP("interval", "i", string(models.IntervalMinute), "bar interval (1m, 1h, d) or tick")

	return cmd
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
