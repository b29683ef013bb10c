package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-backtester/internal/datafeed"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/logging"
	"crypto-backtester/internal/models"
	"crypto-backtester/internal/strategies"
)

const testConfig = `
[backtest]
capital = 100000
interval = "1h"
mode = "bar"
start = "2024-01-01"
end = "2024-01-05"

[[instruments]]
symbol = "btcusdt"
exchange = "binance"
rate = 0.0005
slippage = 0.5
size = 1
price_tick = 0.01

[data]
source = "csv"
csv_dir = %q
sqlite_path = %q

[strategy]
name = "dual_ma"

[strategy.settings]
fast_window = 2
slow_window = 4
fixed_size = 1

[optimization]
target = "total_net_pnl"
workers = 2

[[optimization.parameters]]
name = "fast_window"
start = 2
end = 3
step = 1

[[optimization.parameters]]
name = "slow_window"
start = 5
end = 5
step = 1

[log]
level = "error"
console = false
file = false

[output]
results_db = %q
`

// sineBars oscillates the close so the moving averages cross repeatedly.
func sineBars(count int) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, 0, count)
	prev := 100.0
	for i := 0; i < count; i++ {
		closePrice := 100 + 10*math.Sin(float64(i)*math.Pi/6)
		bars = append(bars, models.Bar{
			Symbol:   "BTCUSDT",
			Exchange: models.ExchangeBinance,
			Interval: models.IntervalHour,
			Datetime: start.Add(time.Duration(i) * time.Hour),
			Open:     prev,
			High:     math.Max(prev, closePrice) + 0.5,
			Low:      math.Min(prev, closePrice) - 0.5,
			Close:    closePrice,
			Volume:   10,
		})
		prev = closePrice
	}
	return bars
}

type testEnv struct {
	dir        string
	configPath string
	csvPath    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	csvDir := filepath.Join(dir, "csv")
	require.NoError(t, os.MkdirAll(csvDir, 0755))

	csvPath := filepath.Join(csvDir, datafeed.BarFileName("BTCUSDT", models.ExchangeBinance, models.IntervalHour))
	f, err := os.Create(csvPath)
	require.NoError(t, err)
	require.NoError(t, datafeed.WriteBars(f, sineBars(96)))
	require.NoError(t, f.Close())

	configPath := filepath.Join(dir, "backtest.toml")
	content := fmt.Sprintf(testConfig, csvDir, filepath.Join(dir, "market.db"), filepath.Join(dir, "results.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	return testEnv{dir: dir, configPath: configPath, csvPath: csvPath}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(logging.WithLogger(context.Background(), zerolog.Nop()))
	return buf.String(), err
}

func (e testEnv) execute(t *testing.T, args ...string) (string, error) {
	return execute(t, append([]string{"--config", e.configPath}, args...)...)
}

func TestVersionWithoutConfig(t *testing.T) {
	out, err := execute(t, "version", "--json", "--config", "/nonexistent/backtest.toml")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestStrategiesCommand(t *testing.T) {
	out, err := execute(t, "strategies")
	require.NoError(t, err)
	for _, name := range strategies.Names() {
		assert.Contains(t, out, name)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtest.toml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "init must not overwrite without --force")

	_, err = execute(t, "--config", path, "config", "validate")
	assert.NoError(t, err)
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backtest]\ncapital = -1\n"), 0644))

	_, err := execute(t, "--config", path, "config", "validate")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT.BINANCE")
	assert.Contains(t, out, "dual_ma")
}

func TestRunCommand_SaveAndBrowse(t *testing.T) {
	env := newTestEnv(t)
	dailyPath := filepath.Join(env.dir, "daily.csv")

	out, err := env.execute(t, "run", "--json", "--save", "--export-daily", dailyPath)
	require.NoError(t, err)

	var result struct {
		Strategy   string `json:"strategy"`
		RunID      string `json:"run_id"`
		Statistics struct {
			TotalTradeCount int     `json:"total_trade_count"`
			Capital         float64 `json:"capital"`
		} `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "dual_ma", result.Strategy)
	assert.Greater(t, result.Statistics.TotalTradeCount, 0)
	assert.Equal(t, 100000.0, result.Statistics.Capital)
	require.NotEmpty(t, result.RunID)

	daily, err := os.ReadFile(dailyPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(daily), "date,trade_count,"))
	assert.Contains(t, string(daily), "2024-01-01")

	out, err = env.execute(t, "runs", "list", "--json")
	require.NoError(t, err)
	var runs []struct {
		ID       string `json:"id"`
		Strategy string `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)

	out, err = env.execute(t, "runs", "show", result.RunID[:8], "--trades")
	require.NoError(t, err)
	assert.Contains(t, out, result.RunID)
	assert.Contains(t, out, "Window:    2024-01-01 .. 2024-01-05")
	assert.Contains(t, out, "Trades (")

	_, err = env.execute(t, "runs", "delete", result.RunID)
	require.NoError(t, err)
	_, err = env.execute(t, "runs", "show", result.RunID)
	assert.Error(t, err)
}

func TestRunCommand_TableOutput(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "run", "--chart", "--trades")
	require.NoError(t, err)
	assert.Contains(t, out, "Backtest Result: dual_ma")
	assert.Contains(t, out, "Sharpe Ratio")
	assert.Contains(t, out, "Trades (")
	assert.Regexp(t, `Max DD Duration:\s+\d+ days?`, out)
}

func TestRunCommand_UnknownStrategy(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "run", "--strategy", "nope")
	assert.Error(t, err)
}

func TestOptimizeCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "optimize", "--json", "--top", "1")
	require.NoError(t, err)

	var result struct {
		Target  string `json:"target"`
		Results []struct {
			Settings map[string]float64 `json:"settings"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "total_net_pnl", result.Target)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 5.0, result.Results[0].Settings["slow_window"])
}

func TestOptimizeCommand_TableShowsProgress(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "optimize")
	require.NoError(t, err)
	assert.Contains(t, out, "Optimising")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "Optimisation: dual_ma ranked by total_net_pnl")
}

func TestDataCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.execute(t, "data", "import", "BTCUSDT.BINANCE", "--file", env.csvPath, "--interval", "1h", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows": 96`)

	out, err = env.execute(t, "data", "list", "--json")
	require.NoError(t, err)
	var series []struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
		Count    int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &series))
	require.Len(t, series, 1)
	assert.Equal(t, "BTCUSDT", series[0].Symbol)
	assert.Equal(t, 96, series[0].Count)

	out, err = env.execute(t, "data", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated just now")

	exportPath := filepath.Join(env.dir, "export.csv")
	_, err = env.execute(t, "data", "export", "BTCUSDT.BINANCE", exportPath, "--interval", "1h", "--start", "2024-01-02", "--end", "2024-01-03")
	require.NoError(t, err)
	exported, err := datafeed.ReadBarsFile(exportPath, datafeed.Defaults{})
	require.NoError(t, err)
	assert.Len(t, exported, 24)

	out, err = env.execute(t, "data", "delete", "BTCUSDT.BINANCE", "--interval", "1h", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"deleted": 96`)
}

func TestDataCommands_RejectNonCSV(t *testing.T) {
	env := newTestEnv(t)

	jsonPath := filepath.Join(env.dir, "bars.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("[]"), 0644))
	_, err := env.execute(t, "data", "import", "BTCUSDT.BINANCE", "--file", jsonPath, "--interval", "1h", "--json")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)

	_, err = env.execute(t, "data", "export", "BTCUSDT.BINANCE", filepath.Join(env.dir, "out.xlsx"), "--interval", "1h", "--json")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
	assert.NoFileExists(t, filepath.Join(env.dir, "out.xlsx"))
}

func TestParseVtSymbol(t *testing.T) {
	symbol, exchange, err := parseVtSymbol("ethusdt.okx")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", symbol)
	assert.Equal(t, models.ExchangeOKX, exchange)

	symbol, exchange, err = parseVtSymbol("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, models.ExchangeBinance, exchange)

	_, _, err = parseVtSymbol("BTCUSDT.")
	assert.Error(t, err)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "fast_window=2 slow_window=5.5", FormatSettings(map[string]float64{"slow_window": 5.5, "fast_window": 2}))
	assert.Equal(t, "0.1234", FormatPrice(0.12341))
	assert.Equal(t, "101.01", FormatPrice(101.009))
	assert.Equal(t, "1m 5s", FormatDuration(65*time.Second))
	assert.Equal(t, "2024-01-02 03:04:05", FormatDateTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "-", FormatDateTime(time.Time{}))
	assert.Equal(t, "ab...", TruncateString("abcdefgh", 5))
}

func TestTable_AlignsColouredCells(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf, colorEnabled: true}
	table := NewTable(o, "A", "B")
	table.AddRow(o.Green("x"), "1")
	table.AddRow("long", "2")
	table.Render()

	lines := strings.Split(strings.TrimSpace(stripANSI(buf.String())), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "x     1", lines[2])
	assert.Equal(t, "long  2", lines[3])
}
