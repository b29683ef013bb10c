package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Crypto Backtester Configuration

[backtest]
# Starting capital in quote currency
capital = 1000000.0
# Bar interval: 1m, 1h, d (use "tick" with mode = "tick")
interval = "1m"
# Simulation mode: "bar" or "tick"
mode = "bar"
# Run window, start inclusive and end exclusive (YYYY-MM-DD or RFC3339)
start = "2024-01-01"
end = "2024-02-01"
# Report zero rows for symbols that never traded
include_idle_symbols = false
# Days of history requested per load
load_window_days = 30

# One block per traded instrument
[[instruments]]
symbol = "BTCUSDT"
exchange = "BINANCE"
# Commission rate on turnover
rate = 0.0004
# Slippage per unit in price terms
slippage = 0.5
# Contract multiplier
size = 1.0
price_tick = 0.1
# Coin-margined contract
inverse = false

[[instruments]]
symbol = "ETHUSDT"
exchange = "BINANCE"
rate = 0.0004
slippage = 0.05
size = 1.0
price_tick = 0.01
inverse = false

[data]
# History source: sqlite, csv or cached (csv files cached in sqlite)
source = "csv"
sqlite_path = "market.db"
# CSV files named SYMBOL.EXCHANGE_interval.csv
csv_dir = "data"
# Re-read csv files once the cached copy is older than this (0s never expires)
cache_max_age = "0s"

[strategy]
# dual_ma, breakout or spread_maker
name = "dual_ma"

[strategy.settings]
fast_window = 10
slow_window = 20
fixed_size = 1.0
# Moving average: sma or ema
ma_type = "sma"

[optimization]
# Statistic runs are ranked by, e.g. sharpe_ratio, total_net_pnl
target = "sharpe_ratio"
# Parallel runs; 0 uses every CPU
workers = 0

[[optimization.parameters]]
name = "fast_window"
start = 5
end = 15
step = 5

[[optimization.parameters]]
name = "slow_window"
start = 20
end = 40
step = 10

[log]
# Log level: debug, info, warn, error
level = "info"
console = true
file = false
file_path = "logs/backtester.log"
max_size = 100
max_backups = 7
max_age = 30

[output]
# SQLite database for saved runs
results_db = "results.db"
# Save every run without passing --save
save_results = false
`

// Template returns the commented example configuration.
func Template() string {
	return configTemplate
}

// WriteTemplate writes the example configuration to path, creating parent
// directories. An existing file is only replaced when force is set.
func WriteTemplate(path string, force bool) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
