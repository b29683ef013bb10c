// Package config provides configuration management for the backtester.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"crypto-backtester/internal/backtest"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/logging"
	"crypto-backtester/internal/models"
)

// EnvPrefix prefixes environment overrides, e.g. BACKTEST_BACKTEST_CAPITAL.
const EnvPrefix = "BACKTEST"

// ConfigFileName is the base name searched for when no path is given.
const ConfigFileName = "backtest"

// Data source kinds.
const (
	SourceSQLite = "sqlite"
	SourceCSV    = "csv"
	SourceCached = "cached"
)

// Config holds all application configuration.
type Config struct {
	Backtest     BacktestConfig     `mapstructure:"backtest"`
	Instruments  []InstrumentConfig `mapstructure:"instruments"`
	Data         DataConfig         `mapstructure:"data"`
	Strategy     StrategyConfig     `mapstructure:"strategy"`
	Optimization OptimizationConfig `mapstructure:"optimization"`
	Log          logging.LogConfig  `mapstructure:"log"`
	Output       OutputConfig       `mapstructure:"output"`
}

// BacktestConfig holds the run window and account settings.
type BacktestConfig struct {
	Capital            float64 `mapstructure:"capital"`
	Interval           string  `mapstructure:"interval"` // 1m, 1h, d, tick
	Mode               string  `mapstructure:"mode"`     // bar, tick
	Start              string  `mapstructure:"start"`
	End                string  `mapstructure:"end"` // exclusive
	IncludeIdleSymbols bool    `mapstructure:"include_idle_symbols"`
	LoadWindowDays     int     `mapstructure:"load_window_days"`
}

// InstrumentConfig holds the contract terms of one instrument.
type InstrumentConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	Exchange  string  `mapstructure:"exchange"`
	Rate      float64 `mapstructure:"rate"`
	Slippage  float64 `mapstructure:"slippage"`
	Size      float64 `mapstructure:"size"`
	PriceTick float64 `mapstructure:"price_tick"`
	Inverse   bool    `mapstructure:"inverse"`
}

// DataConfig selects where history is loaded from.
type DataConfig struct {
	Source      string        `mapstructure:"source"` // sqlite, csv, cached
	SQLitePath  string        `mapstructure:"sqlite_path"`
	CSVDir      string        `mapstructure:"csv_dir"`
	CacheMaxAge time.Duration `mapstructure:"cache_max_age"`
}

// StrategyConfig names the strategy and its raw settings.
type StrategyConfig struct {
	Name     string                 `mapstructure:"name"`
	Settings map[string]interface{} `mapstructure:"settings"`
}

// OptimizationConfig holds the parameter grid for the optimize command.
type OptimizationConfig struct {
	Target     string           `mapstructure:"target"`
	Workers    int              `mapstructure:"workers"`
	Parameters []ParameterRange `mapstructure:"parameters"`
}

// ParameterRange is one axis of the optimisation grid.
type ParameterRange struct {
	Name  string  `mapstructure:"name"`
	Start float64 `mapstructure:"start"`
	End   float64 `mapstructure:"end"`
	Step  float64 `mapstructure:"step"`
}

// OutputConfig controls result persistence.
type OutputConfig struct {
	ResultsDB   string `mapstructure:"results_db"`
	SaveResults bool   `mapstructure:"save_results"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/crypto-backtester"
	}
	return filepath.Join(home, ".config", "crypto-backtester")
}

// DefaultConfigPath returns the config file used when none is given.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), ConfigFileName+".toml")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	dir := DefaultConfigDir()
	logDefaults := logging.DefaultLogConfig()

	v.SetDefault("backtest.capital", 1_000_000.0)
	v.SetDefault("backtest.interval", string(models.IntervalMinute))
	v.SetDefault("backtest.mode", string(models.ModeBar))
	v.SetDefault("backtest.start", "")
	v.SetDefault("backtest.end", "")
	v.SetDefault("backtest.include_idle_symbols", false)
	v.SetDefault("backtest.load_window_days", backtest.DefaultLoadWindowDays)

	v.SetDefault("data.source", SourceSQLite)
	v.SetDefault("data.sqlite_path", filepath.Join(dir, "market.db"))
	v.SetDefault("data.csv_dir", "data")
	v.SetDefault("data.cache_max_age", "0s")

	v.SetDefault("strategy.name", "")

	v.SetDefault("optimization.target", "sharpe_ratio")
	v.SetDefault("optimization.workers", 0)

	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.console", logDefaults.Console)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.file_path", logDefaults.FilePath)
	v.SetDefault("log.max_size", logDefaults.MaxSize)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age", logDefaults.MaxAge)

	v.SetDefault("output.results_db", filepath.Join(dir, "results.db"))
	v.SetDefault("output.save_results", false)
}

// Load reads the config file at path, or backtest.toml from the working
// directory or DefaultConfigDir when path is empty, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.ErrConfigInvalid,
				"config file not found (create one with 'backtester config init')")
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return decode(v)
}

// LoadReader reads TOML configuration from r.
func LoadReader(r io.Reader) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}

	for i := range cfg.Instruments {
		if cfg.Instruments[i].Exchange == "" {
			cfg.Instruments[i].Exchange = string(models.ExchangeBinance)
		}
		cfg.Instruments[i].Exchange = strings.ToUpper(cfg.Instruments[i].Exchange)
		cfg.Instruments[i].Symbol = strings.ToUpper(cfg.Instruments[i].Symbol)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the whole-run settings. Individual instruments are
// validated too, so a config file never silently drops a symbol.
func (c *Config) Validate() error {
	if c.Backtest.Capital <= 0 {
		return apperrors.NewConfigError("backtest.capital", c.Backtest.Capital, "must be positive")
	}
	if _, err := models.ParseMode(c.Backtest.Mode); err != nil {
		return apperrors.NewConfigError("backtest.mode", c.Backtest.Mode, "must be 'bar' or 'tick'")
	}
	if !validInterval(c.Backtest.Interval) {
		return apperrors.NewConfigError("backtest.interval", c.Backtest.Interval, "must be one of 1m, 1h, d, tick")
	}

	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if start.IsZero() {
		return apperrors.NewConfigError("backtest.start", c.Backtest.Start, "is required")
	}
	if end.IsZero() {
		return apperrors.NewConfigError("backtest.end", c.Backtest.End, "is required")
	}
	if !start.Before(end) {
		return apperrors.NewConfigError("backtest.end", c.Backtest.End, "must be after start")
	}

	if len(c.Instruments) == 0 {
		return apperrors.NewConfigError("instruments", nil, "at least one instrument is required")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		mi := inst.Instrument()
		if err := backtest.ValidateInstrument(mi); err != nil {
			return fmt.Errorf("instrument %s: %w", mi.VtSymbol(), err)
		}
		if seen[mi.VtSymbol()] {
			return apperrors.NewConfigError("instruments", mi.VtSymbol(), "duplicate instrument")
		}
		seen[mi.VtSymbol()] = true
	}

	switch c.Data.Source {
	case SourceSQLite, SourceCSV, SourceCached:
	default:
		return apperrors.NewConfigError("data.source", c.Data.Source, "must be sqlite, csv or cached")
	}

	if c.Optimization.Workers < 0 {
		return apperrors.NewConfigError("optimization.workers", c.Optimization.Workers, "must not be negative")
	}

	return nil
}

func validInterval(s string) bool {
	switch models.Interval(s) {
	case models.IntervalMinute, models.IntervalHour, models.IntervalDaily, models.IntervalTick:
		return true
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses a config date in UTC. An empty string is the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.NewConfigError("date", s, "expected YYYY-MM-DD or RFC3339")
}

// Window returns the parsed run start and exclusive end.
func (c *Config) Window() (time.Time, time.Time, error) {
	start, err := ParseDate(c.Backtest.Start)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewConfigError("backtest.start", c.Backtest.Start, "expected YYYY-MM-DD or RFC3339")
	}
	end, err := ParseDate(c.Backtest.End)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewConfigError("backtest.end", c.Backtest.End, "expected YYYY-MM-DD or RFC3339")
	}
	return start, end, nil
}

// Instrument converts the config entry to the engine type.
func (i InstrumentConfig) Instrument() models.Instrument {
	return models.Instrument{
		Symbol:    i.Symbol,
		Exchange:  models.Exchange(i.Exchange),
		Rate:      i.Rate,
		Slippage:  i.Slippage,
		Size:      i.Size,
		PriceTick: i.PriceTick,
		Inverse:   i.Inverse,
	}
}

// VtSymbols returns the engine keys of the configured instruments.
func (c *Config) VtSymbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Instrument().VtSymbol())
	}
	return out
}

// Parameters builds the engine parameters of a validated config.
func (c *Config) Parameters() (backtest.Parameters, error) {
	start, end, err := c.Window()
	if err != nil {
		return backtest.Parameters{}, err
	}
	mode, err := models.ParseMode(c.Backtest.Mode)
	if err != nil {
		return backtest.Parameters{}, apperrors.NewConfigError("backtest.mode", c.Backtest.Mode, err.Error())
	}

	params := backtest.Parameters{
		Interval:           models.Interval(c.Backtest.Interval),
		Start:              start,
		End:                end,
		Capital:            c.Backtest.Capital,
		Mode:               mode,
		IncludeIdleSymbols: c.Backtest.IncludeIdleSymbols,
		LoadWindowDays:     c.Backtest.LoadWindowDays,
	}
	for _, inst := range c.Instruments {
		params.Instruments = append(params.Instruments, inst.Instrument())
	}
	return params, nil
}

// OptimizationSetting builds the parameter grid. Invalid ranges are logged
// and skipped.
func (c *Config) OptimizationSetting(logger zerolog.Logger) *backtest.OptimizationSetting {
	setting := backtest.NewOptimizationSetting()
	setting.SetTarget(c.Optimization.Target)
	for _, p := range c.Optimization.Parameters {
		if err := setting.AddParameter(p.Name, p.Start, p.End, p.Step); err != nil {
			logger.Warn().Err(err).Str("parameter", p.Name).Msg("Skipping optimisation parameter")
		}
	}
	return setting
}
