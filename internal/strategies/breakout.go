package strategies

import (
	"crypto-backtester/internal/analysis/indicators"
	"crypto-backtester/internal/backtest"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
)

// BreakoutName is the registry name of Breakout.
const BreakoutName = "breakout"

// BreakoutSettings configures Breakout.
type BreakoutSettings struct {
	EntryWindow int     `mapstructure:"entry_window"`
	ExitWindow  int     `mapstructure:"exit_window"`
	FixedSize   float64 `mapstructure:"fixed_size"`

	// ATRStop > 0 trails the exit stop ATRStop average true ranges behind
	// the close whenever that is tighter than the exit channel.
	ATRWindow int     `mapstructure:"atr_window"`
	ATRStop   float64 `mapstructure:"atr_stop"`
}

// DefaultBreakoutSettings returns the settings used for keys a config omits.
func DefaultBreakoutSettings() BreakoutSettings {
	return BreakoutSettings{EntryWindow: 20, ExitWindow: 10, FixedSize: 1, ATRWindow: 14}
}

// Validate checks the channel windows and order size.
func (s BreakoutSettings) Validate() error {
	switch {
	case s.EntryWindow < 1:
		return apperrors.NewValidationError("entry_window", s.EntryWindow, "must be at least 1")
	case s.ExitWindow < 1:
		return apperrors.NewValidationError("exit_window", s.ExitWindow, "must be at least 1")
	case s.FixedSize <= 0:
		return apperrors.NewValidationError("fixed_size", s.FixedSize, "must be positive")
	case s.ATRStop < 0:
		return apperrors.NewValidationError("atr_stop", s.ATRStop, "must not be negative")
	case s.ATRStop > 0 && s.ATRWindow < 1:
		return apperrors.NewValidationError("atr_window", s.ATRWindow, "must be at least 1")
	}
	return nil
}

// Breakout is a channel breakout system. Flat, it rests stop orders one tick
// outside the entry channel; in a position, it rests a stop at the opposite
// side of the exit channel.
type Breakout struct {
	backtest.Template

	settings  BreakoutSettings
	vtSymbols []string
	series    map[string]*indicators.Series
}

// NewBreakout builds a Breakout from raw settings.
func NewBreakout(engine backtest.StrategyEngine, vtSymbols []string, raw map[string]interface{}) (backtest.Strategy, error) {
	settings := DefaultBreakoutSettings()
	if err := decodeSettings(raw, &settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &Breakout{
		Template:  backtest.NewTemplate(BreakoutName, engine),
		settings:  settings,
		vtSymbols: vtSymbols,
		series:    make(map[string]*indicators.Series, len(vtSymbols)),
	}
	window := max(settings.EntryWindow, settings.ExitWindow)
	if settings.ATRStop > 0 {
		window = max(window, settings.ATRWindow+1)
	}
	for _, vt := range vtSymbols {
		s.series[vt] = indicators.NewSeries(window)
	}
	return s, nil
}

// Settings returns the decoded settings.
func (s *Breakout) Settings() BreakoutSettings { return s.settings }

func (s *Breakout) OnBar(bar models.Bar) {
	vt := bar.VtSymbol()
	series, ok := s.series[vt]
	if !ok {
		return
	}

	s.CancelAll(vt)
	series.Update(bar)
	if !series.Inited() {
		return
	}

	tick := s.Engine().PriceTick(vt)
	pos := s.Pos(vt)
	switch {
	case pos == 0:
		upper, lower := series.Channel(s.settings.EntryWindow)
		s.Buy(vt, upper+tick, s.settings.FixedSize, true)
		s.Short(vt, lower-tick, s.settings.FixedSize, true)
	case pos > 0:
		stop := series.Lowest(s.settings.ExitWindow)
		if atr := s.atr(series); atr > 0 {
			stop = max(stop, bar.Close-atr*s.settings.ATRStop)
		}
		s.Sell(vt, stop, pos, true)
	default:
		stop := series.Highest(s.settings.ExitWindow)
		if atr := s.atr(series); atr > 0 {
			stop = min(stop, bar.Close+atr*s.settings.ATRStop)
		}
		s.Cover(vt, stop, -pos, true)
	}
}

func (s *Breakout) atr(series *indicators.Series) float64 {
	if s.settings.ATRStop <= 0 {
		return 0
	}
	return series.ATR(s.settings.ATRWindow)
}

func (s *Breakout) OnTrade(trade models.Trade) {
	logger := s.Engine().Logger()
	logger.Debug().
		Str("symbol", trade.VtSymbol()).
		Str("direction", string(trade.Direction)).
		Float64("price", trade.Price).
		Msg("Breakout filled")
}

func (s *Breakout) OnStop() {
	logStop(s.Engine().Logger(), s.Name(), s.vtSymbols, s.Pos)
}
