package strategies

import (
	"github.com/rs/zerolog"

	"crypto-backtester/internal/analysis/indicators"
	"crypto-backtester/internal/backtest"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
)

// DualMAName is the registry name of DualMA.
const DualMAName = "dual_ma"

const (
	maSimple      = "sma"
	maExponential = "ema"
)

// DualMASettings configures DualMA.
type DualMASettings struct {
	FastWindow int     `mapstructure:"fast_window"`
	SlowWindow int     `mapstructure:"slow_window"`
	FixedSize  float64 `mapstructure:"fixed_size"`
	MAType     string  `mapstructure:"ma_type"` // sma or ema
}

// DefaultDualMASettings returns the settings used for keys a config omits.
func DefaultDualMASettings() DualMASettings {
	return DualMASettings{FastWindow: 10, SlowWindow: 20, FixedSize: 1, MAType: maSimple}
}

// Validate checks the windows and order size.
func (s DualMASettings) Validate() error {
	switch {
	case s.FastWindow < 1:
		return apperrors.NewValidationError("fast_window", s.FastWindow, "must be at least 1")
	case s.SlowWindow <= s.FastWindow:
		return apperrors.NewValidationError("slow_window", s.SlowWindow, "must be greater than fast_window")
	case s.FixedSize <= 0:
		return apperrors.NewValidationError("fixed_size", s.FixedSize, "must be positive")
	case s.MAType != maSimple && s.MAType != maExponential:
		return apperrors.NewValidationError("ma_type", s.MAType, "must be sma or ema")
	}
	return nil
}

// DualMA reverses between long and short on crossings of a fast and a slow
// moving average, entering with limit orders at the bar close.
type DualMA struct {
	backtest.Template

	settings  DualMASettings
	vtSymbols []string
	series    map[string]*indicators.Series
	prevFast  map[string]float64
	prevSlow  map[string]float64
}

// NewDualMA builds a DualMA from raw settings.
func NewDualMA(engine backtest.StrategyEngine, vtSymbols []string, raw map[string]interface{}) (backtest.Strategy, error) {
	settings := DefaultDualMASettings()
	if err := decodeSettings(raw, &settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &DualMA{
		Template:  backtest.NewTemplate(DualMAName, engine),
		settings:  settings,
		vtSymbols: vtSymbols,
		series:    make(map[string]*indicators.Series, len(vtSymbols)),
		prevFast:  make(map[string]float64, len(vtSymbols)),
		prevSlow:  make(map[string]float64, len(vtSymbols)),
	}
	// EMAs are seeded from the retained window, so keep more history
	window := settings.SlowWindow
	if settings.MAType == maExponential {
		window *= 2
	}
	for _, vt := range vtSymbols {
		s.series[vt] = indicators.NewSeries(window)
	}
	return s, nil
}

// Settings returns the decoded settings.
func (s *DualMA) Settings() DualMASettings { return s.settings }

func (s *DualMA) OnInit() {
	s.WriteLog("Strategy initialised")
}

func (s *DualMA) OnBar(bar models.Bar) {
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

	fast, slow := s.average(series, s.settings.FastWindow), s.average(series, s.settings.SlowWindow)
	prevFast, seen := s.prevFast[vt]
	prevSlow := s.prevSlow[vt]
	s.prevFast[vt] = fast
	s.prevSlow[vt] = slow
	if !seen {
		return
	}

	crossOver := fast > slow && prevFast <= prevSlow
	crossBelow := fast < slow && prevFast >= prevSlow
	pos := s.Pos(vt)
	size := s.settings.FixedSize

	switch {
	case crossOver:
		if pos < 0 {
			s.Cover(vt, bar.Close, -pos, false)
		}
		if pos <= 0 {
			s.Buy(vt, bar.Close, size, false)
		}
	case crossBelow:
		if pos > 0 {
			s.Sell(vt, bar.Close, pos, false)
		}
		if pos >= 0 {
			s.Short(vt, bar.Close, size, false)
		}
	}
}

func (s *DualMA) average(series *indicators.Series, window int) float64 {
	if s.settings.MAType == maExponential {
		return series.EMA(window)
	}
	return series.SMA(window)
}

func (s *DualMA) OnStop() {
	logStop(s.Engine().Logger(), s.Name(), s.vtSymbols, s.Pos)
}

func logStop(logger zerolog.Logger, name string, vtSymbols []string, pos func(string) float64) {
	for _, vt := range vtSymbols {
		logger.Info().Str("strategy", name).Str("symbol", vt).Float64("pos", pos(vt)).Msg("Strategy stopped")
	}
}
