package strategies

import (
	"crypto-backtester/internal/backtest"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
)

// SpreadMakerName is the registry name of SpreadMaker.
const SpreadMakerName = "spread_maker"

// SpreadMakerSettings configures SpreadMaker.
type SpreadMakerSettings struct {
	SpreadTicks int     `mapstructure:"spread_ticks"`
	FixedSize   float64 `mapstructure:"fixed_size"`
	MaxPos      float64 `mapstructure:"max_pos"`
}

// DefaultSpreadMakerSettings returns the settings used for keys a config omits.
func DefaultSpreadMakerSettings() SpreadMakerSettings {
	return SpreadMakerSettings{SpreadTicks: 1, FixedSize: 1, MaxPos: 3}
}

// Validate checks the quoting parameters.
func (s SpreadMakerSettings) Validate() error {
	switch {
	case s.SpreadTicks < 0:
		return apperrors.NewValidationError("spread_ticks", s.SpreadTicks, "must not be negative")
	case s.FixedSize <= 0:
		return apperrors.NewValidationError("fixed_size", s.FixedSize, "must be positive")
	case s.MaxPos < s.FixedSize:
		return apperrors.NewValidationError("max_pos", s.MaxPos, "must be at least fixed_size")
	}
	return nil
}

// SpreadMaker is a tick-mode quoting strategy. On every tick it cancels its
// quotes and requotes both sides SpreadTicks outside the touch, skewing
// toward flat once the position reaches MaxPos.
type SpreadMaker struct {
	backtest.Template

	settings  SpreadMakerSettings
	vtSymbols []string
	quotes    int
}

// NewSpreadMaker builds a SpreadMaker from raw settings.
func NewSpreadMaker(engine backtest.StrategyEngine, vtSymbols []string, raw map[string]interface{}) (backtest.Strategy, error) {
	settings := DefaultSpreadMakerSettings()
	if err := decodeSettings(raw, &settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &SpreadMaker{
		Template:  backtest.NewTemplate(SpreadMakerName, engine),
		settings:  settings,
		vtSymbols: vtSymbols,
	}, nil
}

// Settings returns the decoded settings.
func (s *SpreadMaker) Settings() SpreadMakerSettings { return s.settings }

// Quotes returns the number of orders placed.
func (s *SpreadMaker) Quotes() int { return s.quotes }

func (s *SpreadMaker) OnTick(tick models.Tick) {
	vt := tick.VtSymbol()
	s.CancelAll(vt)

	bid, ask := tick.BidPrices[0], tick.AskPrices[0]
	if bid <= 0 || ask <= 0 {
		return
	}

	offset := float64(s.settings.SpreadTicks) * s.Engine().PriceTick(vt)
	bidPrice := bid - offset
	askPrice := ask + offset
	pos := s.Pos(vt)
	size := s.settings.FixedSize

	switch {
	case pos < 0:
		s.quote(s.Cover(vt, bidPrice, min(size, -pos), false))
	case pos+size <= s.settings.MaxPos:
		s.quote(s.Buy(vt, bidPrice, size, false))
	}

	switch {
	case pos > 0:
		s.quote(s.Sell(vt, askPrice, min(size, pos), false))
	case -pos+size <= s.settings.MaxPos:
		s.quote(s.Short(vt, askPrice, size, false))
	}
}

func (s *SpreadMaker) quote(_ models.OrderHandle, ok bool) {
	if ok {
		s.quotes++
	}
}

func (s *SpreadMaker) OnStop() {
	logger := s.Engine().Logger()
	logger.Info().Str("strategy", s.Name()).Int("quotes", s.Quotes()).Msg("Quoting finished")
	logStop(logger, s.Name(), s.vtSymbols, s.Pos)
}
