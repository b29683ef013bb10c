// Package strategies holds the bundled sample strategies and the name
// registry used by the CLI to build them from configuration.
package strategies

import (
	"sort"

	"github.com/mitchellh/mapstructure"

	"crypto-backtester/internal/backtest"
	apperrors "crypto-backtester/internal/errors"
)

// Factory builds a strategy trading vtSymbols from a raw settings map.
type Factory func(engine backtest.StrategyEngine, vtSymbols []string, settings map[string]interface{}) (backtest.Strategy, error)

var registry = map[string]Factory{
	DualMAName:      NewDualMA,
	BreakoutName:    NewBreakout,
	SpreadMakerName: NewSpreadMaker,
}

// Names returns the registered strategy names in ascending order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the strategy registered under name.
func New(name string, engine backtest.StrategyEngine, vtSymbols []string, settings map[string]interface{}) (backtest.Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrUnknownStrategy, "%q", name)
	}
	if len(vtSymbols) == 0 {
		return nil, apperrors.NewValidationError("vt_symbols", vtSymbols, "at least one symbol is required")
	}
	return factory(engine, vtSymbols, settings)
}

// OptimizationFactory adapts a registered strategy to the optimiser: each
// grid point overrides the matching keys of base.
func OptimizationFactory(name string, vtSymbols []string, base map[string]interface{}) backtest.StrategyFactory {
	return func(engine backtest.StrategyEngine, point map[string]float64) (backtest.Strategy, error) {
		settings := make(map[string]interface{}, len(base)+len(point))
		for k, v := range base {
			settings[k] = v
		}
		for k, v := range point {
			settings[k] = v
		}
		return New(name, engine, vtSymbols, settings)
	}
}

// decodeSettings fills out from a loosely typed map. Unknown keys are
// rejected so a typo in a config file does not silently fall back to the
// default.
func decodeSettings(input map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidSettings, err.Error())
	}
	return nil
}
