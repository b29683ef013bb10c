package indicators

import (
	"fmt"

	"crypto-backtester/internal/models"
)

// ATR calculates Average True Range.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR_%d", a.period)
}

func (a *ATR) Period() int {
	return a.period
}

func (a *ATR) Calculate(bars []models.Bar) ([]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < a.period+1 {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	result := make([]float64, n)
	tr := make([]float64, n)

	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		tr[i] = trueRange(bars[i], bars[i-1])
	}

	result[a.period-1] = mean(tr[:a.period])

	// Wilder smoothing
	for i := a.period; i < n; i++ {
		result[i] = (result[i-1]*float64(a.period-1) + tr[i]) / float64(a.period)
	}

	return result, nil
}

// Donchian calculates the highest high and lowest low over a window.
type Donchian struct {
	period int
}

// NewDonchian creates a new Donchian channel indicator.
func NewDonchian(period int) *Donchian {
	return &Donchian{period: period}
}

func (d *Donchian) Name() string {
	return fmt.Sprintf("DONCHIAN_%d", d.period)
}

func (d *Donchian) Period() int {
	return d.period
}

// Calculate returns the "upper" and "lower" channel lines.
func (d *Donchian) Calculate(bars []models.Bar) (map[string][]float64, error) {
	if d.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < d.period {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	upper := make([]float64, n)
	lower := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	for i := d.period - 1; i < n; i++ {
		upper[i] = highest(highs[i-d.period+1 : i+1])
		lower[i] = lowest(lows[i-d.period+1 : i+1])
	}

	return map[string][]float64{"upper": upper, "lower": lower}, nil
}
