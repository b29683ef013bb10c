// Package models provides domain models for the backtesting engine.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the venue an instrument trades on.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeOKX     Exchange = "OKX"
	ExchangeBybit   Exchange = "BYBIT"
	ExchangeLocal   Exchange = "LOCAL"
)

// Direction represents the side of an order or trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Offset represents whether an order opens or closes exposure.
type Offset string

const (
	OffsetNone  Offset = "NONE"
	OffsetOpen  Offset = "OPEN"
	OffsetClose Offset = "CLOSE"
)

// Interval is the bar aggregation period.
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "d"
	IntervalTick   Interval = "tick"
)

// Duration returns the wall-clock length of one bar.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Mode selects bar-level or tick-level simulation.
type Mode string

const (
	ModeBar  Mode = "bar"
	ModeTick Mode = "tick"
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBar, ModeTick:
		return Mode(s), nil
	case "":
		return ModeBar, nil
	}
	return "", fmt.Errorf("unknown backtesting mode %q", s)
}

// VtSymbol joins symbol and exchange into the key used across the engine.
func VtSymbol(symbol string, exchange Exchange) string {
	return symbol + "." + string(exchange)
}

// Bar represents OHLCV data for one symbol over one interval.
type Bar struct {
	Symbol       string
	Exchange     Exchange
	Interval     Interval
	Datetime     time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Turnover     float64
	OpenInterest float64
}

// VtSymbol returns the engine key of the bar's instrument.
func (b Bar) VtSymbol() string {
	return VtSymbol(b.Symbol, b.Exchange)
}

// Tick is a snapshot of the top five book levels and the last trade.
type Tick struct {
	Symbol     string
	Exchange   Exchange
	Datetime   time.Time
	LastPrice  float64
	LastVolume float64
	Volume     float64
	BidPrices  [5]float64
	AskPrices  [5]float64
	BidVolumes [5]float64
	AskVolumes [5]float64
}

// VtSymbol returns the engine key of the tick's instrument.
func (t Tick) VtSymbol() string {
	return VtSymbol(t.Symbol, t.Exchange)
}

// Instrument describes the contract terms used by the simulator.
type Instrument struct {
	Symbol    string
	Exchange  Exchange
	Rate      float64 // commission rate on turnover
	Slippage  float64 // per-unit price slippage
	Size      float64 // contract multiplier
	PriceTick float64
	Inverse   bool // coin-margined contract
}

// VtSymbol returns the engine key of the instrument.
func (i Instrument) VtSymbol() string {
	return VtSymbol(i.Symbol, i.Exchange)
}

// RoundTo rounds value to the nearest multiple of target using decimal
// arithmetic so that prices like 0.1+0.2 land exactly on the tick grid.
// A non-positive target leaves value unchanged.
func RoundTo(value, target float64) float64 {
	if target <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	t := decimal.NewFromFloat(target)
	rounded, _ := v.Div(t).Round(0).Mul(t).Float64()
	return rounded
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
