// Package datafeed provides historical bar and tick sources and the helpers
// that put their output into replay order.
package datafeed

import (
	"context"
	"sort"
	"time"

	"crypto-backtester/internal/models"
)

// Source returns history for one instrument. Items must fall in
// [start, end) and be ordered by time.
type Source interface {
	LoadBars(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval, start, end time.Time) ([]models.Bar, error)
	LoadTicks(ctx context.Context, symbol string, exchange models.Exchange, start, end time.Time) ([]models.Tick, error)
}

// SortBars orders bars by datetime, breaking ties by ascending vt symbol.
func SortBars(bars []models.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Datetime.Equal(bars[j].Datetime) {
			return bars[i].Datetime.Before(bars[j].Datetime)
		}
		return bars[i].VtSymbol() < bars[j].VtSymbol()
	})
}

// SortTicks orders ticks by datetime, breaking ties by ascending vt symbol.
func SortTicks(ticks []models.Tick) {
	sort.SliceStable(ticks, func(i, j int) bool {
		if !ticks[i].Datetime.Equal(ticks[j].Datetime) {
			return ticks[i].Datetime.Before(ticks[j].Datetime)
		}
		return ticks[i].VtSymbol() < ticks[j].VtSymbol()
	})
}

// MergeBars concatenates chunks and sorts the result into replay order.
func MergeBars(chunks ...[]models.Bar) []models.Bar {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]models.Bar, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	SortBars(out)
	return out
}

// MergeTicks concatenates chunks and sorts the result into replay order.
func MergeTicks(chunks ...[]models.Tick) []models.Tick {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]models.Tick, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	SortTicks(out)
	return out
}

// MemorySource serves history held in memory. It is used for pre-merged
// files and in tests.
type MemorySource struct {
	bars  map[string][]models.Bar
	ticks map[string][]models.Tick
}

// NewMemorySource groups bars and ticks by instrument.
func NewMemorySource(bars []models.Bar, ticks []models.Tick) *MemorySource {
	m := &MemorySource{
		bars:  make(map[string][]models.Bar),
		ticks: make(map[string][]models.Tick),
	}
	for _, b := range bars {
		m.bars[b.VtSymbol()] = append(m.bars[b.VtSymbol()], b)
	}
	for _, t := range ticks {
		m.ticks[t.VtSymbol()] = append(m.ticks[t.VtSymbol()], t)
	}
	for _, s := range m.bars {
		SortBars(s)
	}
	for _, s := range m.ticks {
		SortTicks(s)
	}
	return m
}

// LoadBars implements Source.
func (m *MemorySource) LoadBars(_ context.Context, symbol string, exchange models.Exchange, interval models.Interval, start, end time.Time) ([]models.Bar, error) {
	return filterBars(m.bars[models.VtSymbol(symbol, exchange)], interval, start, end), nil
}

// LoadTicks implements Source.
func (m *MemorySource) LoadTicks(_ context.Context, symbol string, exchange models.Exchange, start, end time.Time) ([]models.Tick, error) {
	return filterTicks(m.ticks[models.VtSymbol(symbol, exchange)], start, end), nil
}

func filterBars(bars []models.Bar, interval models.Interval, start, end time.Time) []models.Bar {
	var out []models.Bar
	for _, b := range bars {
		if interval != "" && b.Interval != "" && b.Interval != interval {
			continue
		}
		if b.Datetime.Before(start) || !b.Datetime.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func filterTicks(ticks []models.Tick, start, end time.Time) []models.Tick {
	var out []models.Tick
	for _, t := range ticks {
		if t.Datetime.Before(start) || !t.Datetime.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}
