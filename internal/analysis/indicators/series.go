package indicators

import "crypto-backtester/internal/models"

// Series keeps the most recent bars of one instrument for incremental
// strategies. The indicator helpers return the latest value only, and zero
// until enough bars have arrived.
type Series struct {
	size  int
	count int
	bars  []models.Bar
}

// NewSeries creates a series retaining up to size bars.
func NewSeries(size int) *Series {
	if size < 1 {
		size = 1
	}
	return &Series{size: size, bars: make([]models.Bar, 0, size)}
}

// Update appends a bar, dropping the oldest once the series is full.
func (s *Series) Update(bar models.Bar) {
	s.count++
	if len(s.bars) == s.size {
		copy(s.bars, s.bars[1:])
		s.bars[len(s.bars)-1] = bar
		return
	}
	s.bars = append(s.bars, bar)
}

// Inited reports whether the series holds a full window.
func (s *Series) Inited() bool { return s.count >= s.size }

// Count returns the number of bars seen.
func (s *Series) Count() int { return s.count }

// Last returns the newest bar.
func (s *Series) Last() models.Bar {
	if len(s.bars) == 0 {
		return models.Bar{}
	}
	return s.bars[len(s.bars)-1]
}

// SMA returns the latest simple moving average of closes.
func (s *Series) SMA(period int) float64 {
	return last(NewSMA(period).Calculate(s.bars))
}

// EMA returns the latest exponential moving average of closes. It is seeded
// from the retained window, so a longer series tracks the full-history EMA
// more closely.
func (s *Series) EMA(period int) float64 {
	return last(NewEMA(period).Calculate(s.bars))
}

// ATR returns the latest average true range.
func (s *Series) ATR(period int) float64 {
	return last(NewATR(period).Calculate(s.bars))
}

// Channel returns the latest Donchian channel over the last period bars.
func (s *Series) Channel(period int) (upper, lower float64) {
	channel, err := NewDonchian(period).Calculate(s.bars)
	if err != nil {
		return 0, 0
	}
	return last(channel["upper"], nil), last(channel["lower"], nil)
}

// Highest returns the highest high of the last period bars.
func (s *Series) Highest(period int) float64 {
	upper, _ := s.Channel(period)
	return upper
}

// Lowest returns the lowest low of the last period bars.
func (s *Series) Lowest(period int) float64 {
	_, lower := s.Channel(period)
	return lower
}

func last(values []float64, err error) float64 {
	if err != nil || len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
