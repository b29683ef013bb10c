package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"crypto-backtester/internal/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func generateTestBars(symbol string, count int, basePrice, baseVolume float64) []models.Bar {
	bars := make([]models.Bar, count)
	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01
		open := math.Round(basePrice*(1+variation)*100) / 100
		closePrice := math.Round(basePrice*(1+variation*0.5)*100) / 100
		bars[i] = models.Bar{
			Symbol:       symbol,
			Exchange:     models.ExchangeBinance,
			Interval:     models.IntervalMinute,
			Datetime:     day0.Add(time.Duration(i) * time.Minute),
			Open:         open,
			High:         math.Max(open, closePrice) + 1,
			Low:          math.Min(open, closePrice) - 1,
			Close:        closePrice,
			Volume:       baseVolume + float64(i),
			Turnover:     (baseVolume + float64(i)) * closePrice,
			OpenInterest: float64(i),
		}
	}
	return bars
}

// Property: saving bars and loading them over a covering range returns the
// same bars in time order.
func TestProperty_BarRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)
	store.SetBatchSize(7)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	run := 0

	properties.Property("Bar round-trip: save then load produces equivalent data", prop.ForAll(
		func(symbolIdx int, count int, basePrice, baseVolume float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s%d", symbols[symbolIdx%len(symbols)], run)

			bars := generateTestBars(symbol, count, basePrice, baseVolume)
			if err := store.SaveBars(ctx, bars); err != nil {
				t.Logf("Failed to save bars: %v", err)
				return false
			}

			end := bars[len(bars)-1].Datetime.Add(time.Minute)
			loaded, err := store.LoadBars(ctx, symbol, models.ExchangeBinance, models.IntervalMinute, bars[0].Datetime, end)
			if err != nil {
				t.Logf("Failed to load bars: %v", err)
				return false
			}

			if !reflect.DeepEqual(bars, loaded) {
				t.Logf("Loaded %d bars, saved %d", len(loaded), len(bars))
				return false
			}
			return true
		},
		gen.IntRange(0, 100),
		gen.IntRange(1, 30),
		gen.Float64Range(0.01, 100000.0),
		gen.Float64Range(0, 1000000.0),
	))

	properties.TestingRun(t)
}

// Property: loading a sub-range returns exactly the bars with
// start <= datetime < end.
func TestProperty_BarRangeIsHalfOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bars := generateTestBars("BTCUSDT", 60, 40000, 10)
	if err := store.SaveBars(ctx, bars); err != nil {
		t.Fatalf("Failed to save bars: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("range [start, end) selects the expected bars", prop.ForAll(
		func(from, length int) bool {
			start := day0.Add(time.Duration(from) * time.Minute)
			end := start.Add(time.Duration(length) * time.Minute)
			loaded, err := store.LoadBars(ctx, "BTCUSDT", models.ExchangeBinance, models.IntervalMinute, start, end)
			if err != nil {
				return false
			}

			want := 0
			for _, b := range bars {
				if !b.Datetime.Before(start) && b.Datetime.Before(end) {
					want++
				}
			}
			if len(loaded) != want {
				t.Logf("range %d+%d: loaded %d, want %d", from, length, len(loaded), want)
				return false
			}
			for i := 1; i < len(loaded); i++ {
				if !loaded[i-1].Datetime.Before(loaded[i].Datetime) {
					return false
				}
			}
			return true
		},
		gen.IntRange(-10, 70),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
