package datafeed

import (
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"crypto-backtester/internal/models"
)

var mergeSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

// shuffledChunks builds one chunk of hourly bars per symbol, all sharing the
// same timestamps, and shuffles each chunk.
func shuffledChunks(seed int64, count int) [][]models.Bar {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	chunks := make([][]models.Bar, 0, len(mergeSymbols))
	for _, sym := range mergeSymbols {
		chunk := make([]models.Bar, count)
		for i := range chunk {
			chunk[i] = models.Bar{
				Symbol:   sym,
				Exchange: models.ExchangeBinance,
				Interval: models.IntervalHour,
				Datetime: start.Add(time.Duration(rng.Intn(count)) * time.Hour),
				Close:    float64(i),
			}
		}
		rng.Shuffle(len(chunk), func(i, j int) { chunk[i], chunk[j] = chunk[j], chunk[i] })
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Property: merged bars are ordered by datetime then vt symbol, and none are
// lost.
func TestProperty_MergeBarsReplayOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Merged bars are in replay order", prop.ForAll(
		func(seed int64, count int) bool {
			chunks := shuffledChunks(seed, count)
			merged := MergeBars(chunks...)
			if len(merged) != count*len(mergeSymbols) {
				t.Logf("Merged %d bars, want %d", len(merged), count*len(mergeSymbols))
				return false
			}
			for i := 1; i < len(merged); i++ {
				prev, cur := merged[i-1], merged[i]
				if cur.Datetime.Before(prev.Datetime) {
					return false
				}
				if cur.Datetime.Equal(prev.Datetime) && cur.VtSymbol() < prev.VtSymbol() {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 50),
	))

	properties.Property("Equal keys keep their input order", prop.ForAll(
		func(seed int64, count int) bool {
			chunk := shuffledChunks(seed, count)[0]
			sorted := MergeBars(chunk)
			// Close records the original index within a chunk
			pos := make(map[float64]int, len(chunk))
			for i, b := range chunk {
				pos[b.Close] = i
			}
			for i := 1; i < len(sorted); i++ {
				if sorted[i].Datetime.Equal(sorted[i-1].Datetime) && pos[sorted[i].Close] < pos[sorted[i-1].Close] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
