package datafeed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// csvTime accepts the datetime layouts found in exchange dumps, or unix
// milliseconds.
type csvTime struct {
	time.Time
}

func (t *csvTime) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised datetime %q", s)
}

func (t csvTime) MarshalCSV() (string, error) {
	return t.UTC().Format("2006-01-02 15:04:05.999999999"), nil
}

type barRecord struct {
	Datetime     csvTime `csv:"datetime"`
	Symbol       string  `csv:"symbol"`
	Exchange     string  `csv:"exchange"`
	Interval     string  `csv:"interval"`
	Open         float64 `csv:"open"`
	High         float64 `csv:"high"`
	Low          float64 `csv:"low"`
	Close        float64 `csv:"close"`
	Volume       float64 `csv:"volume"`
	Turnover     float64 `csv:"turnover"`
	OpenInterest float64 `csv:"open_interest"`
}

type tickRecord struct {
	Datetime   csvTime `csv:"datetime"`
	Symbol     string  `csv:"symbol"`
	Exchange   string  `csv:"exchange"`
	LastPrice  float64 `csv:"last_price"`
	LastVolume float64 `csv:"last_volume"`
	Volume     float64 `csv:"volume"`
	BidPrice1  float64 `csv:"bid_price_1"`
	BidPrice2  float64 `csv:"bid_price_2"`
	BidPrice3  float64 `csv:"bid_price_3"`
	BidPrice4  float64 `csv:"bid_price_4"`
	BidPrice5  float64 `csv:"bid_price_5"`
	AskPrice1  float64 `csv:"ask_price_1"`
	AskPrice2  float64 `csv:"ask_price_2"`
	AskPrice3  float64 `csv:"ask_price_3"`
	AskPrice4  float64 `csv:"ask_price_4"`
	AskPrice5  float64 `csv:"ask_price_5"`
	BidVolume1 float64 `csv:"bid_volume_1"`
	BidVolume2 float64 `csv:"bid_volume_2"`
	BidVolume3 float64 `csv:"bid_volume_3"`
	BidVolume4 float64 `csv:"bid_volume_4"`
	BidVolume5 float64 `csv:"bid_volume_5"`
	AskVolume1 float64 `csv:"ask_volume_1"`
	AskVolume2 float64 `csv:"ask_volume_2"`
	AskVolume3 float64 `csv:"ask_volume_3"`
	AskVolume4 float64 `csv:"ask_volume_4"`
	AskVolume5 float64 `csv:"ask_volume_5"`
}

// Defaults fill columns a per-instrument file may omit.
type Defaults struct {
	Symbol   string
	Exchange models.Exchange
	Interval models.Interval
}

// ReadBars decodes a bar CSV with a header row.
func ReadBars(r io.Reader, defaults Defaults) ([]models.Bar, error) {
	var records []*barRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, apperrors.NewDataError("bar", defaults.Symbol, "decoding csv", err)
	}

	bars := make([]models.Bar, 0, len(records))
	for _, rec := range records {
		bar := models.Bar{
			Symbol:       rec.Symbol,
			Exchange:     models.Exchange(rec.Exchange),
			Interval:     models.Interval(rec.Interval),
			Datetime:     rec.Datetime.Time,
			Open:         rec.Open,
			High:         rec.High,
			Low:          rec.Low,
			Close:        rec.Close,
			Volume:       rec.Volume,
			Turnover:     rec.Turnover,
			OpenInterest: rec.OpenInterest,
		}
		if bar.Symbol == "" {
			bar.Symbol = defaults.Symbol
		}
		if bar.Exchange == "" {
			bar.Exchange = defaults.Exchange
		}
		if bar.Interval == "" {
			bar.Interval = defaults.Interval
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// WriteBars encodes bars as CSV with a header row.
func WriteBars(w io.Writer, bars []models.Bar) error {
	records := make([]*barRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, &barRecord{
			Datetime:     csvTime{b.Datetime},
			Symbol:       b.Symbol,
			Exchange:     string(b.Exchange),
			Interval:     string(b.Interval),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			Turnover:     b.Turnover,
			OpenInterest: b.OpenInterest,
		})
	}
	return gocsv.Marshal(&records, w)
}

// ReadTicks decodes a tick CSV with a header row.
func ReadTicks(r io.Reader, defaults Defaults) ([]models.Tick, error) {
	var records []*tickRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, apperrors.NewDataError("tick", defaults.Symbol, "decoding csv", err)
	}

	ticks := make([]models.Tick, 0, len(records))
	for _, rec := range records {
		tick := models.Tick{
			Symbol:     rec.Symbol,
			Exchange:   models.Exchange(rec.Exchange),
			Datetime:   rec.Datetime.Time,
			LastPrice:  rec.LastPrice,
			LastVolume: rec.LastVolume,
			Volume:     rec.Volume,
			BidPrices:  [5]float64{rec.BidPrice1, rec.BidPrice2, rec.BidPrice3, rec.BidPrice4, rec.BidPrice5},
			AskPrices:  [5]float64{rec.AskPrice1, rec.AskPrice2, rec.AskPrice3, rec.AskPrice4, rec.AskPrice5},
			BidVolumes: [5]float64{rec.BidVolume1, rec.BidVolume2, rec.BidVolume3, rec.BidVolume4, rec.BidVolume5},
			AskVolumes: [5]float64{rec.AskVolume1, rec.AskVolume2, rec.AskVolume3, rec.AskVolume4, rec.AskVolume5},
		}
		if tick.Symbol == "" {
			tick.Symbol = defaults.Symbol
		}
		if tick.Exchange == "" {
			tick.Exchange = defaults.Exchange
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// WriteTicks encodes ticks as CSV with a header row.
func WriteTicks(w io.Writer, ticks []models.Tick) error {
	records := make([]*tickRecord, 0, len(ticks))
	for _, t := range ticks {
		records = append(records, &tickRecord{
			Datetime:   csvTime{t.Datetime},
			Symbol:     t.Symbol,
			Exchange:   string(t.Exchange),
			LastPrice:  t.LastPrice,
			LastVolume: t.LastVolume,
			Volume:     t.Volume,
			BidPrice1:  t.BidPrices[0],
			BidPrice2:  t.BidPrices[1],
			BidPrice3:  t.BidPrices[2],
			BidPrice4:  t.BidPrices[3],
			BidPrice5:  t.BidPrices[4],
			AskPrice1:  t.AskPrices[0],
			AskPrice2:  t.AskPrices[1],
			AskPrice3:  t.AskPrices[2],
			AskPrice4:  t.AskPrices[3],
			AskPrice5:  t.AskPrices[4],
			BidVolume1: t.BidVolumes[0],
			BidVolume2: t.BidVolumes[1],
			BidVolume3: t.BidVolumes[2],
			BidVolume4: t.BidVolumes[3],
			BidVolume5: t.BidVolumes[4],
			AskVolume1: t.AskVolumes[0],
			AskVolume2: t.AskVolumes[1],
			AskVolume3: t.AskVolumes[2],
			AskVolume4: t.AskVolumes[3],
			AskVolume5: t.AskVolumes[4],
		})
	}
	return gocsv.Marshal(&records, w)
}

// CheckFormat rejects files that are not CSV by extension.
func CheckFormat(path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return apperrors.Wrapf(apperrors.ErrUnsupportedFormat, "%s", path)
	}
	return nil
}

// ReadBarsFile decodes a bar CSV file.
func ReadBarsFile(path string, defaults Defaults) ([]models.Bar, error) {
	if err := CheckFormat(path); err != nil {
		return nil, apperrors.NewDataError("bar", defaults.Symbol, "opening csv", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewDataError("bar", defaults.Symbol, "opening csv", err)
	}
	defer f.Close()
	return ReadBars(f, defaults)
}

// ReadTicksFile decodes a tick CSV file.
func ReadTicksFile(path string, defaults Defaults) ([]models.Tick, error) {
	if err := CheckFormat(path); err != nil {
		return nil, apperrors.NewDataError("tick", defaults.Symbol, "opening csv", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewDataError("tick", defaults.Symbol, "opening csv", err)
	}
	defer f.Close()
	return ReadTicks(f, defaults)
}

// CSVSource serves history from a directory holding one file per
// instrument and interval, named SYMBOL.EXCHANGE_INTERVAL.csv
// (SYMBOL.EXCHANGE_tick.csv for ticks). Files are read once and cached.
type CSVSource struct {
	dir string

	mu    sync.Mutex
	bars  map[string][]models.Bar
	ticks map[string][]models.Tick
}

// NewCSVSource creates a source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{
		dir:   dir,
		bars:  make(map[string][]models.Bar),
		ticks: make(map[string][]models.Tick),
	}
}

// BarFileName returns the file the source reads for an instrument.
func BarFileName(symbol string, exchange models.Exchange, interval models.Interval) string {
	return fmt.Sprintf("%s_%s.csv", models.VtSymbol(symbol, exchange), interval)
}

// LoadBars implements Source.
func (s *CSVSource) LoadBars(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval, start, end time.Time) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := BarFileName(symbol, exchange, interval)
	s.mu.Lock()
	defer s.mu.Unlock()

	bars, ok := s.bars[name]
	if !ok {
		var err error
		bars, err = ReadBarsFile(filepath.Join(s.dir, name), Defaults{Symbol: symbol, Exchange: exchange, Interval: interval})
		if err != nil {
			return nil, err
		}
		SortBars(bars)
		s.bars[name] = bars
	}
	return filterBars(bars, interval, start, end), nil
}

// LoadTicks implements Source.
func (s *CSVSource) LoadTicks(ctx context.Context, symbol string, exchange models.Exchange, start, end time.Time) ([]models.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := BarFileName(symbol, exchange, models.IntervalTick)
	s.mu.Lock()
	defer s.mu.Unlock()

	ticks, ok := s.ticks[name]
	if !ok {
		var err error
		ticks, err = ReadTicksFile(filepath.Join(s.dir, name), Defaults{Symbol: symbol, Exchange: exchange})
		if err != nil {
			return nil, err
		}
		SortTicks(ticks)
		s.ticks[name] = ticks
	}
	return filterTicks(ticks, start, end), nil
}
