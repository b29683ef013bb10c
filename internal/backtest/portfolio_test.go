package backtest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-backtester/internal/datafeed"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
)

func newPortfolio(t *testing.T, symbols ...string) (*PortfolioBacktester, *recorder) {
	t.Helper()

	pb := NewPortfolioBacktester(zerolog.Nop())
	params := Parameters{
		Interval: models.IntervalHour,
		Start:    day0,
		End:      day0.Add(72 * time.Hour),
		Capital:  10000,
		Mode:     models.ModeBar,
	}
	for _, s := range symbols {
		params.Instruments = append(params.Instruments, testInstrument(s))
	}
	pb.SetParameters(params)

	rec := newRecorder(pb)
	pb.AddStrategy(rec)
	return pb, rec
}

func hourlyBars(symbol string, start time.Time, hours int, price float64) []models.Bar {
	bars := make([]models.Bar, 0, hours)
	for i := 0; i < hours; i++ {
		b := testBar(symbol, start.Add(time.Duration(i)*time.Hour), price, price+1, price-1, price)
		b.Interval = models.IntervalHour
		bars = append(bars, b)
	}
	return bars
}

type countingSource struct {
	datafeed.Source
	calls int
	err   error
}

func (c *countingSource) LoadBars(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval, start, end time.Time) ([]models.Bar, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.Source.LoadBars(ctx, symbol, exchange, interval, start, end)
}

func TestPortfolioBacktester_Lifecycle(t *testing.T) {
	pb, rec := newPortfolio(t, "BTCUSDT")
	pb.SetHistoryBars(hourlyBars("BTCUSDT", day0, 2, 100))

	require.NoError(t, pb.RunBacktesting())

	assert.Equal(t, []string{"init", "start", "bar:BTCUSDT.BINANCE", "bar:BTCUSDT.BINANCE", "stop"}, rec.events)
	assert.True(t, rec.Inited())
	assert.False(t, rec.Trading())
	assert.Equal(t, day0.Add(time.Hour), pb.Datetime())
}

func TestPortfolioBacktester_RunWithoutStrategy(t *testing.T) {
	pb := NewPortfolioBacktester(zerolog.Nop())
	err := pb.RunBacktesting()
	assert.ErrorIs(t, err, apperrors.ErrStrategyNotAdded)
}

func TestPortfolioBacktester_ResultsWithoutStrategy(t *testing.T) {
	pb := NewPortfolioBacktester(zerolog.Nop())
	pb.SetParameters(Parameters{
		Instruments: []models.Instrument{testInstrument("BTCUSDT"), testInstrument("ETHUSDT")},
		Interval:    models.IntervalHour,
		Start:       day0,
		End:         day0.Add(24 * time.Hour),
		Capital:     10000,
	})
	pb.SetHistoryBars(hourlyBars("BTCUSDT", day0, 3, 100))

	require.NotPanics(t, func() {
		assert.Nil(t, pb.CalculateResult())
		assert.Empty(t, pb.Trades())
		assert.Zero(t, pb.Pos("BTCUSDT.BINANCE"))
		pb.CancelAll("BTCUSDT.BINANCE")
		pb.ClearData()
	})

	stats, curve := pb.CalculateStatistics(nil, false)
	assert.Empty(t, curve)
	assert.Equal(t, 0, stats.TotalDays)
	assert.Equal(t, 10000.0, stats.Capital)
}

func TestPortfolioBacktester_ResultsBeforeRun(t *testing.T) {
	pb, rec := newPortfolio(t, "BTCUSDT")
	pb.SetHistoryBars(hourlyBars("BTCUSDT", day0, 3, 100))

	require.NotPanics(t, func() {
		assert.Nil(t, pb.CalculateResult())
		assert.Empty(t, pb.Trades())
	})
	stats, _ := pb.CalculateStatistics(nil, false)
	assert.Equal(t, 0, stats.TotalDays)
	assert.Empty(t, rec.events)
}

func TestPortfolioBacktester_AddStrategyTwiceTagsLoggerOnce(t *testing.T) {
	var buf bytes.Buffer
	pb := NewPortfolioBacktester(zerolog.New(&buf))
	pb.AddStrategy(newRecorder(pb))
	pb.AddStrategy(newRecorder(pb))

	logger := pb.Logger()
	logger.Info().Msg("check")
	assert.Equal(t, 1, strings.Count(buf.String(), `"strategy":"recorder"`), buf.String())
}

func TestPortfolioBacktester_TieBreakBySymbol(t *testing.T) {
	pb, rec := newPortfolio(t, "ETHUSDT", "BTCUSDT")
	pb.SetHistoryBars([]models.Bar{
		testBar("ETHUSDT", day0, 10, 11, 9, 10),
		testBar("BTCUSDT", day0, 100, 101, 99, 100),
	})

	require.NoError(t, pb.RunBacktesting())
	assert.Equal(t, []string{"init", "start", "bar:BTCUSDT.BINANCE", "bar:ETHUSDT.BINANCE", "stop"}, rec.events)
	assert.Equal(t, []string{"BTCUSDT.BINANCE", "ETHUSDT.BINANCE"}, pb.VtSymbols())
}

func TestPortfolioBacktester_UnknownSymbolIgnored(t *testing.T) {
	pb, rec := newPortfolio(t, "BTCUSDT")
	pb.SetHistoryBars([]models.Bar{
		testBar("BTCUSDT", day0, 100, 101, 99, 100),
		testBar("DOGEUSDT", day0.Add(time.Minute), 1, 1, 1, 1),
	})

	require.NoError(t, pb.RunBacktesting())
	assert.Equal(t, []string{"init", "start", "bar:BTCUSDT.BINANCE", "stop"}, rec.events)

	handle, ok := pb.SendOrder("DOGEUSDT.BINANCE", models.DirectionLong, models.OffsetOpen, 1, 1, false)
	assert.False(t, ok)
	assert.True(t, handle.IsZero())
	assert.Equal(t, 0.0, pb.Pos("DOGEUSDT.BINANCE"))
	pb.CancelOrder(models.OrderHandle{Kind: models.KindLimit, VtSymbol: "DOGEUSDT.BINANCE", ID: 1})
	pb.CancelAll("DOGEUSDT.BINANCE")
}

func TestPortfolioBacktester_InvalidInstrumentsSkipped(t *testing.T) {
	pb := NewPortfolioBacktester(zerolog.Nop())
	bad := testInstrument("BADUSDT")
	bad.Size = 0
	negTick := testInstrument("NEGUSDT")
	negTick.PriceTick = -1

	pb.SetParameters(Parameters{
		Instruments: []models.Instrument{testInstrument("BTCUSDT"), bad, negTick, testInstrument("BTCUSDT")},
		Capital:     1000,
	})

	assert.Equal(t, []string{"BTCUSDT.BINANCE"}, pb.VtSymbols())
	assert.Equal(t, models.ModeBar, pb.Parameters().Mode)
	assert.Equal(t, DefaultLoadWindowDays, pb.Parameters().LoadWindowDays)
}

func TestPortfolioBacktester_UnknownSymbolLogsNotFound(t *testing.T) {
	var buf bytes.Buffer
	pb := NewPortfolioBacktester(zerolog.New(&buf))
	pb.SetParameters(Parameters{
		Instruments: []models.Instrument{testInstrument("BTCUSDT")},
		Interval:    models.IntervalMinute,
		Start:       day0,
		End:         day0.Add(time.Hour),
		Capital:     1000,
	})
	pb.AddStrategy(newRecorder(pb))
	pb.SetHistoryBars([]models.Bar{testBar("DOGEUSDT", day0, 1, 1, 1, 1)})

	require.NoError(t, pb.RunBacktesting())
	assert.Contains(t, buf.String(), "Bar for unregistered symbol ignored")
	assert.Contains(t, buf.String(), apperrors.ErrSymbolNotFound.Error())
}

func TestValidateInstrument(t *testing.T) {
	assert.NoError(t, ValidateInstrument(testInstrument("BTCUSDT")))

	inst := testInstrument("")
	assert.ErrorIs(t, ValidateInstrument(inst), apperrors.ErrConfigInvalid)
	assert.ErrorIs(t, ValidateInstrument(inst), apperrors.ErrInvalidInstrument)

	inst = testInstrument("BTCUSDT")
	inst.Rate = -0.1
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, ValidateInstrument(inst), &cfgErr)
	assert.Equal(t, "rate", cfgErr.Field)
}

func TestPortfolioBacktester_LoadDataPagesWindows(t *testing.T) {
	pb, _ := newPortfolio(t, "BTCUSDT", "ETHUSDT")
	params := pb.Parameters()
	params.LoadWindowDays = 1
	pb.SetParameters(params)

	var bars []models.Bar
	bars = append(bars, hourlyBars("ETHUSDT", day0, 80, 10)...)
	bars = append(bars, hourlyBars("BTCUSDT", day0, 80, 100)...)
	src := &countingSource{Source: datafeed.NewMemorySource(bars, nil)}

	require.NoError(t, pb.LoadData(context.Background(), src))

	assert.Equal(t, 6, src.calls, "three one-day windows per symbol")
	assert.Equal(t, 144, pb.HistoryLen(), "the end bound is exclusive")
	assert.Equal(t, "BTCUSDT.BINANCE", pb.historyBars[0].VtSymbol())
	assert.Equal(t, "ETHUSDT.BINANCE", pb.historyBars[1].VtSymbol())
	for i := 1; i < len(pb.historyBars); i++ {
		assert.False(t, pb.historyBars[i].Datetime.Before(pb.historyBars[i-1].Datetime))
	}
}

func TestPortfolioBacktester_LoadDataEmptyRange(t *testing.T) {
	pb, _ := newPortfolio(t, "BTCUSDT")
	params := pb.Parameters()
	params.End = params.Start
	pb.SetParameters(params)

	src := &countingSource{Source: datafeed.NewMemorySource(hourlyBars("BTCUSDT", day0, 5, 100), nil)}
	require.NoError(t, pb.LoadData(context.Background(), src))
	assert.Equal(t, 0, src.calls)
	assert.Equal(t, 0, pb.HistoryLen())
}

func TestPortfolioBacktester_LoadDataSourceError(t *testing.T) {
	pb, _ := newPortfolio(t, "BTCUSDT")
	boom := errors.New("disk on fire")
	src := &countingSource{Source: datafeed.NewMemorySource(nil, nil), err: boom}

	err := pb.LoadData(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var dataErr *apperrors.DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, "BTCUSDT.BINANCE", dataErr.Symbol)
}

func TestPortfolioBacktester_LoadDataCancelled(t *testing.T) {
	pb, _ := newPortfolio(t, "BTCUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pb.LoadData(ctx, datafeed.NewMemorySource(nil, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPortfolioBacktester_TemplateGatedOnTrading(t *testing.T) {
	pb, rec := newPortfolio(t, "BTCUSDT")

	_, ok := rec.Buy("BTCUSDT.BINANCE", 100, 1, false)
	assert.False(t, ok, "orders are refused before the replay starts")

	var handles []models.OrderHandle
	rec.onBar = func(bar models.Bar) {
		if len(handles) == 0 {
			h, ok := rec.Buy(bar.VtSymbol(), bar.Close, 1, false)
			require.True(t, ok)
			handles = append(handles, h)
		}
	}
	pb.SetHistoryBars(hourlyBars("BTCUSDT", day0, 3, 100))
	require.NoError(t, pb.RunBacktesting())

	require.Len(t, handles, 1)
	assert.Equal(t, models.KindLimit, handles[0].Kind)
	assert.Len(t, pb.Trades(), 1)
	assert.Equal(t, 1.0, rec.Pos("BTCUSDT.BINANCE"))
	assert.Equal(t, 0.01, pb.PriceTick("BTCUSDT.BINANCE"))
}

func TestPortfolioBacktester_MergesByDate(t *testing.T) {
	pb, rec := newPortfolio(t, "BTCUSDT", "ETHUSDT")

	bought := map[string]bool{}
	rec.onBar = func(bar models.Bar) {
		vt := bar.VtSymbol()
		if bought[vt] {
			return
		}
		// BTC trades on day one, ETH on day two
		if vt == "ETHUSDT.BINANCE" && bar.Datetime.Before(day0.Add(24*time.Hour)) {
			return
		}
		rec.Buy(vt, bar.Close+1, 1, false)
		bought[vt] = true
	}

	var bars []models.Bar
	bars = append(bars, hourlyBars("BTCUSDT", day0, 48, 100)...)
	bars = append(bars, hourlyBars("ETHUSDT", day0, 48, 10)...)
	pb.SetHistoryBars(bars)
	require.NoError(t, pb.RunBacktesting())

	btc, _ := pb.Engine("BTCUSDT.BINANCE")
	eth, _ := pb.Engine("ETHUSDT.BINANCE")
	btcRows := btc.CalculateResult()
	ethRows := eth.CalculateResult()
	require.Len(t, btcRows, 2)
	require.Len(t, ethRows, 2)

	rows := pb.CalculateResult()
	require.Len(t, rows, 2)
	for i := range rows {
		assert.Equal(t, btcRows[i].DateKey(), rows[i].DateKey())
		assert.Equal(t, 0.0, rows[i].ClosePrice)
		assert.Equal(t, btcRows[i].TradeCount+ethRows[i].TradeCount, rows[i].TradeCount)
		assert.InDelta(t, btcRows[i].NetPnL+ethRows[i].NetPnL, rows[i].NetPnL, 1e-9)
		assert.InDelta(t, btcRows[i].EndPos+ethRows[i].EndPos, rows[i].EndPos, 1e-9)
	}

	trades := pb.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)
	assert.Equal(t, "ETHUSDT", trades[1].Symbol)
}

func TestPortfolioBacktester_IdleSymbols(t *testing.T) {
	run := func(includeIdle bool) []DailyRow {
		pb, rec := newPortfolio(t, "BTCUSDT", "ETHUSDT")
		params := pb.Parameters()
		params.IncludeIdleSymbols = includeIdle
		pb.SetParameters(params)

		rec.onBar = func(bar models.Bar) {
			if bar.Symbol == "BTCUSDT" && pb.Pos(bar.VtSymbol()) == 0 && len(pb.Trades()) == 0 {
				rec.Buy(bar.VtSymbol(), bar.Close+1, 1, false)
			}
		}
		var bars []models.Bar
		bars = append(bars, hourlyBars("BTCUSDT", day0, 12, 100)...)
		bars = append(bars, hourlyBars("ETHUSDT", day0.Add(48*time.Hour), 12, 10)...)
		pb.SetHistoryBars(bars)
		require.NoError(t, pb.RunBacktesting())
		return pb.CalculateResult()
	}

	assert.Len(t, run(false), 1, "idle symbol days are dropped")
	assert.Len(t, run(true), 2, "idle symbol days are reported")
}

func TestPortfolioBacktester_NoTradesNoResult(t *testing.T) {
	pb, _ := newPortfolio(t, "BTCUSDT")
	pb.SetHistoryBars(hourlyBars("BTCUSDT", day0, 5, 100))
	require.NoError(t, pb.RunBacktesting())

	assert.Nil(t, pb.CalculateResult())
	stats, curve := pb.CalculateStatistics(nil, false)
	assert.Empty(t, curve)
	assert.Equal(t, "", stats.StartDate)
	assert.Equal(t, 0.0, stats.SharpeRatio)
}

func TestPortfolioBacktester_ClearDataAllowsRerun(t *testing.T) {
	pb, rec := newPortfolio(t, "BTCUSDT")
	rec.onBar = func(bar models.Bar) {
		if pb.Pos(bar.VtSymbol()) == 0 {
			rec.Buy(bar.VtSymbol(), bar.Close+1, 1, false)
		}
	}
	pb.SetHistoryBars(hourlyBars("BTCUSDT", day0, 30, 100))

	require.NoError(t, pb.RunBacktesting())
	first := pb.CalculateResult()
	firstTrades := pb.Trades()

	pb.ClearData()
	require.NoError(t, pb.RunBacktesting())
	assert.Equal(t, first, pb.CalculateResult())
	assert.Equal(t, firstTrades, pb.Trades())
}
