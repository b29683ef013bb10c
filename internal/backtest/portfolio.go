// Package backtest provides the event-driven backtesting engine: per-symbol
// order crossing, multi-symbol orchestration, daily P&L and statistics.
package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"crypto-backtester/internal/datafeed"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/logging"
	"crypto-backtester/internal/models"
)

// DefaultLoadWindowDays is the paging window used by LoadData.
const DefaultLoadWindowDays = 30

// Parameters configures one backtest run.
type Parameters struct {
	Instruments []models.Instrument
	Interval    models.Interval
	Start       time.Time
	End         time.Time // exclusive
	Capital     float64
	Mode        models.Mode

	// IncludeIdleSymbols reports zero-valued daily rows for symbols that
	// never traded instead of dropping them from the portfolio result.
	IncludeIdleSymbols bool
	LoadWindowDays     int
}

// PortfolioBacktester drives one SymbolBacktester per instrument on a
// shared clock and merges their results.
type PortfolioBacktester struct {
	base     zerolog.Logger
	logger   zerolog.Logger
	params   Parameters
	strategy Strategy

	instruments map[string]models.Instrument
	vtSymbols   []string
	engines     map[string]*SymbolBacktester

	historyBars  []models.Bar
	historyTicks []models.Tick
	datetime     time.Time

	dailyRows []DailyRow
	progress  ProgressFunc
}

// NewPortfolioBacktester creates an empty portfolio engine.
func NewPortfolioBacktester(logger zerolog.Logger) *PortfolioBacktester {
	return &PortfolioBacktester{
		base:        logger,
		logger:      logger,
		instruments: make(map[string]models.Instrument),
		engines:     make(map[string]*SymbolBacktester),
	}
}

// SetParameters stores the run configuration. Invalid instruments are
// logged and skipped rather than aborting the run.
func (pb *PortfolioBacktester) SetParameters(params Parameters) {
	if params.Mode == "" {
		params.Mode = models.ModeBar
	}
	if params.LoadWindowDays <= 0 {
		params.LoadWindowDays = DefaultLoadWindowDays
	}
	pb.params = params

	pb.instruments = make(map[string]models.Instrument)
	pb.vtSymbols = pb.vtSymbols[:0]
	for _, inst := range params.Instruments {
		if err := ValidateInstrument(inst); err != nil {
			pb.logger.Warn().Err(err).Str("symbol", inst.VtSymbol()).Msg("Skipping instrument")
			continue
		}
		vt := inst.VtSymbol()
		if _, dup := pb.instruments[vt]; dup {
			pb.logger.Warn().Str("symbol", vt).Msg("Skipping duplicate instrument")
			continue
		}
		pb.instruments[vt] = inst
		pb.vtSymbols = append(pb.vtSymbols, vt)
	}
	sort.Strings(pb.vtSymbols)

	if pb.strategy != nil {
		pb.buildEngines()
	}
}

// ValidateInstrument checks the contract terms the simulator depends on.
func ValidateInstrument(inst models.Instrument) error {
	switch {
	case inst.Symbol == "":
		return invalidInstrument("symbol", inst.Symbol, "must not be empty")
	case inst.Size <= 0:
		return invalidInstrument("size", inst.Size, "must be positive")
	case inst.PriceTick < 0:
		return invalidInstrument("price_tick", inst.PriceTick, "must not be negative")
	case inst.Rate < 0:
		return invalidInstrument("rate", inst.Rate, "must not be negative")
	case inst.Slippage < 0:
		return invalidInstrument("slippage", inst.Slippage, "must not be negative")
	}
	return nil
}

func invalidInstrument(field string, value interface{}, reason string) error {
	return &apperrors.ConfigError{Field: field, Value: value, Reason: reason, Err: apperrors.ErrInvalidInstrument}
}

// Parameters returns the active run configuration.
func (pb *PortfolioBacktester) Parameters() Parameters { return pb.params }

// AddStrategy binds the strategy and creates one engine per instrument.
func (pb *PortfolioBacktester) AddStrategy(strategy Strategy) {
	pb.strategy = strategy
	pb.logger = logging.WithStrategy(pb.base, strategy.Name())
	pb.buildEngines()
}

func (pb *PortfolioBacktester) buildEngines() {
	pb.engines = make(map[string]*SymbolBacktester, len(pb.vtSymbols))
	for _, vt := range pb.vtSymbols {
		sb := NewSymbolBacktester(pb.instruments[vt], pb.params.Mode, pb.strategy, pb.logger)
		sb.includeIdle = pb.params.IncludeIdleSymbols
		pb.engines[vt] = sb
	}
}

// Engine returns the symbol engine for vtSymbol.
func (pb *PortfolioBacktester) Engine(vtSymbol string) (*SymbolBacktester, bool) {
	sb, ok := pb.engines[vtSymbol]
	return sb, ok
}

// VtSymbols returns the traded instruments in ascending order.
func (pb *PortfolioBacktester) VtSymbols() []string {
	out := make([]string, len(pb.vtSymbols))
	copy(out, pb.vtSymbols)
	return out
}

// ClearData resets every symbol engine and the merged result, keeping the
// loaded history.
func (pb *PortfolioBacktester) ClearData() {
	for _, sb := range pb.engines {
		sb.ClearData()
	}
	pb.datetime = time.Time{}
	pb.dailyRows = nil
}

// LoadData pages history for every instrument out of src in fixed windows
// over [Start, End), then sorts the merged sequence by (datetime, symbol).
func (pb *PortfolioBacktester) LoadData(ctx context.Context, src datafeed.Source) error {
	if !pb.params.Start.Before(pb.params.End) {
		pb.logger.Warn().
			Time("start", pb.params.Start).
			Time("end", pb.params.End).
			Msg("Start must be before end, no data loaded")
		return nil
	}

	window := time.Duration(pb.params.LoadWindowDays) * 24 * time.Hour
	var (
		barChunks  [][]models.Bar
		tickChunks [][]models.Tick
	)

	for _, vt := range pb.vtSymbols {
		inst := pb.instruments[vt]
		var count int

		for start := pb.params.Start; start.Before(pb.params.End); start = start.Add(window) {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := start.Add(window)
			if end.After(pb.params.End) {
				end = pb.params.End
			}

			if pb.params.Mode == models.ModeBar {
				bars, err := src.LoadBars(ctx, inst.Symbol, inst.Exchange, pb.params.Interval, start, end)
				if err != nil {
					return apperrors.NewDataError("bar", vt, "loading history", err)
				}
				barChunks = append(barChunks, bars)
				count += len(bars)
			} else {
				ticks, err := src.LoadTicks(ctx, inst.Symbol, inst.Exchange, start, end)
				if err != nil {
					return apperrors.NewDataError("tick", vt, "loading history", err)
				}
				tickChunks = append(tickChunks, ticks)
				count += len(ticks)
			}

			pb.logger.Debug().
				Str("symbol", vt).
				Time("window_start", start).
				Time("window_end", end).
				Int("loaded", count).
				Msg("Loading history")
		}

		pb.logger.Info().Str("symbol", vt).Int("count", count).Msg("History loaded")
	}

	pb.historyBars = datafeed.MergeBars(barChunks...)
	pb.historyTicks = datafeed.MergeTicks(tickChunks...)
	return nil
}

// SetHistoryBars replaces the replay sequence with a pre-merged bar series.
func (pb *PortfolioBacktester) SetHistoryBars(bars []models.Bar) {
	pb.historyBars = make([]models.Bar, len(bars))
	copy(pb.historyBars, bars)
	datafeed.SortBars(pb.historyBars)
}

// SetHistoryTicks replaces the replay sequence with a pre-merged tick series.
func (pb *PortfolioBacktester) SetHistoryTicks(ticks []models.Tick) {
	pb.historyTicks = make([]models.Tick, len(ticks))
	copy(pb.historyTicks, ticks)
	datafeed.SortTicks(pb.historyTicks)
}

// HistoryLen returns the number of items queued for replay in the current mode.
func (pb *PortfolioBacktester) HistoryLen() int {
	if pb.params.Mode == models.ModeTick {
		return len(pb.historyTicks)
	}
	return len(pb.historyBars)
}

// RunBacktesting initialises and starts the strategy, replays the sorted
// history through the symbol engines and stops the strategy.
func (pb *PortfolioBacktester) RunBacktesting() error {
	if pb.strategy == nil {
		return apperrors.ErrStrategyNotAdded
	}
	if pb.HistoryLen() == 0 {
		pb.logger.Warn().Msg("No history data to replay")
	}

	pb.strategy.OnInit()
	pb.strategy.SetInited(true)
	pb.logger.Info().Msg("Strategy initialised")

	pb.strategy.OnStart()
	pb.strategy.SetTrading(true)
	pb.logger.Info().Msg("Replay started")

	if pb.params.Mode == models.ModeTick {
		for _, tick := range pb.historyTicks {
			pb.newTick(tick)
		}
	} else {
		for _, bar := range pb.historyBars {
			pb.newBar(bar)
		}
	}

	pb.strategy.OnStop()
	pb.strategy.SetTrading(false)
	pb.logger.Info().Int("items", pb.HistoryLen()).Msg("Replay finished")
	return nil
}

func (pb *PortfolioBacktester) newBar(bar models.Bar) {
	pb.datetime = bar.Datetime
	sb, ok := pb.engines[bar.VtSymbol()]
	if !ok {
		pb.logger.Warn().Err(apperrors.ErrSymbolNotFound).Str("symbol", bar.VtSymbol()).Msg("Bar for unregistered symbol ignored")
		return
	}
	sb.NewBar(bar)
}

func (pb *PortfolioBacktester) newTick(tick models.Tick) {
	pb.datetime = tick.Datetime
	sb, ok := pb.engines[tick.VtSymbol()]
	if !ok {
		pb.logger.Warn().Err(apperrors.ErrSymbolNotFound).Str("symbol", tick.VtSymbol()).Msg("Tick for unregistered symbol ignored")
		return
	}
	sb.NewTick(tick)
}

// CalculateResult settles every symbol and sums the per-day columns aligned
// by date. Symbols without trades contribute nothing unless idle symbols are
// included. Returns nil when no symbol produced rows.
func (pb *PortfolioBacktester) CalculateResult() []DailyRow {
	merged := make(map[string]*DailyRow)

	for _, vt := range pb.vtSymbols {
		sb, ok := pb.engines[vt]
		if !ok {
			continue
		}
		for _, row := range sb.CalculateResult() {
			key := row.DateKey()
			if m, ok := merged[key]; ok {
				m.add(row)
				continue
			}
			r := DailyRow{Date: row.Date}
			r.add(row)
			merged[key] = &r
		}
	}

	if len(merged) == 0 {
		pb.dailyRows = nil
		return nil
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]DailyRow, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, *merged[key])
	}
	pb.dailyRows = rows

	out := make([]DailyRow, len(rows))
	copy(out, rows)
	return out
}

// Trades returns the fills of every symbol ordered by time, then symbol.
func (pb *PortfolioBacktester) Trades() []models.Trade {
	var trades []models.Trade
	for _, vt := range pb.vtSymbols {
		if sb, ok := pb.engines[vt]; ok {
			trades = append(trades, sb.Trades()...)
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Datetime.Equal(trades[j].Datetime) {
			return trades[i].Datetime.Before(trades[j].Datetime)
		}
		return trades[i].VtSymbol() < trades[j].VtSymbol()
	})
	return trades
}

// SendOrder routes an order to the engine of vtSymbol.
func (pb *PortfolioBacktester) SendOrder(vtSymbol string, direction models.Direction, offset models.Offset, price, volume float64, stop bool) (models.OrderHandle, bool) {
	sb, ok := pb.engines[vtSymbol]
	if !ok {
		pb.logger.Warn().Err(apperrors.ErrSymbolNotFound).Str("symbol", vtSymbol).Msg("Order for unregistered symbol ignored")
		return models.OrderHandle{}, false
	}
	return sb.SendOrder(direction, offset, price, volume, stop), true
}

// CancelOrder routes a cancel to the engine the handle belongs to.
func (pb *PortfolioBacktester) CancelOrder(handle models.OrderHandle) {
	sb, ok := pb.engines[handle.VtSymbol]
	if !ok {
		pb.logger.Warn().Err(apperrors.ErrSymbolNotFound).Str("handle", handle.String()).Msg("Cancel for unregistered symbol ignored")
		return
	}
	sb.CancelOrder(handle)
}

// CancelAll cancels every active order on vtSymbol.
func (pb *PortfolioBacktester) CancelAll(vtSymbol string) {
	if sb, ok := pb.engines[vtSymbol]; ok {
		sb.CancelAll()
	}
}

// Pos returns the net position on vtSymbol.
func (pb *PortfolioBacktester) Pos(vtSymbol string) float64 {
	if sb, ok := pb.engines[vtSymbol]; ok {
		return sb.Pos()
	}
	return 0
}

// PriceTick returns the tick size of vtSymbol.
func (pb *PortfolioBacktester) PriceTick(vtSymbol string) float64 {
	return pb.instruments[vtSymbol].PriceTick
}

// Datetime returns the global replay clock.
func (pb *PortfolioBacktester) Datetime() time.Time { return pb.datetime }

// Logger returns the engine logger.
func (pb *PortfolioBacktester) Logger() zerolog.Logger { return pb.logger }
