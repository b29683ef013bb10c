package backtest

import (
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/logging"
	"crypto-backtester/internal/models"
)

// SymbolBacktester simulates fills for one instrument against one
// historical stream. It is owned by a PortfolioBacktester and is not safe
// for concurrent use.
type SymbolBacktester struct {
	instrument models.Instrument
	vtSymbol   string
	mode       models.Mode
	strategy   Strategy
	logger     zerolog.Logger

	bar      models.Bar
	tick     models.Tick
	datetime time.Time
	pos      float64

	stopOrderCount int
	stopOrders     map[int]*models.StopOrder
	activeStops    map[int]*models.StopOrder

	limitOrderCount int
	limitOrders     map[int]*models.Order
	activeLimits    map[int]*models.Order

	tradeCount int
	trades     []models.Trade

	dailyResults map[string]*DailyResult
	includeIdle  bool
}

// NewSymbolBacktester creates the engine for one instrument.
func NewSymbolBacktester(instrument models.Instrument, mode models.Mode, strategy Strategy, logger zerolog.Logger) *SymbolBacktester {
	sb := &SymbolBacktester{
		instrument: instrument,
		vtSymbol:   instrument.VtSymbol(),
		mode:       mode,
		strategy:   strategy,
		logger:     logging.WithSymbol(logger, instrument.VtSymbol()),
	}
	sb.ClearData()
	return sb
}

// ClearData drops all orders, trades and daily results.
func (sb *SymbolBacktester) ClearData() {
	sb.bar = models.Bar{}
	sb.tick = models.Tick{}
	sb.datetime = time.Time{}
	sb.pos = 0

	sb.stopOrderCount = 0
	sb.stopOrders = make(map[int]*models.StopOrder)
	sb.activeStops = make(map[int]*models.StopOrder)

	sb.limitOrderCount = 0
	sb.limitOrders = make(map[int]*models.Order)
	sb.activeLimits = make(map[int]*models.Order)

	sb.tradeCount = 0
	sb.trades = nil

	sb.dailyResults = make(map[string]*DailyResult)
}

// Instrument returns the contract terms of the engine.
func (sb *SymbolBacktester) Instrument() models.Instrument { return sb.instrument }

// VtSymbol returns the engine key.
func (sb *SymbolBacktester) VtSymbol() string { return sb.vtSymbol }

// Pos returns the net position.
func (sb *SymbolBacktester) Pos() float64 { return sb.pos }

// Datetime returns the timestamp of the last processed bar or tick.
func (sb *SymbolBacktester) Datetime() time.Time { return sb.datetime }

// NewBar processes one bar: limit crossing, stop crossing, strategy
// callback, day close bookkeeping.
func (sb *SymbolBacktester) NewBar(bar models.Bar) {
	sb.bar = bar
	sb.datetime = bar.Datetime

	sb.crossLimitOrders()
	sb.crossStopOrders()
	sb.strategy.OnBar(bar)

	sb.updateDailyClose(bar.Close)
}

// NewTick processes one tick in the same order as NewBar.
func (sb *SymbolBacktester) NewTick(tick models.Tick) {
	sb.tick = tick
	sb.datetime = tick.Datetime

	sb.crossLimitOrders()
	sb.crossStopOrders()
	sb.strategy.OnTick(tick)

	sb.updateDailyClose(tick.LastPrice)
}

func (sb *SymbolBacktester) updateDailyClose(price float64) {
	date := models.DateOf(sb.datetime)
	key := date.Format("2006-01-02")

	if d, ok := sb.dailyResults[key]; ok {
		d.ClosePrice = price
		return
	}
	sb.dailyResults[key] = NewDailyResult(date, price)
}

// crossLimitOrders fills resting limit orders the current bar or tick
// trades through.
func (sb *SymbolBacktester) crossLimitOrders() {
	var longCross, shortCross, longBest, shortBest float64
	if sb.mode == models.ModeBar {
		longCross = sb.bar.Low
		shortCross = sb.bar.High
		longBest = sb.bar.Open
		shortBest = sb.bar.Open
	} else {
		longCross = sb.tick.AskPrices[0]
		shortCross = sb.tick.BidPrices[0]
		longBest = longCross
		shortBest = shortCross
	}

	for _, id := range sortedIDs(sb.activeLimits) {
		order, ok := sb.activeLimits[id]
		if !ok {
			// cancelled by a callback earlier in this pass
			continue
		}

		unacknowledged := order.Status == models.StatusSubmitting
		if unacknowledged {
			order.Status = models.StatusNotTraded
			sb.pushOrder(*order)
			if _, ok := sb.activeLimits[id]; !ok {
				continue
			}
		}

		isLongCross := order.Direction == models.DirectionLong &&
			order.Price >= longCross && longCross > 0
		isShortCross := order.Direction == models.DirectionShort &&
			order.Price <= shortCross && shortCross > 0
		if !isLongCross && !isShortCross {
			continue
		}

		order.Traded = order.Volume
		order.Status = models.StatusAllTraded
		delete(sb.activeLimits, id)
		sb.pushOrder(*order)

		tradePrice := order.Price
		if unacknowledged {
			if isLongCross {
				tradePrice = min(order.Price, longBest)
			} else {
				tradePrice = max(order.Price, shortBest)
			}
		}

		trade := sb.newTrade(*order, tradePrice)
		sb.pos += trade.SignedVolume()
		sb.pushTrade(trade)
	}
}

// crossStopOrders triggers waiting stop orders and fills them immediately.
func (sb *SymbolBacktester) crossStopOrders() {
	var longCross, shortCross, longBest, shortBest float64
	if sb.mode == models.ModeBar {
		longCross = sb.bar.High
		shortCross = sb.bar.Low
		longBest = sb.bar.Open
		shortBest = sb.bar.Open
	} else {
		longCross = sb.tick.LastPrice
		shortCross = sb.tick.LastPrice
		longBest = longCross
		shortBest = shortCross
	}

	for _, id := range sortedIDs(sb.activeStops) {
		stop, ok := sb.activeStops[id]
		if !ok {
			continue
		}

		isLongCross := stop.Direction == models.DirectionLong && stop.Price <= longCross
		isShortCross := stop.Direction == models.DirectionShort && stop.Price >= shortCross
		if !isLongCross && !isShortCross {
			continue
		}

		sb.limitOrderCount++
		orderID := strconv.Itoa(sb.limitOrderCount)
		order := &models.Order{
			Symbol:    sb.instrument.Symbol,
			Exchange:  sb.instrument.Exchange,
			OrderID:   orderID,
			Direction: stop.Direction,
			Offset:    stop.Offset,
			Price:     stop.Price,
			Volume:    stop.Volume,
			Traded:    stop.Volume,
			Status:    models.StatusAllTraded,
			Datetime:  sb.datetime,
		}
		sb.limitOrders[sb.limitOrderCount] = order

		var tradePrice float64
		if isLongCross {
			tradePrice = max(stop.Price, longBest)
		} else {
			tradePrice = min(stop.Price, shortBest)
		}
		trade := sb.newTrade(*order, tradePrice)

		stop.OrderIDs = append(stop.OrderIDs, orderID)
		stop.Status = models.StopOrderTriggered
		delete(sb.activeStops, id)

		sb.pushStopOrder(*stop)
		sb.pushOrder(*order)
		sb.pos += trade.SignedVolume()
		sb.pushTrade(trade)
	}
}

func (sb *SymbolBacktester) newTrade(order models.Order, price float64) models.Trade {
	sb.tradeCount++
	trade := models.Trade{
		Symbol:    order.Symbol,
		Exchange:  order.Exchange,
		OrderID:   order.OrderID,
		TradeID:   strconv.Itoa(sb.tradeCount),
		Direction: order.Direction,
		Offset:    order.Offset,
		Price:     price,
		Volume:    order.Volume,
		Datetime:  sb.datetime,
	}
	sb.trades = append(sb.trades, trade)
	return trade
}

func (sb *SymbolBacktester) pushOrder(order models.Order) {
	logging.LogOrder(sb.logger, order)
	sb.strategy.OnOrder(order)
}

func (sb *SymbolBacktester) pushStopOrder(stop models.StopOrder) {
	logging.LogStopOrder(sb.logger, stop)
	sb.strategy.OnStopOrder(stop.Clone())
}

func (sb *SymbolBacktester) pushTrade(trade models.Trade) {
	logging.LogTrade(sb.logger, trade)
	sb.strategy.OnTrade(trade)
}

// SendOrder rounds price to the tick and registers a limit or stop order.
// Price and volume are not validated; a malformed order never crosses.
func (sb *SymbolBacktester) SendOrder(direction models.Direction, offset models.Offset, price, volume float64, stop bool) models.OrderHandle {
	if stop {
		s := sb.SendStopOrder(direction, offset, price, volume)
		id, _ := strconv.Atoi(s.StopOrderID)
		return models.OrderHandle{Kind: models.KindStop, VtSymbol: sb.vtSymbol, ID: id}
	}
	o := sb.SendLimitOrder(direction, offset, price, volume)
	id, _ := strconv.Atoi(o.OrderID)
	return models.OrderHandle{Kind: models.KindLimit, VtSymbol: sb.vtSymbol, ID: id}
}

// SendLimitOrder registers a limit order and returns a copy of it.
func (sb *SymbolBacktester) SendLimitOrder(direction models.Direction, offset models.Offset, price, volume float64) models.Order {
	sb.limitOrderCount++
	order := &models.Order{
		Symbol:    sb.instrument.Symbol,
		Exchange:  sb.instrument.Exchange,
		OrderID:   strconv.Itoa(sb.limitOrderCount),
		Direction: direction,
		Offset:    offset,
		Price:     models.RoundTo(price, sb.instrument.PriceTick),
		Volume:    volume,
		Status:    models.StatusSubmitting,
		Datetime:  sb.datetime,
	}
	sb.activeLimits[sb.limitOrderCount] = order
	sb.limitOrders[sb.limitOrderCount] = order
	return *order
}

// SendStopOrder registers a stop order and returns a copy of it.
func (sb *SymbolBacktester) SendStopOrder(direction models.Direction, offset models.Offset, price, volume float64) models.StopOrder {
	sb.stopOrderCount++
	stop := &models.StopOrder{
		VtSymbol:     sb.vtSymbol,
		StopOrderID:  strconv.Itoa(sb.stopOrderCount),
		Direction:    direction,
		Offset:       offset,
		Price:        models.RoundTo(price, sb.instrument.PriceTick),
		Volume:       volume,
		Status:       models.StopOrderWaiting,
		StrategyName: sb.strategy.Name(),
		Datetime:     sb.datetime,
	}
	sb.activeStops[sb.stopOrderCount] = stop
	sb.stopOrders[sb.stopOrderCount] = stop
	return stop.Clone()
}

// CancelOrder cancels the order the handle refers to. Unknown or already
// terminal orders are ignored.
func (sb *SymbolBacktester) CancelOrder(handle models.OrderHandle) {
	var err error
	switch handle.Kind {
	case models.KindLimit:
		err = sb.cancelLimitOrder(handle.ID)
	case models.KindStop:
		err = sb.cancelStopOrder(handle.ID)
	default:
		err = apperrors.NewOrderError(handle.String(), sb.vtSymbol, "cancel", "empty order handle", apperrors.ErrOrderNotFound)
	}
	if err != nil {
		sb.logger.Debug().Err(err).Str("handle", handle.String()).Msg("Cancel ignored")
	}
}

func (sb *SymbolBacktester) cancelLimitOrder(id int) error {
	order, ok := sb.activeLimits[id]
	if !ok {
		return apperrors.NewOrderError(strconv.Itoa(id), sb.vtSymbol, "cancel", "order not active", apperrors.ErrOrderNotFound)
	}
	delete(sb.activeLimits, id)
	order.Status = models.StatusCancelled
	sb.pushOrder(*order)
	return nil
}

func (sb *SymbolBacktester) cancelStopOrder(id int) error {
	stop, ok := sb.activeStops[id]
	if !ok {
		return apperrors.NewOrderError(strconv.Itoa(id), sb.vtSymbol, "cancel", "stop order not active", apperrors.ErrOrderNotFound)
	}
	delete(sb.activeStops, id)
	stop.Status = models.StopOrderCancelled
	sb.pushStopOrder(*stop)
	return nil
}

// CancelAll cancels every active limit and stop order.
func (sb *SymbolBacktester) CancelAll() {
	for _, id := range sortedIDs(sb.activeLimits) {
		_ = sb.cancelLimitOrder(id)
	}
	for _, id := range sortedIDs(sb.activeStops) {
		_ = sb.cancelStopOrder(id)
	}
}

// ActiveLimitOrders returns copies of the resting limit orders in id order.
func (sb *SymbolBacktester) ActiveLimitOrders() []models.Order {
	return copyOrders(sb.activeLimits)
}

// ActiveStopOrders returns copies of the waiting stop orders in id order.
func (sb *SymbolBacktester) ActiveStopOrders() []models.StopOrder {
	return copyStops(sb.activeStops)
}

// Orders returns copies of every limit order created in the run.
func (sb *SymbolBacktester) Orders() []models.Order {
	return copyOrders(sb.limitOrders)
}

// StopOrders returns copies of every stop order created in the run.
func (sb *SymbolBacktester) StopOrders() []models.StopOrder {
	return copyStops(sb.stopOrders)
}

// Trades returns the fills of the run in trade id order.
func (sb *SymbolBacktester) Trades() []models.Trade {
	out := make([]models.Trade, len(sb.trades))
	copy(out, sb.trades)
	return out
}

// CalculateResult settles every recorded day and returns the per-day table.
// A symbol without trades yields nil unless idle symbols are included.
func (sb *SymbolBacktester) CalculateResult() []DailyRow {
	if len(sb.trades) == 0 && !sb.includeIdle {
		sb.logger.Info().Msg("No trades recorded, skipping result calculation")
		return nil
	}

	keys := make([]string, 0, len(sb.dailyResults))
	for key, d := range sb.dailyResults {
		d.Reset()
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, trade := range sb.trades {
		key := models.DateOf(trade.Datetime).Format("2006-01-02")
		d, ok := sb.dailyResults[key]
		if !ok {
			// a fill always follows a bar or tick of the same day
			sb.logger.Warn().Str("date", key).Msg("Trade without daily result")
			continue
		}
		d.AddTrade(trade)
	}

	var preClose, startPos float64
	rows := make([]DailyRow, 0, len(keys))
	for _, key := range keys {
		d := sb.dailyResults[key]
		d.CalculatePnL(preClose, startPos, sb.instrument.Size, sb.instrument.Rate, sb.instrument.Slippage, sb.instrument.Inverse)
		preClose = d.ClosePrice
		startPos = d.EndPos
		rows = append(rows, d.Row())
	}

	return rows
}

func sortedIDs[T any](m map[int]T) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func copyOrders(m map[int]*models.Order) []models.Order {
	out := make([]models.Order, 0, len(m))
	for _, id := range sortedIDs(m) {
		out = append(out, *m[id])
	}
	return out
}

func copyStops(m map[int]*models.StopOrder) []models.StopOrder {
	out := make([]models.StopOrder, 0, len(m))
	for _, id := range sortedIDs(m) {
		out = append(out, m[id].Clone())
	}
	return out
}
