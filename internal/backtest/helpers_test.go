package backtest

import (
	"fmt"
	"time"

	"crypto-backtester/internal/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testInstrument(symbol string) models.Instrument {
	return models.Instrument{
		Symbol:    symbol,
		Exchange:  models.ExchangeBinance,
		Size:      1,
		PriceTick: 0.01,
	}
}

func testBar(symbol string, at time.Time, open, high, low, close float64) models.Bar {
	return models.Bar{
		Symbol:   symbol,
		Exchange: models.ExchangeBinance,
		Interval: models.IntervalMinute,
		Datetime: at,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   10,
	}
}

func testTick(symbol string, at time.Time, last, bid, ask float64) models.Tick {
	return models.Tick{
		Symbol:    symbol,
		Exchange:  models.ExchangeBinance,
		Datetime:  at,
		LastPrice: last,
		BidPrices: [5]float64{bid},
		AskPrices: [5]float64{ask},
	}
}

// recorder captures every callback in arrival order. Hooks let a test act
// from inside a callback.
type recorder struct {
	Template

	events []string
	orders []models.Order
	stops  []models.StopOrder
	trades []models.Trade

	onBar   func(models.Bar)
	onTick  func(models.Tick)
	onOrder func(models.Order)
	onStop  func()
}

func newRecorder(engine StrategyEngine) *recorder {
	return &recorder{Template: NewTemplate("recorder", engine)}
}

func (r *recorder) OnInit()  { r.events = append(r.events, "init") }
func (r *recorder) OnStart() { r.events = append(r.events, "start") }

func (r *recorder) OnStop() {
	r.events = append(r.events, "stop")
	if r.onStop != nil {
		r.onStop()
	}
}

func (r *recorder) OnBar(bar models.Bar) {
	r.events = append(r.events, "bar:"+bar.VtSymbol())
	if r.onBar != nil {
		r.onBar(bar)
	}
}

func (r *recorder) OnTick(tick models.Tick) {
	r.events = append(r.events, "tick:"+tick.VtSymbol())
	if r.onTick != nil {
		r.onTick(tick)
	}
}

func (r *recorder) OnOrder(order models.Order) {
	r.events = append(r.events, fmt.Sprintf("order:%s:%s", order.OrderID, order.Status))
	r.orders = append(r.orders, order)
	if r.onOrder != nil {
		r.onOrder(order)
	}
}

func (r *recorder) OnStopOrder(stop models.StopOrder) {
	r.events = append(r.events, fmt.Sprintf("stop:%s:%s", stop.StopOrderID, stop.Status))
	r.stops = append(r.stops, stop)
}

func (r *recorder) OnTrade(trade models.Trade) {
	r.events = append(r.events, fmt.Sprintf("trade:%s", trade.TradeID))
	r.trades = append(r.trades, trade)
}
