package backtest

import (
	"time"

	"github.com/rs/zerolog"

	"crypto-backtester/internal/models"
)

// Strategy is the callback surface the engine drives. Callbacks run
// synchronously inside the replay loop and may call back into the engine.
type Strategy interface {
	Name() string

	OnInit()
	OnStart()
	OnStop()

	OnBar(bar models.Bar)
	OnTick(tick models.Tick)
	OnOrder(order models.Order)
	OnTrade(trade models.Trade)
	OnStopOrder(stop models.StopOrder)

	SetInited(inited bool)
	SetTrading(trading bool)
	Inited() bool
	Trading() bool
}

// StrategyEngine is the order-entry surface strategies use. It is implemented
// by PortfolioBacktester.
type StrategyEngine interface {
	SendOrder(vtSymbol string, direction models.Direction, offset models.Offset, price, volume float64, stop bool) (models.OrderHandle, bool)
	CancelOrder(handle models.OrderHandle)
	CancelAll(vtSymbol string)
	Pos(vtSymbol string) float64
	PriceTick(vtSymbol string) float64
	Datetime() time.Time
	Logger() zerolog.Logger
}

// Template is an embeddable Strategy base with no-op callbacks and order
// helpers. Concrete strategies override the callbacks they need.
type Template struct {
	name    string
	engine  StrategyEngine
	inited  bool
	trading bool
}

// NewTemplate binds a named strategy base to an engine.
func NewTemplate(name string, engine StrategyEngine) Template {
	return Template{
		name:   name,
		engine: engine,
	}
}

func (t *Template) Name() string { return t.name }

func (t *Template) OnInit()                      {}
func (t *Template) OnStart()                     {}
func (t *Template) OnStop()                      {}
func (t *Template) OnBar(models.Bar)             {}
func (t *Template) OnTick(models.Tick)           {}
func (t *Template) OnOrder(models.Order)         {}
func (t *Template) OnTrade(models.Trade)         {}
func (t *Template) OnStopOrder(models.StopOrder) {}

func (t *Template) SetInited(inited bool)   { t.inited = inited }
func (t *Template) SetTrading(trading bool) { t.trading = trading }
func (t *Template) Inited() bool            { return t.inited }
func (t *Template) Trading() bool           { return t.trading }

// Engine returns the engine the strategy was bound to.
func (t *Template) Engine() StrategyEngine { return t.engine }

// Buy opens a long position.
func (t *Template) Buy(vtSymbol string, price, volume float64, stop bool) (models.OrderHandle, bool) {
	return t.sendOrder(vtSymbol, models.DirectionLong, models.OffsetOpen, price, volume, stop)
}

// Sell closes a long position.
func (t *Template) Sell(vtSymbol string, price, volume float64, stop bool) (models.OrderHandle, bool) {
	return t.sendOrder(vtSymbol, models.DirectionShort, models.OffsetClose, price, volume, stop)
}

// Short opens a short position.
func (t *Template) Short(vtSymbol string, price, volume float64, stop bool) (models.OrderHandle, bool) {
	return t.sendOrder(vtSymbol, models.DirectionShort, models.OffsetOpen, price, volume, stop)
}

// Cover closes a short position.
func (t *Template) Cover(vtSymbol string, price, volume float64, stop bool) (models.OrderHandle, bool) {
	return t.sendOrder(vtSymbol, models.DirectionLong, models.OffsetClose, price, volume, stop)
}

func (t *Template) sendOrder(vtSymbol string, direction models.Direction, offset models.Offset, price, volume float64, stop bool) (models.OrderHandle, bool) {
	if !t.trading {
		return models.OrderHandle{}, false
	}
	return t.engine.SendOrder(vtSymbol, direction, offset, price, volume, stop)
}

// CancelOrder cancels a limit or stop order.
func (t *Template) CancelOrder(handle models.OrderHandle) {
	if t.trading {
		t.engine.CancelOrder(handle)
	}
}

// CancelAll cancels every active order on vtSymbol.
func (t *Template) CancelAll(vtSymbol string) {
	if t.trading {
		t.engine.CancelAll(vtSymbol)
	}
}

// Pos returns the net position held on vtSymbol.
func (t *Template) Pos(vtSymbol string) float64 {
	return t.engine.Pos(vtSymbol)
}

// WriteLog emits a strategy log line through the engine logger.
func (t *Template) WriteLog(msg string) {
	logger := t.engine.Logger()
	logger.Info().Str("strategy", t.name).Msg(msg)
}
