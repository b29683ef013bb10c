package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crypto-backtester/internal/models"
)

func TestDailyResult_LinearContract(t *testing.T) {
	d := NewDailyResult(day0, 105)
	d.AddTrade(models.Trade{Direction: models.DirectionLong, Price: 100, Volume: 2})
	d.AddTrade(models.Trade{Direction: models.DirectionShort, Price: 104, Volume: 1})

	d.CalculatePnL(102, 1, 10, 0.001, 0.5, false)

	assert.Equal(t, 102.0, d.PreClose)
	assert.Equal(t, 1.0, d.StartPos)
	assert.Equal(t, 2.0, d.EndPos)
	assert.Equal(t, 2, d.TradeCount)
	assert.InDelta(t, 1*(105-102)*10, d.HoldingPnL, 1e-9)
	assert.InDelta(t, 2*(105-100)*10-1*(105-104)*10, d.TradingPnL, 1e-9)
	assert.InDelta(t, 2*10*100+1*10*104, d.Turnover, 1e-9)
	assert.InDelta(t, (2*10*100+1*10*104)*0.001, d.Commission, 1e-9)
	assert.InDelta(t, 3*10*0.5, d.Slippage, 1e-9)
	assert.InDelta(t, d.TradingPnL+d.HoldingPnL-d.Commission-d.Slippage, d.NetPnL, 1e-9)
}

func TestDailyResult_InverseContract(t *testing.T) {
	d := NewDailyResult(day0, 110)
	d.AddTrade(models.Trade{Direction: models.DirectionLong, Price: 100, Volume: 1})

	d.CalculatePnL(0, 0, 100, 0.001, 0.5, true)

	assert.Equal(t, 1.0, d.PreClose, "first day pre close is replaced by 1")
	assert.InDelta(t, 0.0, d.HoldingPnL, 1e-12)
	assert.InDelta(t, 1.0, d.Turnover, 1e-12)
	assert.InDelta(t, 0.001, d.Commission, 1e-12)
	assert.InDelta(t, 100*(1.0/100-1.0/110), d.TradingPnL, 1e-12)
	assert.InDelta(t, 100*0.5/(100*100), d.Slippage, 1e-12)
}

func TestDailyResult_InverseHolding(t *testing.T) {
	d := NewDailyResult(day0, 125)
	d.CalculatePnL(100, 2, 10, 0, 0, true)

	assert.InDelta(t, 2*(1.0/100-1.0/125)*10, d.HoldingPnL, 1e-12)
	assert.Equal(t, 0, d.TradeCount)
}

func TestDailyResult_ResetKeepsDateAndClose(t *testing.T) {
	d := NewDailyResult(day0, 105)
	d.AddTrade(models.Trade{Direction: models.DirectionLong, Price: 100, Volume: 1})
	d.CalculatePnL(100, 0, 1, 0, 0, false)

	d.Reset()
	assert.Equal(t, day0, d.Date)
	assert.Equal(t, 105.0, d.ClosePrice)
	assert.Empty(t, d.Trades)
	assert.Equal(t, 0.0, d.NetPnL)
	assert.Equal(t, 0.0, d.EndPos)
}

func TestDailyRow_Add(t *testing.T) {
	a := DailyRow{Date: day0, ClosePrice: 100, TradeCount: 1, EndPos: 2, NetPnL: 3, Commission: 0.5}
	b := DailyRow{Date: day0, ClosePrice: 200, TradeCount: 2, EndPos: -1, NetPnL: 4, Commission: 0.25}

	sum := DailyRow{Date: day0}
	sum.add(a)
	sum.add(b)

	assert.Equal(t, 0.0, sum.ClosePrice)
	assert.Equal(t, 3, sum.TradeCount)
	assert.Equal(t, 1.0, sum.EndPos)
	assert.Equal(t, 7.0, sum.NetPnL)
	assert.Equal(t, 0.75, sum.Commission)
	assert.Equal(t, "2024-01-01", sum.DateKey())
}
