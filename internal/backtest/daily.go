package backtest

import (
	"time"

	"crypto-backtester/internal/models"
)

// DailyResult accumulates the P&L of one symbol over one calendar day.
type DailyResult struct {
	Date       time.Time
	ClosePrice float64
	PreClose   float64

	Trades     []models.Trade
	TradeCount int

	StartPos float64
	EndPos   float64

	Turnover   float64
	Commission float64
	Slippage   float64

	TradingPnL float64
	HoldingPnL float64
	TotalPnL   float64
	NetPnL     float64
}

// NewDailyResult creates the result for date with an initial close price.
func NewDailyResult(date time.Time, closePrice float64) *DailyResult {
	return &DailyResult{
		Date:       date,
		ClosePrice: closePrice,
	}
}

// AddTrade attaches a trade that settled on this day.
func (d *DailyResult) AddTrade(trade models.Trade) {
	d.Trades = append(d.Trades, trade)
}

// Reset clears every accumulator except the date and close price.
func (d *DailyResult) Reset() {
	d.PreClose = 0
	d.Trades = nil
	d.TradeCount = 0
	d.StartPos = 0
	d.EndPos = 0
	d.Turnover = 0
	d.Commission = 0
	d.Slippage = 0
	d.TradingPnL = 0
	d.HoldingPnL = 0
	d.TotalPnL = 0
	d.NetPnL = 0
}

// CalculatePnL settles the day given the previous close and opening position.
// A zero preClose only happens on the first day, where startPos is zero, and
// is replaced by 1 to keep the inverse formulas finite.
func (d *DailyResult) CalculatePnL(preClose, startPos, size, rate, slippage float64, inverse bool) {
	if preClose != 0 {
		d.PreClose = preClose
	} else {
		d.PreClose = 1
	}

	d.StartPos = startPos
	d.EndPos = startPos

	if !inverse {
		d.HoldingPnL = d.StartPos * (d.ClosePrice - d.PreClose) * size
	} else if d.ClosePrice != 0 {
		d.HoldingPnL = d.StartPos * (1/d.PreClose - 1/d.ClosePrice) * size
	}

	d.TradeCount = len(d.Trades)
	d.Turnover = 0
	d.Commission = 0
	d.Slippage = 0
	d.TradingPnL = 0

	for _, trade := range d.Trades {
		posChange := trade.SignedVolume()
		d.EndPos += posChange

		var turnover float64
		if !inverse {
			turnover = trade.Volume * size * trade.Price
			d.TradingPnL += posChange * (d.ClosePrice - trade.Price) * size
			d.Slippage += trade.Volume * size * slippage
		} else if trade.Price != 0 {
			turnover = trade.Volume * size / trade.Price
			if d.ClosePrice != 0 {
				d.TradingPnL += posChange * (1/trade.Price - 1/d.ClosePrice) * size
			}
			d.Slippage += trade.Volume * size * slippage / (trade.Price * trade.Price)
		}

		d.Turnover += turnover
		d.Commission += turnover * rate
	}

	d.TotalPnL = d.TradingPnL + d.HoldingPnL
	d.NetPnL = d.TotalPnL - d.Commission - d.Slippage
}

// Row converts the settled day into a report row.
func (d *DailyResult) Row() DailyRow {
	return DailyRow{
		Date:       d.Date,
		ClosePrice: d.ClosePrice,
		PreClose:   d.PreClose,
		TradeCount: d.TradeCount,
		StartPos:   d.StartPos,
		EndPos:     d.EndPos,
		Turnover:   d.Turnover,
		Commission: d.Commission,
		Slippage:   d.Slippage,
		TradingPnL: d.TradingPnL,
		HoldingPnL: d.HoldingPnL,
		TotalPnL:   d.TotalPnL,
		NetPnL:     d.NetPnL,
	}
}

// DailyRow is one line of the per-day result table. At portfolio level the
// price columns are zero and the numeric columns are sums across symbols.
type DailyRow struct {
	Date       time.Time `json:"date"`
	ClosePrice float64   `json:"close_price"`
	PreClose   float64   `json:"pre_close"`
	TradeCount int       `json:"trade_count"`
	StartPos   float64   `json:"start_pos"`
	EndPos     float64   `json:"end_pos"`
	Turnover   float64   `json:"turnover"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	TradingPnL float64   `json:"trading_pnl"`
	HoldingPnL float64   `json:"holding_pnl"`
	TotalPnL   float64   `json:"total_pnl"`
	NetPnL     float64   `json:"net_pnl"`
}

// DateKey formats the row date for alignment and display.
func (r DailyRow) DateKey() string {
	return r.Date.Format("2006-01-02")
}

// add sums the numeric columns of other into r.
func (r *DailyRow) add(other DailyRow) {
	r.TradeCount += other.TradeCount
	r.StartPos += other.StartPos
	r.EndPos += other.EndPos
	r.Turnover += other.Turnover
	r.Commission += other.Commission
	r.Slippage += other.Slippage
	r.TradingPnL += other.TradingPnL
	r.HoldingPnL += other.HoldingPnL
	r.TotalPnL += other.TotalPnL
	r.NetPnL += other.NetPnL
}
