package backtest

import (
	"math"

	"github.com/rs/zerolog"

	apperrors "crypto-backtester/internal/errors"
)

// AnnualDays is the assumed number of trading days per year.
const AnnualDays = 240

// Statistics summarises a merged daily result series.
type Statistics struct {
	StartDate           string  `json:"start_date"`
	EndDate             string  `json:"end_date"`
	TotalDays           int     `json:"total_days"`
	ProfitDays          int     `json:"profit_days"`
	LossDays            int     `json:"loss_days"`
	Capital             float64 `json:"capital"`
	EndBalance          float64 `json:"end_balance"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDDPercent        float64 `json:"max_ddpercent"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	TotalNetPnL         float64 `json:"total_net_pnl"`
	DailyNetPnL         float64 `json:"daily_net_pnl"`
	TotalCommission     float64 `json:"total_commission"`
	DailyCommission     float64 `json:"daily_commission"`
	TotalSlippage       float64 `json:"total_slippage"`
	DailySlippage       float64 `json:"daily_slippage"`
	TotalTurnover       float64 `json:"total_turnover"`
	DailyTurnover       float64 `json:"daily_turnover"`
	TotalTradeCount     int     `json:"total_trade_count"`
	DailyTradeCount     float64 `json:"daily_trade_count"`
	TotalReturn         float64 `json:"total_return"`
	AnnualReturn        float64 `json:"annual_return"`
	DailyReturn         float64 `json:"daily_return"`
	ReturnStd           float64 `json:"return_std"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	ReturnDrawdownRatio float64 `json:"return_drawdown_ratio"`
}

// Value looks a statistic up by its JSON name, for ranking optimisation runs.
func (s Statistics) Value(name string) (float64, bool) {
	switch name {
	case "total_days":
		return float64(s.TotalDays), true
	case "profit_days":
		return float64(s.ProfitDays), true
	case "loss_days":
		return float64(s.LossDays), true
	case "end_balance":
		return s.EndBalance, true
	case "max_drawdown":
		return s.MaxDrawdown, true
	case "max_ddpercent":
		return s.MaxDDPercent, true
	case "total_net_pnl":
		return s.TotalNetPnL, true
	case "daily_net_pnl":
		return s.DailyNetPnL, true
	case "total_commission":
		return s.TotalCommission, true
	case "total_slippage":
		return s.TotalSlippage, true
	case "total_turnover":
		return s.TotalTurnover, true
	case "total_trade_count":
		return float64(s.TotalTradeCount), true
	case "total_return":
		return s.TotalReturn, true
	case "annual_return":
		return s.AnnualReturn, true
	case "daily_return":
		return s.DailyReturn, true
	case "return_std":
		return s.ReturnStd, true
	case "sharpe_ratio":
		return s.SharpeRatio, true
	case "return_drawdown_ratio":
		return s.ReturnDrawdownRatio, true
	}
	return 0, false
}

// BalanceRow extends a daily row with the account curve columns.
type BalanceRow struct {
	DailyRow
	Balance   float64 `json:"balance"`
	Return    float64 `json:"return"`
	HighLevel float64 `json:"highlevel"`
	Drawdown  float64 `json:"drawdown"`
	DDPercent float64 `json:"ddpercent"`
}

// CalculateStatistics computes statistics for rows, or for the stored
// merged result when rows is nil. With no data at all every scalar is zero
// and the dates are empty.
func (pb *PortfolioBacktester) CalculateStatistics(rows []DailyRow, output bool) (Statistics, []BalanceRow) {
	if rows == nil {
		rows = pb.dailyRows
	}

	stats, curve := ComputeStatistics(rows, pb.params.Capital, pb.logger)
	if output {
		logStatistics(pb.logger, stats)
	}
	return stats, curve
}

// ComputeStatistics derives the balance curve and summary scalars from a
// date-ordered daily series.
func ComputeStatistics(rows []DailyRow, capital float64, logger zerolog.Logger) (Statistics, []BalanceRow) {
	stats := Statistics{Capital: capital}
	if len(rows) == 0 {
		return stats, nil
	}

	curve := make([]BalanceRow, len(rows))
	positive := true
	var balance, highLevel float64
	for i, row := range rows {
		balance += row.NetPnL
		b := capital + balance

		var ret float64
		if i > 0 {
			prev := curve[i-1].Balance
			if prev > 0 && b > 0 {
				ret = math.Log(b / prev)
			}
		}
		if b <= 0 {
			positive = false
		}

		if i == 0 || b > highLevel {
			highLevel = b
		}
		drawdown := b - highLevel
		var ddPercent float64
		if highLevel != 0 {
			ddPercent = drawdown / highLevel * 100
		}

		curve[i] = BalanceRow{
			DailyRow:  row,
			Balance:   b,
			Return:    ret,
			HighLevel: highLevel,
			Drawdown:  drawdown,
			DDPercent: ddPercent,
		}
	}

	stats.StartDate = rows[0].DateKey()
	stats.EndDate = rows[len(rows)-1].DateKey()
	stats.TotalDays = len(rows)
	stats.EndBalance = curve[len(curve)-1].Balance

	if !positive {
		logger.Warn().Err(apperrors.ErrNegativeBalance).Msg("Statistics not computed")
		return stats, curve
	}

	returns := make([]float64, len(curve))
	maxDDIndex := 0
	for i, c := range curve {
		returns[i] = c.Return

		switch {
		case c.NetPnL > 0:
			stats.ProfitDays++
		case c.NetPnL < 0:
			stats.LossDays++
		}

		if c.Drawdown < stats.MaxDrawdown {
			stats.MaxDrawdown = c.Drawdown
			maxDDIndex = i
		}
		if c.DDPercent < stats.MaxDDPercent {
			stats.MaxDDPercent = c.DDPercent
		}

		stats.TotalNetPnL += c.NetPnL
		stats.TotalCommission += c.Commission
		stats.TotalSlippage += c.Slippage
		stats.TotalTurnover += c.Turnover
		stats.TotalTradeCount += c.TradeCount
	}

	if stats.MaxDrawdown < 0 {
		peak := 0
		for i := 0; i <= maxDDIndex; i++ {
			if curve[i].Balance > curve[peak].Balance {
				peak = i
			}
		}
		stats.MaxDrawdownDuration = int(curve[maxDDIndex].Date.Sub(curve[peak].Date).Hours() / 24)
	}

	days := float64(stats.TotalDays)
	stats.DailyNetPnL = stats.TotalNetPnL / days
	stats.DailyCommission = stats.TotalCommission / days
	stats.DailySlippage = stats.TotalSlippage / days
	stats.DailyTurnover = stats.TotalTurnover / days
	stats.DailyTradeCount = float64(stats.TotalTradeCount) / days

	if capital != 0 {
		stats.TotalReturn = (stats.EndBalance/capital - 1) * 100
	}
	stats.AnnualReturn = stats.TotalReturn / days * AnnualDays
	stats.DailyReturn = mean(returns) * 100
	stats.ReturnStd = sampleStd(returns) * 100

	if stats.ReturnStd != 0 {
		stats.SharpeRatio = stats.DailyReturn / stats.ReturnStd * math.Sqrt(AnnualDays)
	}
	if stats.MaxDDPercent != 0 {
		stats.ReturnDrawdownRatio = -stats.TotalReturn / stats.MaxDDPercent
	}

	return stats, curve
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 standard deviation; fewer than two values give 0.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

func logStatistics(logger zerolog.Logger, s Statistics) {
	logger.Info().
		Str("start_date", s.StartDate).
		Str("end_date", s.EndDate).
		Int("total_days", s.TotalDays).
		Int("profit_days", s.ProfitDays).
		Int("loss_days", s.LossDays).
		Float64("capital", s.Capital).
		Float64("end_balance", s.EndBalance).
		Float64("max_drawdown", s.MaxDrawdown).
		Float64("max_ddpercent", s.MaxDDPercent).
		Int("max_drawdown_duration", s.MaxDrawdownDuration).
		Float64("total_net_pnl", s.TotalNetPnL).
		Float64("total_commission", s.TotalCommission).
		Float64("total_slippage", s.TotalSlippage).
		Float64("total_turnover", s.TotalTurnover).
		Int("total_trade_count", s.TotalTradeCount).
		Float64("total_return", s.TotalReturn).
		Float64("annual_return", s.AnnualReturn).
		Float64("daily_return", s.DailyReturn).
		Float64("return_std", s.ReturnStd).
		Float64("sharpe_ratio", s.SharpeRatio).
		Float64("return_drawdown_ratio", s.ReturnDrawdownRatio).
		Msg("Backtest statistics")
}
