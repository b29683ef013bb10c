// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"crypto-backtester/internal/backtest"
	"crypto-backtester/internal/datafeed"
	"crypto-backtester/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Market history; LoadBars and LoadTicks make every store a data source
	datafeed.Source
	SaveBars(ctx context.Context, bars []models.Bar) error
	SaveTicks(ctx context.Context, ticks []models.Tick) error
	ListSeries(ctx context.Context) ([]SeriesInfo, error)
	DeleteSeries(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval) (int64, error)

	// Backtest runs
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Sync
	GetLastSync(key string) time.Time
	SetLastSync(key string, t time.Time) error

	// Lifecycle
	Close() error
}

// SeriesInfo summarises one stored bar or tick series.
type SeriesInfo struct {
	Symbol   string          `json:"symbol"`
	Exchange models.Exchange `json:"exchange"`
	Interval models.Interval `json:"interval"`
	Count    int             `json:"count"`
	First    time.Time       `json:"first"`
	Last     time.Time       `json:"last"`
}

// VtSymbol returns the engine key of the series.
func (s SeriesInfo) VtSymbol() string {
	return models.VtSymbol(s.Symbol, s.Exchange)
}

// Run is a finished backtest as persisted by SaveRun. ListRuns leaves Daily
// and Trades empty.
type Run struct {
	ID         string                 `json:"id"`
	CreatedAt  time.Time              `json:"created_at"`
	Strategy   string                 `json:"strategy"`
	Settings   map[string]interface{} `json:"settings"`
	VtSymbols  []string               `json:"vt_symbols"`
	Interval   models.Interval        `json:"interval"`
	Mode       models.Mode            `json:"mode"`
	Start      time.Time              `json:"start"`
	End        time.Time              `json:"end"`
	Capital    float64                `json:"capital"`
	Statistics backtest.Statistics    `json:"statistics"`
	Daily      []backtest.DailyRow    `json:"daily,omitempty"`
	Trades     []models.Trade         `json:"trades,omitempty"`
}

// RunFilter represents filters for querying runs.
type RunFilter struct {
	Strategy string
	Since    time.Time
	Limit    int
}

// NewRun captures a finished portfolio backtest for persistence.
func NewRun(pb *backtest.PortfolioBacktester, strategy string, settings map[string]interface{}, stats backtest.Statistics, daily []backtest.DailyRow) *Run {
	params := pb.Parameters()
	return &Run{
		Strategy:   strategy,
		Settings:   settings,
		VtSymbols:  pb.VtSymbols(),
		Interval:   params.Interval,
		Mode:       params.Mode,
		Start:      params.Start,
		End:        params.End,
		Capital:    params.Capital,
		Statistics: stats,
		Daily:      daily,
		Trades:     pb.Trades(),
	}
}
