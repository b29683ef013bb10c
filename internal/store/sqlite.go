package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"crypto-backtester/internal/backtest"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
	"crypto-backtester/internal/performance"
)

// DefaultBatchSize is the number of rows written per transaction by
// SaveBars and SaveTicks.
const DefaultBatchSize = 5000

// SQLiteStore implements DataStore using SQLite. Timestamps are stored as
// UTC unix nanoseconds so range queries compare integers.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
	batchSize int
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
		batchSize: DefaultBatchSize,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// SetBatchSize changes the number of rows written per transaction.
func (s *SQLiteStore) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Bar history
	CREATE TABLE IF NOT EXISTS bars (
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		interval TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		turnover REAL NOT NULL DEFAULT 0,
		open_interest REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, exchange, interval, ts)
	);

	-- Tick history, book ladders as JSON arrays
	CREATE TABLE IF NOT EXISTS ticks (
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		ts INTEGER NOT NULL,
		last_price REAL NOT NULL,
		last_volume REAL NOT NULL DEFAULT 0,
		volume REAL NOT NULL DEFAULT 0,
		bid_prices TEXT NOT NULL,
		ask_prices TEXT NOT NULL,
		bid_volumes TEXT NOT NULL,
		ask_volumes TEXT NOT NULL,
		PRIMARY KEY (symbol, exchange, ts)
	);

	-- Finished backtest runs
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		strategy TEXT NOT NULL,
		settings TEXT,
		vt_symbols TEXT NOT NULL,
		interval TEXT,
		mode TEXT,
		start_ts INTEGER,
		end_ts INTEGER,
		capital REAL NOT NULL,
		statistics TEXT NOT NULL
	);

	-- Portfolio daily rows of a run
	CREATE TABLE IF NOT EXISTS daily_results (
		run_id TEXT NOT NULL,
		date TEXT NOT NULL,
		close_price REAL,
		pre_close REAL,
		trade_count INTEGER,
		start_pos REAL,
		end_pos REAL,
		turnover REAL,
		commission REAL,
		slippage REAL,
		trading_pnl REAL,
		holding_pnl REAL,
		total_pnl REAL,
		net_pnl REAL,
		PRIMARY KEY (run_id, date),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id)
	);

	-- Trades of a run
	CREATE TABLE IF NOT EXISTS trades (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		order_id TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		order_offset TEXT NOT NULL,
		price REAL NOT NULL,
		volume REAL NOT NULL,
		ts INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id)
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_key TEXT PRIMARY KEY,
		last_sync INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_bars_ts ON bars(ts);
	CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks(ts);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON backtest_runs(strategy);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// ============================================================================
// Bar Methods
// ============================================================================

// SaveBars upserts bars in batches, one transaction per batch.
func (s *SQLiteStore) SaveBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := performance.NewBatchProcessor(s.batchSize, func(chunk []models.Bar) error {
		return s.insertBars(ctx, chunk)
	})
	for _, b := range bars {
		if err := batch.Add(b); err != nil {
			return err
		}
	}
	return batch.Flush()
}

func (s *SQLiteStore) insertBars(ctx context.Context, bars []models.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, exchange, interval, ts, open, high, low, close, volume, turnover, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, b.Symbol, string(b.Exchange), string(b.Interval), toNanos(b.Datetime),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Turnover, b.OpenInterest)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to insert bar: %v", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadBars retrieves bars with start <= datetime < end in time order.
func (s *SQLiteStore) LoadBars(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval, start, end time.Time) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, turnover, open_interest
		FROM bars
		WHERE symbol = ? AND exchange = ? AND interval = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, string(exchange), string(interval), toNanos(start), toNanos(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		b := models.Bar{Symbol: symbol, Exchange: exchange, Interval: interval}
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Turnover, &b.OpenInterest); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Datetime = fromNanos(ts)
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// ============================================================================
// Tick Methods
// ============================================================================

// SaveTicks upserts ticks in batches, one transaction per batch.
func (s *SQLiteStore) SaveTicks(ctx context.Context, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := performance.NewBatchProcessor(s.batchSize, func(chunk []models.Tick) error {
		return s.insertTicks(ctx, chunk)
	})
	for _, t := range ticks {
		if err := batch.Add(t); err != nil {
			return err
		}
	}
	return batch.Flush()
}

func (s *SQLiteStore) insertTicks(ctx context.Context, ticks []models.Tick) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO ticks (symbol, exchange, ts, last_price, last_volume, volume,
			bid_prices, ask_prices, bid_volumes, ask_volumes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		bidPrices, _ := json.Marshal(t.BidPrices)
		askPrices, _ := json.Marshal(t.AskPrices)
		bidVolumes, _ := json.Marshal(t.BidVolumes)
		askVolumes, _ := json.Marshal(t.AskVolumes)

		_, err := stmt.ExecContext(ctx, t.Symbol, string(t.Exchange), toNanos(t.Datetime),
			t.LastPrice, t.LastVolume, t.Volume,
			string(bidPrices), string(askPrices), string(bidVolumes), string(askVolumes))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to insert tick: %v", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadTicks retrieves ticks with start <= datetime < end in time order.
func (s *SQLiteStore) LoadTicks(ctx context.Context, symbol string, exchange models.Exchange, start, end time.Time) ([]models.Tick, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, last_price, last_volume, volume, bid_prices, ask_prices, bid_volumes, ask_volumes
		FROM ticks
		WHERE symbol = ? AND exchange = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, string(exchange), toNanos(start), toNanos(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []models.Tick
	for rows.Next() {
		t := models.Tick{Symbol: symbol, Exchange: exchange}
		var ts int64
		var bidPrices, askPrices, bidVolumes, askVolumes string
		if err := rows.Scan(&ts, &t.LastPrice, &t.LastVolume, &t.Volume,
			&bidPrices, &askPrices, &bidVolumes, &askVolumes); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		t.Datetime = fromNanos(ts)
		json.Unmarshal([]byte(bidPrices), &t.BidPrices)
		json.Unmarshal([]byte(askPrices), &t.AskPrices)
		json.Unmarshal([]byte(bidVolumes), &t.BidVolumes)
		json.Unmarshal([]byte(askVolumes), &t.AskVolumes)
		ticks = append(ticks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticks: %w", err)
	}

	return ticks, nil
}

// ============================================================================
// Series Methods
// ============================================================================

// ListSeries returns one entry per stored bar series and tick series,
// ordered by symbol, exchange and interval.
func (s *SQLiteStore) ListSeries(ctx context.Context) ([]SeriesInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, exchange, interval, COUNT(*), MIN(ts), MAX(ts)
		FROM bars GROUP BY symbol, exchange, interval
		UNION ALL
		SELECT symbol, exchange, 'tick', COUNT(*), MIN(ts), MAX(ts)
		FROM ticks GROUP BY symbol, exchange
		ORDER BY 1, 2, 3
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var series []SeriesInfo
	for rows.Next() {
		var info SeriesInfo
		var exchange, interval string
		var first, last int64
		if err := rows.Scan(&info.Symbol, &exchange, &interval, &info.Count, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		info.Exchange = models.Exchange(exchange)
		info.Interval = models.Interval(interval)
		info.First = fromNanos(first)
		info.Last = fromNanos(last)
		series = append(series, info)
	}

	return series, rows.Err()
}

// DeleteSeries removes a stored series and returns the number of rows
// deleted. The tick interval addresses the tick table.
func (s *SQLiteStore) DeleteSeries(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if interval == models.IntervalTick {
		result, err = s.db.ExecContext(ctx, `DELETE FROM ticks WHERE symbol = ? AND exchange = ?`,
			symbol, string(exchange))
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM bars WHERE symbol = ? AND exchange = ? AND interval = ?`,
			symbol, string(exchange), string(interval))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete series: %w", err)
	}
	return result.RowsAffected()
}

// ============================================================================
// Run Methods
// ============================================================================

// SaveRun stores a run with its daily rows and trades. A run without an id
// is assigned a new UUID; a missing creation time is set to now.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	vtSymbols, _ := json.Marshal(run.VtSymbols)
	stats, err := json.Marshal(run.Statistics)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (id, created_at, strategy, settings, vt_symbols, interval, mode,
			start_ts, end_ts, capital, statistics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, toNanos(run.CreatedAt), run.Strategy, string(settings), string(vtSymbols),
		string(run.Interval), string(run.Mode), toNanos(run.Start), toNanos(run.End), run.Capital, string(stats))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	// a re-save replaces the child rows
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_results WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear daily results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}

	dailyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_results (run_id, date, close_price, pre_close, trade_count, start_pos, end_pos,
			turnover, commission, slippage, trading_pnl, holding_pnl, total_pnl, net_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer dailyStmt.Close()

	for _, r := range run.Daily {
		_, err := dailyStmt.ExecContext(ctx, run.ID, r.DateKey(), r.ClosePrice, r.PreClose, r.TradeCount,
			r.StartPos, r.EndPos, r.Turnover, r.Commission, r.Slippage, r.TradingPnL, r.HoldingPnL,
			r.TotalPnL, r.NetPnL)
		if err != nil {
			return fmt.Errorf("failed to insert daily result: %w", err)
		}
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, symbol, exchange, order_id, trade_id, direction, order_offset, price, volume, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer tradeStmt.Close()

	for i, t := range run.Trades {
		_, err := tradeStmt.ExecContext(ctx, run.ID, i, t.Symbol, string(t.Exchange), t.OrderID, t.TradeID,
			string(t.Direction), string(t.Offset), t.Price, t.Volume, toNanos(t.Datetime))
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const runColumns = `id, created_at, strategy, settings, vt_symbols, interval, mode, start_ts, end_ts, capital, statistics`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                        Run
		createdAt, startTS, endTS  int64
		settings, vtSymbols, stats sql.NullString
		interval, mode             sql.NullString
	)
	if err := row.Scan(&run.ID, &createdAt, &run.Strategy, &settings, &vtSymbols, &interval, &mode,
		&startTS, &endTS, &run.Capital, &stats); err != nil {
		return nil, err
	}

	run.CreatedAt = fromNanos(createdAt)
	run.Start = fromNanos(startTS)
	run.End = fromNanos(endTS)
	run.Interval = models.Interval(interval.String)
	run.Mode = models.Mode(mode.String)
	if settings.Valid && settings.String != "null" {
		json.Unmarshal([]byte(settings.String), &run.Settings)
	}
	json.Unmarshal([]byte(vtSymbols.String), &run.VtSymbols)
	if err := json.Unmarshal([]byte(stats.String), &run.Statistics); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a run with its daily rows and trades.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrapf(apperrors.ErrNoData, "run %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.Daily, err = s.getDaily(ctx, id); err != nil {
		return nil, err
	}
	if run.Trades, err = s.getTrades(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) getDaily(ctx context.Context, runID string) ([]backtest.DailyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, close_price, pre_close, trade_count, start_pos, end_pos, turnover, commission,
			slippage, trading_pnl, holding_pnl, total_pnl, net_pnl
		FROM daily_results WHERE run_id = ? ORDER BY date ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily results: %w", err)
	}
	defer rows.Close()

	var daily []backtest.DailyRow
	for rows.Next() {
		var r backtest.DailyRow
		var date string
		if err := rows.Scan(&date, &r.ClosePrice, &r.PreClose, &r.TradeCount, &r.StartPos, &r.EndPos,
			&r.Turnover, &r.Commission, &r.Slippage, &r.TradingPnL, &r.HoldingPnL, &r.TotalPnL, &r.NetPnL); err != nil {
			return nil, fmt.Errorf("failed to scan daily result: %w", err)
		}
		r.Date, _ = time.Parse("2006-01-02", date)
		daily = append(daily, r)
	}

	return daily, rows.Err()
}

func (s *SQLiteStore) getTrades(ctx context.Context, runID string) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, exchange, order_id, trade_id, direction, order_offset, price, volume, ts
		FROM trades WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var exchange, direction, offset string
		var ts int64
		if err := rows.Scan(&t.Symbol, &exchange, &t.OrderID, &t.TradeID, &direction, &offset,
			&t.Price, &t.Volume, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Exchange = models.Exchange(exchange)
		t.Direction = models.Direction(direction)
		t.Offset = models.Offset(offset)
		t.Datetime = fromNanos(ts)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ListRuns retrieves run headers, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE 1=1`
	args := []interface{}{}

	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, toNanos(filter.Since))
	}

	query += " ORDER BY created_at DESC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run and its child rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"daily_results", "trades"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.Wrapf(apperrors.ErrNoData, "run %s", id)
	}

	return tx.Commit()
}

// ============================================================================
// Sync Methods
// ============================================================================

// SyncKey names the sync bookkeeping entry of one series.
func SyncKey(symbol string, exchange models.Exchange, interval models.Interval) string {
	return strings.Join([]string{symbol, string(exchange), string(interval)}, ":")
}

// GetLastSync returns the last sync time for a key, or the zero time.
func (s *SQLiteStore) GetLastSync(key string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[key]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var ns int64
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_key = ?
	`, key).Scan(&ns)
	if err != nil {
		return time.Time{}
	}
	lastSync := fromNanos(ns)

	s.mu.Lock()
	s.syncTimes[key] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a key.
func (s *SQLiteStore) SetLastSync(key string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_key, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, key, toNanos(t), time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[key] = t.UTC()
	s.mu.Unlock()

	return nil
}
