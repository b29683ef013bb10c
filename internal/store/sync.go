package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-backtester/internal/datafeed"
	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/models"
	"crypto-backtester/pkg/utils"
)

// DataFreshness represents the freshness of a cached series.
type DataFreshness struct {
	Key         string
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// CachedSource serves history from a DataStore and falls back to an
// upstream source when the cached series is empty or older than MaxAge.
// Fetched data is written back to the store.
type CachedSource struct {
	store    DataStore
	upstream datafeed.Source
	logger   zerolog.Logger

	// MaxAge of zero keeps cached series forever.
	MaxAge time.Duration
	Retry  utils.RetryConfig

	now func() time.Time
}

// NewCachedSource creates a cached source in front of upstream.
func NewCachedSource(store DataStore, upstream datafeed.Source, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		store:    store,
		upstream: upstream,
		logger:   logger,
		Retry:    utils.DefaultRetryConfig(),
		now:      time.Now,
	}
}

// Freshness reports how old the cached copy of a series is.
func (c *CachedSource) Freshness(key string) DataFreshness {
	last := c.store.GetLastSync(key)
	f := DataFreshness{Key: key, LastUpdated: last}
	if last.IsZero() {
		return f
	}
	f.Age = c.now().Sub(last)
	f.IsFresh = c.MaxAge <= 0 || f.Age < c.MaxAge
	return f
}

// LoadBars implements datafeed.Source.
func (c *CachedSource) LoadBars(ctx context.Context, symbol string, exchange models.Exchange, interval models.Interval, start, end time.Time) ([]models.Bar, error) {
	key := SyncKey(symbol, exchange, interval)

	cached, err := c.store.LoadBars(ctx, symbol, exchange, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get cached bars: %w", err)
	}
	if len(cached) > 0 && c.Freshness(key).IsFresh {
		return cached, nil
	}

	bars, err := utils.RetryWithResult(ctx, c.Retry, func() ([]models.Bar, error) {
		return c.upstream.LoadBars(ctx, symbol, exchange, interval, start, end)
	})
	if err != nil {
		// If fetch fails but we have cached data, use it
		if len(cached) > 0 {
			c.logger.Warn().Err(err).Str("series", key).Msg("Using stale cached bars")
			return cached, nil
		}
		return nil, apperrors.NewDataError("bars", models.VtSymbol(symbol, exchange), "fetch failed and no cache available", fmt.Errorf("%w: %w", apperrors.ErrDataSource, err))
	}

	if err := c.store.SaveBars(ctx, bars); err != nil {
		c.logger.Warn().Err(err).Str("series", key).Msg("Failed to cache bars")
	} else if err := c.store.SetLastSync(key, c.now()); err != nil {
		c.logger.Warn().Err(err).Str("series", key).Msg("Failed to mark series synced")
	}

	return bars, nil
}

// LoadTicks implements datafeed.Source.
func (c *CachedSource) LoadTicks(ctx context.Context, symbol string, exchange models.Exchange, start, end time.Time) ([]models.Tick, error) {
	key := SyncKey(symbol, exchange, models.IntervalTick)

	cached, err := c.store.LoadTicks(ctx, symbol, exchange, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get cached ticks: %w", err)
	}
	if len(cached) > 0 && c.Freshness(key).IsFresh {
		return cached, nil
	}

	ticks, err := utils.RetryWithResult(ctx, c.Retry, func() ([]models.Tick, error) {
		return c.upstream.LoadTicks(ctx, symbol, exchange, start, end)
	})
	if err != nil {
		if len(cached) > 0 {
			c.logger.Warn().Err(err).Str("series", key).Msg("Using stale cached ticks")
			return cached, nil
		}
		return nil, apperrors.NewDataError("ticks", models.VtSymbol(symbol, exchange), "fetch failed and no cache available", fmt.Errorf("%w: %w", apperrors.ErrDataSource, err))
	}

	if err := c.store.SaveTicks(ctx, ticks); err != nil {
		c.logger.Warn().Err(err).Str("series", key).Msg("Failed to cache ticks")
	} else if err := c.store.SetLastSync(key, c.now()); err != nil {
		c.logger.Warn().Err(err).Str("series", key).Msg("Failed to mark series synced")
	}

	return ticks, nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return "Never synced"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("Updated %s", ageStr)
	}
	return fmt.Sprintf("Stale data - Updated %s", ageStr)
}
