// Package marketdata supplies ordered bar series to the backtester from the
// Parquet cache, the Alpaca market-data API or CSV files.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"quantbench/internal/domain"
	"quantbench/internal/store"
)

// Source returns the bars of symbol within [start, end], ordered by
// timestamp.
type Source interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// coverageSlack is how far the first and last cached bars may sit from the
// requested bounds before the cache counts as incomplete. It spans weekends
// and the longest exchange holidays.
const coverageSlack = 10 * 24 * time.Hour

// CachedSource serves bars from a Parquet cache and falls back to a remote
// Source for ranges the cache does not cover. Fetched bars are written back.
type CachedSource struct {
	cache  *store.ParquetStore
	remote Source
	log    *slog.Logger
	now    func() time.Time
}

// NewCachedSource creates a CachedSource. remote may be nil, in which case
// only cached bars are served.
func NewCachedSource(cache *store.ParquetStore, remote Source, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{
		cache:  cache,
		remote: remote,
		log:    logger.With("component", "marketdata"),
		now:    time.Now,
	}
}

// Bars implements Source.
func (c *CachedSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	cached, err := c.cache.Bars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if c.remote == nil || c.covers(cached, start, end) {
		return cached, nil
	}

	fetched, err := c.remote.Bars(ctx, symbol, start, end)
	if err != nil {
		if len(cached) > 0 {
			c.log.Warn("remote fetch failed, serving partial cache",
				"symbol", symbol, "cached", len(cached), "error", err)
			return cached, nil
		}
		return nil, err
	}
	if len(fetched) > 0 {
		if err := c.cache.WriteBars(ctx, fetched); err != nil {
			c.log.Warn("caching fetched bars", "symbol", symbol, "error", err)
		}
	}
	c.log.Debug("fetched bars", "symbol", symbol, "cached", len(cached), "fetched", len(fetched))
	return fetched, nil
}

func (c *CachedSource) covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	if now := c.now(); end.After(now) {
		end = now
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	return first.Sub(start) <= coverageSlack && end.Sub(last) <= coverageSlack
}
