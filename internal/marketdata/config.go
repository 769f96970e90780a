package marketdata

import (
	"log/slog"

	"quantbench/internal/config"
	"quantbench/internal/domain"
	"quantbench/internal/store"
)

// FromConfig assembles the bar source described by cfg: the Parquet cache
// under Storage.DataDir for the configured timeframe, backed by Alpaca when credentials are configured.
// With Gather.CacheBars off, Alpaca is queried directly.
func FromConfig(cfg *config.Config, logger *slog.Logger) (Source, error) {
	cache := store.NewParquetStore(cfg.Storage.DataDir, domain.Market(cfg.Backtest.Market))
	cache.Interval = cfg.Backtest.Timeframe
	if !cfg.Alpaca.Enabled() {
		return cache, nil
	}
	remote, err := NewAlpacaSource(AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		Timeframe:       cfg.Backtest.Timeframe,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		MaxRetries:      cfg.Gather.MaxRetries,
		RetryDelay:      cfg.Gather.RetryDelay,
	}, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Gather.CacheBars {
		return remote, nil
	}
	return NewCachedSource(cache, remote, logger), nil
}
