package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantbench/internal/domain"
	"quantbench/internal/util"
)

var _ Source = (*AlpacaSource)(nil)

// barsClient is the subset of *marketdata.Client used here.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaSource.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	// Feed is "sip" or "iex". Empty means "iex".
	Feed            string
	Timeframe       string
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
}

// AlpacaSource fetches historical bars from the Alpaca market-data API,
// rate limited and retried with exponential backoff.
type AlpacaSource struct {
	client     barsClient
	timeframe  marketdata.TimeFrame
	feed       string
	limiter    *util.RateLimiter
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource from opts.
func NewAlpacaSource(opts AlpacaOptions, logger *slog.Logger) (*AlpacaSource, error) {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newAlpacaSource(marketdata.NewClient(clientOpts), opts, logger)
}

func newAlpacaSource(client barsClient, opts AlpacaOptions, logger *slog.Logger) (*AlpacaSource, error) {
	tf, err := parseTimeFrame(opts.Timeframe)
	if err != nil {
		return nil, err
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlpacaSource{
		client:     client,
		timeframe:  tf,
		feed:       opts.Feed,
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		log:        logger.With("source", "alpaca"),
	}, nil
}

func parseTimeFrame(tf string) (marketdata.TimeFrame, error) {
	switch strings.ToLower(strings.TrimSpace(tf)) {
	case "", "1d", "d", "day", "daily":
		return marketdata.OneDay, nil
	case "1h", "hour":
		return marketdata.OneHour, nil
	case "1m", "min", "minute":
		return marketdata.OneMin, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("%w: timeframe %q is not supported by alpaca", domain.ErrInvalidParameters, tf)
}

// Bars implements Source.
func (a *AlpacaSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	var raw []marketdata.Bar
	err := util.Retry(ctx, a.maxRetries, a.retryDelay, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = a.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: a.timeframe,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(a.feed),
		})
		if err != nil {
			a.log.Warn("GetBars failed", "symbol", symbol, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	a.log.Info("fetched bars", "symbol", symbol, "bars", len(bars),
		"start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))
	return bars, nil
}
