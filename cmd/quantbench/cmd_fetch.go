package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"quantbench/internal/domain"
	"quantbench/internal/marketdata"
	"quantbench/internal/store"
)

var (
	fetchStart string
	fetchEnd   string

	fetchCmd = &cobra.Command{
		Use:   "fetch SYMBOL...",
		Short: "Download bars from Alpaca into the Parquet cache",
		Long: `Download bars for each symbol from Alpaca and merge them into the
Parquet cache under the configured data directory.

Example:
  quantbench fetch AAPL MSFT --start 2020-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetch,
	}
)

func init() {
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "first date, YYYY-MM-DD (required)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "last date, YYYY-MM-DD (default today)")
	fetchCmd.MarkFlagRequired("start")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Alpaca.Enabled() {
		return fmt.Errorf("alpaca credentials are not configured (set APCA_API_KEY_ID and APCA_API_SECRET_KEY)")
	}
	start, end, err := parseDates(fetchStart, fetchEnd)
	if err != nil {
		return err
	}
	logger := newLogger()

	remote, err := marketdata.NewAlpacaSource(marketdata.AlpacaOptions{
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
		return err
	}
	cache := store.NewParquetStore(cfg.Storage.DataDir, domain.Market(cfg.Backtest.Market))
	cache.Interval = cfg.Backtest.Timeframe

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, sym := range args {
		sym = strings.ToUpper(sym)
		bars, err := remote.Bars(ctx, sym, start, end)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", sym, err)
		}
		if err := cache.WriteBars(ctx, bars); err != nil {
			return fmt.Errorf("caching %s: %w", sym, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s bars\n", labelStyle.Render(fmt.Sprintf("%-8s", sym)), valueStyle.Render(fmt.Sprint(len(bars))))
	}
	return nil
}
