package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quantbench/internal/domain"
	"quantbench/internal/marketdata"
	"quantbench/internal/strategy"
)

var (
	runStrategy  string
	runCSV       string
	runStart     string
	runEnd       string
	runTradesCSV string
	runShow      int

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a backtest locally",
		Long: `Run a backtest in-process and print its summary.

Bars come from --csv when given, otherwise from the Parquet cache in the
configured data directory, filled from Alpaca when credentials are set.

Examples:
  quantbench run --strategy sma.yaml --csv AAPL.csv
  quantbench run --strategy rsi.yaml --start 2023-01-01 --end 2023-12-31
  quantbench run --strategy sma.yaml --csv AAPL.csv --trades-csv trades.csv`,
		Args: cobra.NoArgs,
		RunE: runBacktest,
	}
)

func init() {
	runCmd.Flags().StringVarP(&runStrategy, "strategy", "s", "", "strategy definition file (YAML or JSON)")
	runCmd.Flags().StringVar(&runCSV, "csv", "", "CSV file of OHLCV bars")
	runCmd.Flags().StringVar(&runStart, "start", "", "first date, YYYY-MM-DD (default one year before --end)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "last date, YYYY-MM-DD (default today)")
	runCmd.Flags().StringVar(&runTradesCSV, "trades-csv", "", "write the trade log to this CSV file")
	runCmd.Flags().IntVar(&runShow, "trades", 20, "number of trades to print")
	runCmd.MarkFlagRequired("strategy")
	rootCmd.AddCommand(runCmd)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	def, err := strategy.LoadDefinition(runStrategy)
	if err != nil {
		return err
	}
	start, end, err := parseDates(runStart, runEnd)
	if err != nil {
		return err
	}

	var source strategy.BarSource
	if runCSV != "" {
		source = marketdata.CSVSource{Path: runCSV}
	} else {
		if runStart == "" {
			start = end.AddDate(-1, 0, 0)
		}
		if source, err = marketdata.FromConfig(cfg, logger); err != nil {
			return err
		}
	}

	annualization, err := cfg.Backtest.Annualization()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bt := strategy.NewBacktester(source, strategy.DefaultRegistry(), annualization, logger)
	res, err := bt.Run(ctx, def, start, end)
	if err != nil {
		return err
	}

	if runTradesCSV != "" && res.Status == domain.StatusCompleted {
		if err := writeTradesFile(runTradesCSV, res); err != nil {
			return err
		}
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), renderResult(res, runShow))
	}
	if res.Status == domain.StatusFailed {
		return fmt.Errorf("backtest failed: %s", res.ErrorMessage)
	}
	return nil
}

func writeTradesFile(path string, res *domain.BacktestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := marketdata.WriteTradesCSV(f, res.Symbol, res.Trades); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
