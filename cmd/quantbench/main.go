// Command quantbench runs strategy backtests locally or against a
// quantbench-server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"quantbench/internal/config"
	"quantbench/internal/domain"
	"quantbench/internal/util"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:           "quantbench",
		Short:         "Backtest rule-based trading strategies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quantbench %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $QUANTBENCH_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return util.NewLoggerTo(os.Stderr, logLevel, "text")
}

// parseDates parses YYYY-MM-DD bounds. The end date includes the whole day;
// an empty end means now.
func parseDates(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = time.Parse(time.DateOnly, start); err != nil {
			return s, e, fmt.Errorf("%w: --start must be YYYY-MM-DD", domain.ErrInvalidParameters)
		}
	}
	if end != "" {
		if e, err = time.Parse(time.DateOnly, end); err != nil {
			return s, e, fmt.Errorf("%w: --end must be YYYY-MM-DD", domain.ErrInvalidParameters)
		}
		e = e.Add(24*time.Hour - time.Nanosecond)
	} else {
		e = time.Now().UTC()
	}
	if !s.IsZero() && e.Before(s) {
		return s, e, fmt.Errorf("%w: --end is before --start", domain.ErrInvalidParameters)
	}
	return s, e, nil
}
