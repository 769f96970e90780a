package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantbench/internal/api"
	"quantbench/internal/config"
	"quantbench/internal/marketdata"
	"quantbench/internal/store"
	"quantbench/internal/strategy"
	"quantbench/internal/telemetry"
	"quantbench/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logFileName := cfg.Logging.File
	if logFileName == "" {
		logFileName = "/tmp/quantbench-server-{date}.log"
	}
	logFileName = strings.ReplaceAll(logFileName, "{date}", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Create stores and the bar source.
	for _, dir := range []string{cfg.Storage.DataDir, filepath.Dir(cfg.Storage.SQLitePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("creating %s: %v", dir, err)
		}
	}
	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening result store: %v", err)
	}
	defer results.Close()

	source, err := marketdata.FromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("creating bar source: %v", err)
	}
	if !cfg.Alpaca.Enabled() {
		logger.Warn("alpaca credentials not set, serving cached bars only", "data_dir", cfg.Storage.DataDir)
	}

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := telemetry.NewRecorder(reg)

	annualization, err := cfg.Backtest.Annualization()
	if err != nil {
		log.Fatalf("annualization: %v", err)
	}
	bt := strategy.NewBacktester(source, strategy.DefaultRegistry(), annualization, logger)
	runner := strategy.NewRunner(bt, results, recorder, strategy.RunnerConfig{
		MaxConcurrent: cfg.Backtest.MaxConcurrentRuns,
		RunTimeout:    cfg.Backtest.RunTimeout,
		Retention:     cfg.Backtest.Retention,
	}, logger)

	opts := api.Options{
		HTTPAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}
	if cfg.Server.GRPCPort > 0 {
		opts.GRPCAddr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	}
	srv := api.NewServer(runner, opts, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("quantbench-server starting",
		"market", cfg.Backtest.Market,
		"timeframe", cfg.Backtest.Timeframe,
		"annualization", annualization,
		"max_concurrent_runs", cfg.Backtest.MaxConcurrentRuns,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	logger.Info("waiting for in-flight backtests")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := runner.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "runner shutdown: %v\n", err)
	}
}
