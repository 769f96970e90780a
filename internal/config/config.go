package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"quantbench/internal/domain"
	"quantbench/internal/util"
)

// DefaultPath is read when QUANTBENCH_CONFIG is unset.
const DefaultPath = "config/quantbench.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the quantbench platform.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Gather   GatherConfig   `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration. A GRPCPort of zero disables
// the gRPC listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Enabled reports whether credentials are configured.
func (a Alpaca) Enabled() bool { return a.APIKey != "" && a.APISecret != "" }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives a copy of every record. "{date}" expands to
	// the current date.
	File string `yaml:"file"`
}

// BacktestConfig bounds the backtest runner.
type BacktestConfig struct {
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
	Market            string `yaml:"market"`
	Timeframe         string `yaml:"timeframe"`
	// AnnualizationFactor overrides the value derived from Market and
	// Timeframe when positive.
	AnnualizationFactor float64       `yaml:"annualization_factor"`
	RunTimeout          time.Duration `yaml:"run_timeout"`
	Retention           int           `yaml:"retention"`
}

// Annualization returns the bars-per-year factor for Sharpe ratios.
func (b BacktestConfig) Annualization() (float64, error) {
	if b.AnnualizationFactor > 0 {
		return b.AnnualizationFactor, nil
	}
	return util.AnnualizationFactor(domain.Market(b.Market), b.Timeframe)
}

// GatherConfig controls how bars are fetched from the data provider.
type GatherConfig struct {
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	// CacheBars writes fetched bars to the Parquet store.
	CacheBars bool `yaml:"cache_bars"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/quantbench.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			Feed: "iex",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Backtest: BacktestConfig{
			MaxConcurrentRuns: 4,
			Market:            string(domain.MarketUS),
			Timeframe:         "1d",
			RunTimeout:        5 * time.Minute,
			Retention:         500,
		},
		Gather: GatherConfig{
			RateLimitPerMin: 200,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			CacheBars:       true,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides and validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns QUANTBENCH_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("QUANTBENCH_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	if c.Backtest.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Errorf("backtest.max_concurrent_runs must be at least 1"))
	}
	if c.Backtest.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("backtest.run_timeout must not be negative"))
	}
	if c.Backtest.Retention < 0 {
		errs = append(errs, fmt.Errorf("backtest.retention must not be negative"))
	}
	if c.Backtest.AnnualizationFactor < 0 {
		errs = append(errs, fmt.Errorf("backtest.annualization_factor must not be negative"))
	}
	if _, err := c.Backtest.Annualization(); err != nil {
		errs = append(errs, fmt.Errorf("backtest: %w", err))
	}
	if c.Gather.RateLimitPerMin < 1 {
		errs = append(errs, fmt.Errorf("gather.rate_limit_per_min must be at least 1"))
	}
	if c.Gather.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("gather.max_retries must be at least 1"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v, err := strconv.Atoi(os.Getenv("HTTP_PORT")); err == nil {
		cfg.Server.Port = v
	}

	if v, err := strconv.Atoi(os.Getenv("GRPC_PORT")); err == nil {
		cfg.Server.GRPCPort = v
	}

	if v, err := strconv.Atoi(os.Getenv("MAX_CONCURRENT_RUNS")); err == nil {
		cfg.Backtest.MaxConcurrentRuns = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
