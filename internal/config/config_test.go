package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quantbench.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "LOG_LEVEL", "LOG_FORMAT", "HTTP_PORT", "GRPC_PORT",
		"MAX_CONCURRENT_RUNS", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/quantbench/data"
  sqlite_path: "/tmp/quantbench/quantbench.db"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "text"
backtest:
  max_concurrent_runs: 8
  market: "cn"
  timeframe: "1d"
  run_timeout: 90s
  retention: 50
gather:
  rate_limit_per_min: 100
  max_retries: 5
  retry_delay: 2s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/quantbench/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/quantbench/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/quantbench/quantbench.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}

	// -- Server --
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("Server = %+v", cfg.Server)
	}

	// -- Alpaca --
	if !cfg.Alpaca.Enabled() {
		t.Error("Alpaca.Enabled() = false with key and secret set")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want default %q", cfg.Alpaca.Feed, "iex")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Backtest --
	if cfg.Backtest.MaxConcurrentRuns != 8 {
		t.Errorf("Backtest.MaxConcurrentRuns = %d, want 8", cfg.Backtest.MaxConcurrentRuns)
	}
	if cfg.Backtest.RunTimeout != 90*time.Second {
		t.Errorf("Backtest.RunTimeout = %v, want 90s", cfg.Backtest.RunTimeout)
	}
	if cfg.Backtest.Retention != 50 {
		t.Errorf("Backtest.Retention = %d, want 50", cfg.Backtest.Retention)
	}
	ann, err := cfg.Backtest.Annualization()
	if err != nil || ann != 242 {
		t.Errorf("Backtest.Annualization() = %v, %v; want 242", ann, err)
	}

	// -- Gather --
	if cfg.Gather.RateLimitPerMin != 100 || cfg.Gather.MaxRetries != 5 || cfg.Gather.RetryDelay != 2*time.Second {
		t.Errorf("Gather = %+v", cfg.Gather)
	}
	if !cfg.Gather.CacheBars {
		t.Error("Gather.CacheBars lost its default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	ann, err := cfg.Backtest.Annualization()
	if err != nil || ann != 252 {
		t.Errorf("Annualization() = %v, %v; want 252", ann, err)
	}
	if cfg.Alpaca.Enabled() {
		t.Error("Alpaca.Enabled() = true without credentials")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("MAX_CONCURRENT_RUNS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (env override)", cfg.Server.Port)
	}
	if cfg.Backtest.MaxConcurrentRuns != 2 {
		t.Errorf("Backtest.MaxConcurrentRuns = %d, want 2 (env override)", cfg.Backtest.MaxConcurrentRuns)
	}

	// The canonical SDK names win.
	t.Setenv("APCA_API_KEY_ID", "sdk-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "sdk-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "sdk-key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"concurrency", func(c *Config) { c.Backtest.MaxConcurrentRuns = 0 }, "max_concurrent_runs"},
		{"market", func(c *Config) { c.Backtest.Market = "jp" }, "unknown market"},
		{"timeframe", func(c *Config) { c.Backtest.Timeframe = "tick" }, "unsupported timeframe"},
		{"retention", func(c *Config) { c.Backtest.Retention = -1 }, "retention"},
		{"rate limit", func(c *Config) { c.Gather.RateLimitPerMin = 0 }, "rate_limit_per_min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}

	// An explicit factor bypasses the market lookup.
	cfg := Default()
	cfg.Backtest.Market = "jp"
	cfg.Backtest.AnnualizationFactor = 250
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with explicit factor = %v", err)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("QUANTBENCH_CONFIG", "")
	if Path() != DefaultPath {
		t.Errorf("Path() = %q, want %q", Path(), DefaultPath)
	}
	t.Setenv("QUANTBENCH_CONFIG", "/etc/qb.yaml")
	if Path() != "/etc/qb.yaml" {
		t.Errorf("Path() = %q", Path())
	}
}
