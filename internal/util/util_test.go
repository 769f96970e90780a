package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"quantbench/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, 5, time.Hour, func() error {
		attempts++
		cancel()
		return errors.New("transient error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times after cancel, want 1", attempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	sentinel := errors.New("bad symbol")
	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})
	if err != sentinel {
		t.Errorf("Retry error = %v, want the unwrapped permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times for a permanent error, want 1", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestRateLimiterSpacesCalls(t *testing.T) {
	rl := NewRateLimiter(6000) // one token every 10ms
	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("4 calls at 100/s took %v, want at least 30ms of spacing", elapsed)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	// The first token is available immediately.
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	// The next one is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait = %v, want DeadlineExceeded", err)
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "id", "abc")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"id":"abc"`) {
		t.Errorf("JSON record missing attribute: %s", out)
	}

	buf.Reset()
	NewLoggerTo(&buf, "debug", "text").Debug("hello", "n", 1)
	if !strings.Contains(buf.String(), "msg=hello n=1") {
		t.Errorf("text record = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAnnualizationFactor(t *testing.T) {
	tests := []struct {
		market    domain.Market
		timeframe string
		want      float64
	}{
		{domain.MarketUS, "1d", 252},
		{domain.MarketUS, "", 252},
		{domain.MarketCN, "daily", 242},
		{domain.MarketUS, "1w", 52},
		{domain.MarketUS, "1h", 252 * 6},
		{domain.MarketUS, "30m", 252 * 13},
		{domain.MarketCN, "1h", 242 * 4},
	}
	for _, tt := range tests {
		got, err := AnnualizationFactor(tt.market, tt.timeframe)
		if err != nil {
			t.Errorf("AnnualizationFactor(%s, %q): %v", tt.market, tt.timeframe, err)
			continue
		}
		if got != tt.want {
			t.Errorf("AnnualizationFactor(%s, %q) = %v, want %v", tt.market, tt.timeframe, got, tt.want)
		}
	}

	if _, err := AnnualizationFactor("jp", "1d"); err == nil {
		t.Error("unknown market accepted")
	}
	if _, err := AnnualizationFactor(domain.MarketUS, "fortnight"); err == nil {
		t.Error("unknown timeframe accepted")
	}
}
