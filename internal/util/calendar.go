package util

import (
	"fmt"
	"math"
	"strings"
	"time"

	"quantbench/internal/domain"
)

// Trading sessions per year and regular session length, per market.
var sessions = map[domain.Market]struct {
	days   float64
	length time.Duration
}{
	// NYSE 9:30-16:00 ET.
	domain.MarketUS: {days: 252, length: 6*time.Hour + 30*time.Minute},
	// SSE 9:30-11:30 and 13:00-15:00 CST.
	domain.MarketCN: {days: 242, length: 4 * time.Hour},
}

// ParseTimeframe accepts "1d"/"day"/"daily", "1w"/"week", or a Go duration
// ("1h", "15m"). It returns the bar interval.
func ParseTimeframe(tf string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(tf)) {
	case "", "1d", "d", "day", "daily":
		return 24 * time.Hour, nil
	case "1w", "w", "week", "weekly":
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(tf)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return d, nil
}

// AnnualizationFactor returns the number of bars per year for the market
// and timeframe, used to annualise the Sharpe ratio. Daily bars give the
// market's trading days; intraday bars scale by the regular session length.
func AnnualizationFactor(market domain.Market, timeframe string) (float64, error) {
	s, ok := sessions[market]
	if !ok {
		return 0, fmt.Errorf("unknown market %q", market)
	}
	d, err := ParseTimeframe(timeframe)
	if err != nil {
		return 0, err
	}
	switch {
	case d == 7*24*time.Hour:
		return 52, nil
	case d >= 24*time.Hour:
		return s.days * float64(24*time.Hour) / float64(d), nil
	}
	perSession := math.Max(1, math.Floor(float64(s.length)/float64(d)))
	return s.days * perSession, nil
}
