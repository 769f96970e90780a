// Package stats reduces a trade log and equity curve into summary metrics.
package stats

import (
	"fmt"
	"math"

	"quantbench/internal/domain"
)

// DefaultAnnualization is the number of daily bars per year.
const DefaultAnnualization = 252

// Compute returns the metrics for a finished run. Closed trades are the SELL
// entries of the log. It fails with ErrNumericAnomaly if a metric is still
// non-finite after the recovery rules have been applied.
func Compute(initialCapital float64, trades []domain.Trade, equity []domain.EquityPoint, annualization float64) (domain.Metrics, error) {
	if annualization <= 0 {
		annualization = DefaultAnnualization
	}

	final := initialCapital
	if len(equity) > 0 {
		final = equity[len(equity)-1].Value
	}

	m := domain.Metrics{
		FinalValue:     final,
		TotalReturn:    final - initialCapital,
		MaxDrawdownPct: MaxDrawdownPct(equity),
		SharpeRatio:    Sharpe(Returns(equity), annualization),
	}
	if initialCapital != 0 {
		m.TotalReturnPct = m.TotalReturn / initialCapital * 100
	}

	t := Trades(trades)
	m.TotalTrades = t.Closed
	m.WinningTrades = t.Wins
	m.LosingTrades = t.Losses
	m.WinRate = t.WinRate
	m.AvgWin = t.AvgWin
	m.AvgLoss = t.AvgLoss
	m.ProfitFactor = t.ProfitFactor

	if err := checkFinite(m); err != nil {
		return domain.Metrics{}, err
	}
	return m, nil
}

// MaxDrawdownPct returns the largest peak-to-trough decline as a positive
// percentage of the running peak. It is 0 for an empty or rising curve.
func MaxDrawdownPct(equity []domain.EquityPoint) float64 {
	var peak, worst float64
	for i, p := range equity {
		if i == 0 || p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Value) / peak; dd > worst {
			worst = dd
		}
	}
	return worst * 100
}

// Returns computes per-bar simple returns equity[i]/equity[i-1] - 1.
func Returns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		out = append(out, equity[i].Value/equity[i-1].Value-1)
	}
	return out
}

// Sharpe returns mean/stdev·sqrt(annualization) using the population
// standard deviation. It is 0 with fewer than two returns, zero variance, or
// any non-finite return.
func Sharpe(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return 0
		}
		sum += r
	}
	n := float64(len(returns))
	mean := sum / n

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / n)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	s := mean / sd * math.Sqrt(annualization)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// TradeStats aggregates closed trades.
type TradeStats struct {
	Closed       int
	Wins         int
	Losses       int
	WinRate      float64
	GrossWin     float64
	GrossLoss    float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
}

// Trades aggregates the SELL side of a trade log. A profit above zero is a
// win; break-even counts as a loss. AvgLoss keeps its sign. ProfitFactor is
// GrossWin/|GrossLoss|, or GrossWin itself when there are no losing profits.
func Trades(trades []domain.Trade) TradeStats {
	var s TradeStats
	for _, t := range trades {
		if t.Action != domain.ActionSell {
			continue
		}
		s.Closed++
		if t.Profit > 0 {
			s.Wins++
			s.GrossWin += t.Profit
		} else {
			s.Losses++
			s.GrossLoss += t.Profit
		}
	}
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed) * 100
	}
	if s.Wins > 0 {
		s.AvgWin = s.GrossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss / float64(s.Losses)
	}
	if s.GrossLoss == 0 {
		s.ProfitFactor = s.GrossWin
	} else {
		s.ProfitFactor = s.GrossWin / math.Abs(s.GrossLoss)
	}
	return s
}

func checkFinite(m domain.Metrics) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"final_value", m.FinalValue},
		{"total_return", m.TotalReturn},
		{"total_return_pct", m.TotalReturnPct},
		{"sharpe_ratio", m.SharpeRatio},
		{"max_drawdown", m.MaxDrawdownPct},
		{"win_rate", m.WinRate},
		{"avg_win", m.AvgWin},
		{"avg_loss", m.AvgLoss},
		{"profit_factor", m.ProfitFactor},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is %v", domain.ErrNumericAnomaly, f.name, f.v)
		}
	}
	return nil
}
