package engine

import (
	"fmt"
	"math"

	"quantbench/internal/domain"
)

// RiskManager owns position sizing and the stop-loss / take-profit
// threshold arithmetic of a run.
type RiskManager struct {
	positionSizePct float64
	stopLossPct     float64
	takeProfitPct   float64
}

// NewRiskManager creates a RiskManager.
//
//   - positionSizePct: percentage of equity committed per entry, in (0, 100].
//   - stopLossPct: optional loss from entry that forces an exit, in (0, 100).
//   - takeProfitPct: optional gain from entry that forces an exit, > 0.
func NewRiskManager(positionSizePct float64, stopLossPct, takeProfitPct *float64) (*RiskManager, error) {
	if !(positionSizePct > 0 && positionSizePct <= 100) {
		return nil, fmt.Errorf("%w: position_size must be in (0, 100], got %v",
			domain.ErrInvalidParameters, positionSizePct)
	}
	rm := &RiskManager{positionSizePct: positionSizePct}
	if stopLossPct != nil {
		if !(*stopLossPct > 0 && *stopLossPct < 100) {
			return nil, fmt.Errorf("%w: stop_loss must be in (0, 100), got %v",
				domain.ErrInvalidParameters, *stopLossPct)
		}
		rm.stopLossPct = *stopLossPct
	}
	if takeProfitPct != nil {
		if !(*takeProfitPct > 0) || math.IsInf(*takeProfitPct, 0) {
			return nil, fmt.Errorf("%w: take_profit must be positive, got %v",
				domain.ErrInvalidParameters, *takeProfitPct)
		}
		rm.takeProfitPct = *takeProfitPct
	}
	return rm, nil
}

// Shares returns floor(equity·size/100 / price). It is 0 when the budget
// does not cover a single share.
func (rm *RiskManager) Shares(equity, price float64) int64 {
	if price <= 0 || equity <= 0 {
		return 0
	}
	budget := equity * rm.positionSizePct / 100
	return int64(math.Floor(budget / price))
}

// StopPrice returns the stop-loss threshold for an entry price.
func (rm *RiskManager) StopPrice(entry float64) (float64, bool) {
	if rm.stopLossPct == 0 {
		return 0, false
	}
	return entry * (1 - rm.stopLossPct/100), true
}

// TargetPrice returns the take-profit threshold for an entry price.
func (rm *RiskManager) TargetPrice(entry float64) (float64, bool) {
	if rm.takeProfitPct == 0 {
		return 0, false
	}
	return entry * (1 + rm.takeProfitPct/100), true
}
