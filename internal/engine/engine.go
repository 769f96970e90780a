// Package engine simulates a single-instrument, long-only position: entries
// on buy signals, exits on stop-loss, take-profit or sell signals, and a
// forced close at the end of the series.
package engine

import (
	"quantbench/internal/domain"
)

// Signals are the evaluated condition lists for one bar.
type Signals struct {
	Buy  bool
	Sell bool
}

// Engine is the FLAT/LONG state machine of one run. It owns the cash
// balance, the open position and the append-only trade log. It is not safe
// for concurrent use.
type Engine struct {
	risk   *RiskManager
	cash   float64
	pos    domain.Position
	trades []domain.Trade
}

// NewEngine creates a flat Engine holding initialCapital in cash.
func NewEngine(initialCapital float64, risk *RiskManager) *Engine {
	return &Engine{
		risk: risk,
		cash: initialCapital,
		pos:  domain.Position{State: domain.PositionFlat},
	}
}

// OnBar applies at most one transition for the bar and returns the trade it
// produced, if any. While LONG the exit checks run in priority order:
// stop-loss, take-profit, then the sell signal. Thresholds are not checked
// on the bar that opened the position.
func (e *Engine) OnBar(bar domain.Bar, sig Signals) *domain.Trade {
	if !e.pos.IsLong() {
		if sig.Buy {
			return e.buy(bar)
		}
		return nil
	}

	if bar.Timestamp.After(e.pos.EntryTime) {
		if stop, ok := e.risk.StopPrice(e.pos.EntryPrice); ok && bar.Low <= stop {
			return e.sell(bar, stop, domain.ReasonStopLoss)
		}
		if target, ok := e.risk.TargetPrice(e.pos.EntryPrice); ok && bar.High >= target {
			return e.sell(bar, target, domain.ReasonTakeProfit)
		}
	}
	if sig.Sell {
		return e.sell(bar, bar.Close, domain.ReasonSellSignal)
	}
	return nil
}

// Close force-closes an open position at the bar's close.
func (e *Engine) Close(bar domain.Bar) *domain.Trade {
	if !e.pos.IsLong() {
		return nil
	}
	return e.sell(bar, bar.Close, domain.ReasonEndOfSeries)
}

// Mark returns the mark-to-market equity at the bar's close.
func (e *Engine) Mark(bar domain.Bar) domain.EquityPoint {
	posValue := float64(e.pos.Shares) * bar.Close
	return domain.EquityPoint{
		Timestamp:     bar.Timestamp,
		Value:         e.cash + posValue,
		Cash:          e.cash,
		PositionValue: posValue,
	}
}

func (e *Engine) Cash() float64             { return e.cash }
func (e *Engine) Position() domain.Position { return e.pos }

// Trades returns the trade log. The slice must not be modified.
func (e *Engine) Trades() []domain.Trade { return e.trades }

func (e *Engine) buy(bar domain.Bar) *domain.Trade {
	price := bar.Close
	shares := e.risk.Shares(e.cash, price)
	if shares <= 0 {
		return nil
	}
	cost := float64(shares) * price
	e.cash -= cost
	e.pos = domain.Position{
		State:      domain.PositionLong,
		EntryPrice: price,
		EntryTime:  bar.Timestamp,
		Shares:     shares,
		EntryCost:  cost,
	}
	return e.record(domain.Trade{
		Timestamp: bar.Timestamp,
		Action:    domain.ActionBuy,
		Price:     price,
		Shares:    shares,
		Cost:      cost,
		Reason:    domain.ReasonBuySignal,
	})
}

func (e *Engine) sell(bar domain.Bar, price float64, reason domain.ExitReason) *domain.Trade {
	shares := e.pos.Shares
	proceeds := float64(shares) * price
	profit := proceeds - e.pos.EntryCost
	var pct float64
	if e.pos.EntryCost != 0 {
		pct = profit / e.pos.EntryCost * 100
	}
	e.cash += proceeds
	e.pos = domain.Position{State: domain.PositionFlat}
	return e.record(domain.Trade{
		Timestamp: bar.Timestamp,
		Action:    domain.ActionSell,
		Price:     price,
		Shares:    shares,
		Proceeds:  proceeds,
		Profit:    profit,
		ProfitPct: pct,
		Reason:    reason,
	})
}

func (e *Engine) record(t domain.Trade) *domain.Trade {
	e.trades = append(e.trades, t)
	return &t
}
