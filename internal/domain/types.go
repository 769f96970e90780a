// Package domain defines the core value types shared by every layer of the
// backtesting platform: price bars, strategy definitions, trades, equity
// points and backtest results.
package domain

import (
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one OHLCV observation for a fixed interval.
type Bar struct {
	Symbol     string    `json:"symbol,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// ---------------------------------------------------------------------------
// Strategy definition
// ---------------------------------------------------------------------------

// StrategyType is the strategy family tag.
type StrategyType string

const (
	StrategySMACrossover   StrategyType = "SMA_CROSSOVER"
	StrategyEMACrossover   StrategyType = "EMA_CROSSOVER"
	StrategyRSI            StrategyType = "RSI"
	StrategyMACD           StrategyType = "MACD"
	StrategyBollingerBands StrategyType = "BOLLINGER_BANDS"
	StrategyCustom         StrategyType = "CUSTOM"
)

// StrategyTypes lists every supported family in display order.
var StrategyTypes = []StrategyType{
	StrategySMACrossover,
	StrategyEMACrossover,
	StrategyRSI,
	StrategyMACD,
	StrategyBollingerBands,
	StrategyCustom,
}

// Valid reports whether t is a known strategy family.
func (t StrategyType) Valid() bool {
	for _, known := range StrategyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StrategyDefinition is the complete, immutable input of a backtest run.
type StrategyDefinition struct {
	ID             string             `json:"id,omitempty" yaml:"id"`
	Name           string             `json:"name,omitempty" yaml:"name"`
	Description    string             `json:"description,omitempty" yaml:"description"`
	Symbol         string             `json:"symbol" yaml:"symbol" validate:"required,max=32"`
	Type           StrategyType       `json:"strategy_type" yaml:"strategy_type" validate:"required,strategy_type"`
	Parameters     map[string]float64 `json:"parameters,omitempty" yaml:"parameters"`
	BuyConditions  []Condition        `json:"buy_conditions,omitempty" yaml:"buy_conditions" validate:"dive"`
	SellConditions []Condition        `json:"sell_conditions,omitempty" yaml:"sell_conditions" validate:"dive"`
	InitialCapital float64            `json:"initial_capital" yaml:"initial_capital" validate:"gt=0,finite"`
	PositionSize   float64            `json:"position_size" yaml:"position_size" validate:"gt=0,lte=100"`
	StopLoss       *float64           `json:"stop_loss,omitempty" yaml:"stop_loss" validate:"omitempty,gt=0,lt=100"`
	TakeProfit     *float64           `json:"take_profit,omitempty" yaml:"take_profit" validate:"omitempty,gt=0,finite"`
}

// Param returns the named parameter and whether it is set.
func (d *StrategyDefinition) Param(name string) (float64, bool) {
	v, ok := d.Parameters[name]
	return v, ok
}

// Clone returns a deep copy of the definition.
func (d StrategyDefinition) Clone() StrategyDefinition {
	out := d
	if d.Parameters != nil {
		out.Parameters = make(map[string]float64, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	out.BuyConditions = append([]Condition(nil), d.BuyConditions...)
	out.SellConditions = append([]Condition(nil), d.SellConditions...)
	if d.StopLoss != nil {
		v := *d.StopLoss
		out.StopLoss = &v
	}
	if d.TakeProfit != nil {
		v := *d.TakeProfit
		out.TakeProfit = &v
	}
	return out
}

// ---------------------------------------------------------------------------
// Position & trades
// ---------------------------------------------------------------------------

// PositionState is the simulator state.
type PositionState string

const (
	PositionFlat PositionState = "FLAT"
	PositionLong PositionState = "LONG"
)

// Position is the single open position of a run. A zero Position is FLAT.
type Position struct {
	State      PositionState `json:"state"`
	EntryPrice float64       `json:"entry_price,omitempty"`
	EntryTime  time.Time     `json:"entry_time,omitempty"`
	Shares     int64         `json:"shares,omitempty"`
	EntryCost  float64       `json:"entry_cost,omitempty"`
}

// IsLong reports whether a position is open.
func (p Position) IsLong() bool { return p.State == PositionLong }

// TradeAction is the side of a fill.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// ExitReason explains why a trade was executed.
type ExitReason string

const (
	ReasonBuySignal   ExitReason = "buy_signal"
	ReasonSellSignal  ExitReason = "sell_signal"
	ReasonStopLoss    ExitReason = "stop_loss"
	ReasonTakeProfit  ExitReason = "take_profit"
	ReasonEndOfSeries ExitReason = "end_of_series"
)

// Trade is one immutable fill in the trade log. Cost is set for BUY,
// Proceeds/Profit/ProfitPct for SELL.
type Trade struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    TradeAction `json:"action"`
	Price     float64     `json:"price"`
	Shares    int64       `json:"shares"`
	Cost      float64     `json:"cost,omitempty"`
	Proceeds  float64     `json:"proceeds,omitempty"`
	Profit    float64     `json:"profit,omitempty"`
	ProfitPct float64     `json:"profit_pct,omitempty"`
	Reason    ExitReason  `json:"reason"`
}

// EquityPoint is the mark-to-market portfolio value after a bar.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Value         float64   `json:"value"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// RunStatus is the lifecycle state of a backtest.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Metrics are the summary statistics of a completed run.
type Metrics struct {
	FinalValue     float64 `json:"final_value"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
}

// BacktestResult is the poll-able record of one run. Trades, EquityCurve
// and Metrics are only populated once Status is COMPLETED.
type BacktestResult struct {
	ID           string        `json:"id"`
	StrategyID   string        `json:"strategy_id,omitempty"`
	StrategyName string        `json:"strategy_name,omitempty"`
	Symbol       string        `json:"symbol"`
	Status       RunStatus     `json:"status"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	BarCount     int           `json:"bar_count"`
	Metrics      *Metrics      `json:"metrics,omitempty"`
	Trades       []Trade       `json:"trades,omitempty"`
	EquityCurve  []EquityPoint `json:"equity_curve,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *BacktestResult) Clone() *BacktestResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metrics != nil {
		m := *r.Metrics
		out.Metrics = &m
	}
	out.Trades = append([]Trade(nil), r.Trades...)
	out.EquityCurve = append([]EquityPoint(nil), r.EquityCurve...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Summary returns a copy without the trade log and equity curve.
func (r *BacktestResult) Summary() *BacktestResult {
	out := r.Clone()
	out.Trades = nil
	out.EquityCurve = nil
	return out
}
