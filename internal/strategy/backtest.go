package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"quantbench/internal/domain"
	"quantbench/internal/engine"
	"quantbench/internal/indicator"
	"quantbench/internal/stats"
)

// builtins is the read-only registry used by Simulate.
var builtins = DefaultRegistry()

// BarSource supplies an ordered bar series for a symbol and date range.
type BarSource interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Options tune a simulation.
type Options struct {
	// Annualization is the number of bars per year used by the Sharpe
	// ratio. Zero means stats.DefaultAnnualization.
	Annualization float64
	// OnProgress is called after every bar with the number of bars done.
	OnProgress func(done int)
}

// Outcome is the output of a successful simulation.
type Outcome struct {
	Definition domain.StrategyDefinition
	Trades     []domain.Trade
	Equity     []domain.EquityPoint
	Metrics    domain.Metrics
	BarCount   int
	WarmUp     int
	Start, End time.Time
}

// Simulate runs def over bars. It is deterministic: identical inputs give
// identical outputs. The context is checked once per bar; a cancelled run
// returns ErrCancelled.
func Simulate(ctx context.Context, def domain.StrategyDefinition, bars []domain.Bar, opts Options) (*Outcome, error) {
	def, err := builtins.Normalize(def)
	if err != nil {
		return nil, err
	}
	if err := CheckBars(bars); err != nil {
		return nil, err
	}

	ind, err := BuildIndicators(def)
	if err != nil {
		return nil, err
	}
	risk, err := engine.NewRiskManager(def.PositionSize, def.StopLoss, def.TakeProfit)
	if err != nil {
		return nil, err
	}
	sim := engine.NewEngine(def.InitialCapital, risk)

	equity := make([]domain.EquityPoint, 0, len(bars))
	var prev *indicator.Snapshot
	last := len(bars) - 1
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stopped at bar %d: %v", domain.ErrCancelled, i, err)
		}

		snap := ind.Update(bar)
		sig := engine.Signals{
			Buy:  EvaluateAll(def.BuyConditions, snap, prev),
			Sell: EvaluateAll(def.SellConditions, snap, prev),
		}
		sim.OnBar(bar, sig)
		if i == last {
			sim.Close(bar)
		}
		equity = append(equity, sim.Mark(bar))
		prev = &snap

		if opts.OnProgress != nil {
			opts.OnProgress(i + 1)
		}
	}

	trades := append([]domain.Trade(nil), sim.Trades()...)
	m, err := stats.Compute(def.InitialCapital, trades, equity, opts.Annualization)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Definition: def,
		Trades:     trades,
		Equity:     equity,
		Metrics:    m,
		BarCount:   len(bars),
		WarmUp:     ind.WarmUp(),
		Start:      bars[0].Timestamp,
		End:        bars[last].Timestamp,
	}, nil
}

// CheckBars rejects empty series, non-increasing timestamps and prices that
// are not finite and positive. Bars are never reordered or deduplicated.
func CheckBars(bars []domain.Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: no price bars", domain.ErrInsufficientData)
	}
	for i, b := range bars {
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: bar %d (%s) has invalid price %v",
					domain.ErrDataIntegrity, i, b.Timestamp.Format(time.RFC3339), v)
			}
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d timestamp %s is not after %s",
				domain.ErrDataIntegrity, i, b.Timestamp.Format(time.RFC3339),
				bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Backtester fetches bars from a BarSource and turns a simulation into a
// terminal BacktestResult.
type Backtester struct {
	source        BarSource
	registry      *Registry
	annualization float64
	log           *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from source and looks
// up strategy families in registry.
func NewBacktester(source BarSource, registry *Registry, annualization float64, logger *slog.Logger) *Backtester {
	if registry == nil {
		registry = builtins
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backtester{
		source:        source,
		registry:      registry,
		annualization: annualization,
		log:           logger,
	}
}

// Registry returns the family registry used for normalisation.
func (bt *Backtester) Registry() *Registry { return bt.registry }

// Run executes def over [start, end] and returns a COMPLETED or FAILED
// result. Invalid definitions are returned as errors without a result.
func (bt *Backtester) Run(ctx context.Context, def domain.StrategyDefinition, start, end time.Time) (*domain.BacktestResult, error) {
	norm, err := bt.registry.Normalize(def)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res := &domain.BacktestResult{
		StrategyID:   norm.ID,
		StrategyName: norm.Name,
		Symbol:       norm.Symbol,
		Status:       domain.StatusRunning,
		StartDate:    start,
		EndDate:      end,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	bt.execute(ctx, norm, res, Options{})
	return res, nil
}

// execute fills res in place and leaves it in a terminal state.
func (bt *Backtester) execute(ctx context.Context, def domain.StrategyDefinition, res *domain.BacktestResult, opts Options) {
	bars, err := bt.source.Bars(ctx, def.Symbol, res.StartDate, res.EndDate)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		bt.fail(res, fmt.Errorf("loading bars for %s: %w", def.Symbol, err))
		return
	}

	if opts.Annualization == 0 {
		opts.Annualization = bt.annualization
	}
	out, err := Simulate(ctx, def, bars, opts)
	if err != nil {
		res.BarCount = len(bars)
		bt.fail(res, err)
		return
	}

	now := time.Now().UTC()
	m := out.Metrics
	res.Status = domain.StatusCompleted
	res.BarCount = out.BarCount
	res.Metrics = &m
	res.Trades = out.Trades
	res.EquityCurve = out.Equity
	res.CompletedAt = &now
	if out.BarCount < out.WarmUp {
		bt.log.Info("bar count below indicator warm-up", "symbol", def.Symbol,
			"bars", out.BarCount, "warm_up", out.WarmUp)
	}
}

func (bt *Backtester) fail(res *domain.BacktestResult, err error) {
	now := time.Now().UTC()
	res.Status = domain.StatusFailed
	res.ErrorMessage = err.Error()
	res.ErrorKind = domain.ErrorKind(err)
	if errors.Is(err, domain.ErrCancelled) {
		res.ErrorMessage = domain.ErrCancelled.Error()
	}
	res.Metrics = nil
	res.Trades = nil
	res.EquityCurve = nil
	res.CompletedAt = &now
	bt.log.Warn("backtest failed", "symbol", res.Symbol, "kind", domain.ErrorKind(err), "error", err)
}
