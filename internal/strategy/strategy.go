// Package strategy turns a StrategyDefinition into a deterministic backtest:
// it normalises and validates definitions, evaluates buy/sell conditions
// against indicator snapshots, drives the bar loop, and runs backtests
// asynchronously with a poll-able status.
package strategy

import (
	"sort"

	"quantbench/internal/domain"
	"quantbench/internal/indicator"
)

// Family describes one strategy type: its default parameters and the
// condition lists used when a definition does not supply its own.
type Family struct {
	Type        domain.StrategyType `json:"strategy_type"`
	Description string              `json:"description"`
	Defaults    map[string]float64  `json:"default_parameters,omitempty"`
	// DefaultConditions builds the default buy and sell lists from the
	// normalised parameters. Nil for families without defaults.
	DefaultConditions func(params map[string]float64) (buy, sell []domain.Condition) `json:"-"`
}

// Registry holds the known strategy families for lookup and enumeration.
type Registry struct {
	families map[domain.StrategyType]Family
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		families: make(map[domain.StrategyType]Family),
	}
}

// DefaultRegistry returns a Registry with every built-in family.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range builtinFamilies() {
		r.Register(f)
	}
	return r
}

// Register adds a family to the registry, keyed by its Type.
func (r *Registry) Register(f Family) {
	r.families[f.Type] = f
}

// Get retrieves a family by type. The second return value indicates whether
// the family was found.
func (r *Registry) Get(t domain.StrategyType) (Family, bool) {
	f, ok := r.families[t]
	return f, ok
}

// List returns all registered families sorted by type.
func (r *Registry) List() []Family {
	out := make([]Family, 0, len(r.families))
	for _, f := range r.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func cond(ind string, op domain.Operator, target domain.Target) domain.Condition {
	return domain.Condition{Indicator: ind, Operator: op, Target: target}
}

func builtinFamilies() []Family {
	return []Family{
		{
			Type:        domain.StrategySMACrossover,
			Description: "Buy when the short SMA crosses above the long SMA, sell when it crosses below.",
			Defaults:    map[string]float64{ParamSMAShort: 50, ParamSMALong: 200},
			DefaultConditions: func(map[string]float64) (buy, sell []domain.Condition) {
				return []domain.Condition{cond(indicator.SMAShort, domain.OpCrossesAbove, domain.Ref(indicator.SMALong))},
					[]domain.Condition{cond(indicator.SMAShort, domain.OpCrossesBelow, domain.Ref(indicator.SMALong))}
			},
		},
		{
			Type:        domain.StrategyEMACrossover,
			Description: "Buy when the short EMA crosses above the long EMA, sell when it crosses below.",
			Defaults:    map[string]float64{ParamEMAShort: 12, ParamEMALong: 26},
			DefaultConditions: func(map[string]float64) (buy, sell []domain.Condition) {
				return []domain.Condition{cond(indicator.EMAShort, domain.OpCrossesAbove, domain.Ref(indicator.EMALong))},
					[]domain.Condition{cond(indicator.EMAShort, domain.OpCrossesBelow, domain.Ref(indicator.EMALong))}
			},
		},
		{
			Type:        domain.StrategyRSI,
			Description: "Buy when RSI drops below the oversold level, sell when it rises above the overbought level.",
			Defaults:    map[string]float64{ParamRSIPeriod: 14, ParamRSIOversold: 30, ParamRSIOverbought: 70},
			DefaultConditions: func(p map[string]float64) (buy, sell []domain.Condition) {
				return []domain.Condition{cond(indicator.RSI, domain.OpLessThan, domain.Literal(p[ParamRSIOversold]))},
					[]domain.Condition{cond(indicator.RSI, domain.OpGreaterThan, domain.Literal(p[ParamRSIOverbought]))}
			},
		},
		{
			Type:        domain.StrategyMACD,
			Description: "Buy when the MACD line crosses above its signal line, sell when it crosses below.",
			Defaults:    map[string]float64{ParamMACDFast: 12, ParamMACDSlow: 26, ParamMACDSignal: 9},
			DefaultConditions: func(map[string]float64) (buy, sell []domain.Condition) {
				return []domain.Condition{cond(indicator.MACD, domain.OpCrossesAbove, domain.Ref(indicator.MACDSignal))},
					[]domain.Condition{cond(indicator.MACD, domain.OpCrossesBelow, domain.Ref(indicator.MACDSignal))}
			},
		},
		{
			Type:        domain.StrategyBollingerBands,
			Description: "Buy when the close falls below the lower band, sell when it rises above the upper band.",
			Defaults:    map[string]float64{ParamBBPeriod: 20, ParamBBStd: 2},
			DefaultConditions: func(map[string]float64) (buy, sell []domain.Condition) {
				return []domain.Condition{cond(indicator.Close, domain.OpLessThan, domain.Ref(indicator.BBLower))},
					[]domain.Condition{cond(indicator.Close, domain.OpGreaterThan, domain.Ref(indicator.BBUpper))}
			},
		},
		{
			Type:        domain.StrategyCustom,
			Description: "User-defined buy and sell conditions over any configured series.",
		},
	}
}
