package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbench/internal/domain"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(Family{Type: domain.StrategyCustom, Description: "test"})

	got, ok := r.Get(domain.StrategyCustom)
	require.True(t, ok, "Get returned false for registered family")
	assert.Equal(t, "test", got.Description)
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(domain.StrategyRSI)
	assert.False(t, ok, "Get returned true for unregistered family")
}

func TestRegistryList(t *testing.T) {
	r := DefaultRegistry()

	families := r.List()
	require.Len(t, families, len(domain.StrategyTypes))
	// List returns families sorted by type.
	for i := 1; i < len(families); i++ {
		assert.Less(t, families[i-1].Type, families[i].Type, "List not sorted")
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	r := DefaultRegistry()
	def := domain.StrategyDefinition{
		Symbol:         " aapl ",
		Type:           "sma_crossover",
		InitialCapital: 10000,
		PositionSize:   100,
	}
	got, err := r.Normalize(def)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, domain.StrategySMACrossover, got.Type)
	assert.Equal(t, 50.0, got.Parameters[ParamSMAShort])
	assert.Equal(t, 200.0, got.Parameters[ParamSMALong])
	require.Len(t, got.BuyConditions, 1)
	assert.Equal(t, domain.OpCrossesAbove, got.BuyConditions[0].Operator)
	require.Len(t, got.SellConditions, 1)
	assert.Equal(t, domain.OpCrossesBelow, got.SellConditions[0].Operator)
	assert.Nil(t, def.Parameters, "Normalize modified its input")
}

func TestNormalizeRSIDefaultsUseThresholds(t *testing.T) {
	got, err := DefaultRegistry().Normalize(domain.StrategyDefinition{
		Symbol:         "SPY",
		Type:           domain.StrategyRSI,
		Parameters:     map[string]float64{ParamRSIOversold: 25},
		InitialCapital: 1000,
		PositionSize:   50,
	})
	require.NoError(t, err)

	buy := got.BuyConditions[0]
	assert.Equal(t, domain.TargetLiteral, buy.Target.Kind())
	assert.Equal(t, 25.0, buy.Target.Value())
	assert.Equal(t, 70.0, got.SellConditions[0].Target.Value())
}

func TestNormalizeRejects(t *testing.T) {
	base := func() domain.StrategyDefinition {
		return domain.StrategyDefinition{
			Symbol:         "AAPL",
			Type:           domain.StrategySMACrossover,
			Parameters:     map[string]float64{ParamSMAShort: 10, ParamSMALong: 30},
			InitialCapital: 1000,
			PositionSize:   100,
		}
	}
	sl := 100.0
	buyOn := func(ind string, target domain.Target) func(d *domain.StrategyDefinition) {
		return func(d *domain.StrategyDefinition) {
			d.BuyConditions = []domain.Condition{{Indicator: ind, Operator: domain.OpGreaterThan, Target: target}}
		}
	}

	tests := []struct {
		name   string
		mutate func(d *domain.StrategyDefinition)
	}{
		{"unknown type", func(d *domain.StrategyDefinition) { d.Type = "MOMENTUM" }},
		{"missing symbol", func(d *domain.StrategyDefinition) { d.Symbol = "" }},
		{"short not below long", func(d *domain.StrategyDefinition) { d.Parameters[ParamSMAShort] = 30 }},
		{"non-integer period", func(d *domain.StrategyDefinition) { d.Parameters[ParamSMAShort] = 2.5 }},
		{"negative period", func(d *domain.StrategyDefinition) { d.Parameters[ParamSMAShort] = -3 }},
		{"period above limit", func(d *domain.StrategyDefinition) { d.Parameters[ParamSMALong] = 4e12 }},
		{"unknown parameter", func(d *domain.StrategyDefinition) { d.Parameters["lookback"] = 5 }},
		{"zero capital", func(d *domain.StrategyDefinition) { d.InitialCapital = 0 }},
		{"zero position size", func(d *domain.StrategyDefinition) { d.PositionSize = 0 }},
		{"position size above 100", func(d *domain.StrategyDefinition) { d.PositionSize = 150 }},
		{"stop loss 100", func(d *domain.StrategyDefinition) { d.StopLoss = &sl }},
		{"take profit infinite", func(d *domain.StrategyDefinition) {
			inf := math.Inf(1)
			d.TakeProfit = &inf
		}},
		{"custom without buy", func(d *domain.StrategyDefinition) { d.Type = domain.StrategyCustom }},
		{"unconfigured series", buyOn("RSI", domain.Literal(30))},
		{"ad-hoc period above limit", buyOn("CLOSE", domain.Ref("SMA_4000000000000"))},
		{"ad-hoc period overflow", buyOn("CLOSE", domain.Ref("EMA_99999999999999999999999"))},
		{"ad-hoc zero period", buyOn("RSI_0", domain.Literal(30))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(&d)
			_, err := DefaultRegistry().Normalize(d)
			assert.ErrorIs(t, err, domain.ErrInvalidParameters)
		})
	}
}

func TestNormalizeAdHocSeries(t *testing.T) {
	got, err := DefaultRegistry().Normalize(domain.StrategyDefinition{
		Symbol: "AAPL",
		Type:   domain.StrategyCustom,
		BuyConditions: []domain.Condition{
			{Indicator: "CLOSE", Operator: domain.OpCrossesAbove, Target: domain.Ref("SMA_5")},
			{Indicator: "RSI_7", Operator: domain.OpLessThan, Target: domain.Literal(60)},
		},
		InitialCapital: 1000,
		PositionSize:   100,
	})
	require.NoError(t, err)

	e, err := BuildIndicators(got)
	require.NoError(t, err)
	assert.True(t, e.Has("SMA_5"))
	assert.True(t, e.Has("RSI_7"))
	assert.Equal(t, 8, e.WarmUp())
}

func TestParseDefinitionYAML(t *testing.T) {
	doc := []byte(`
name: golden cross
symbol: msft
strategy_type: SMA_CROSSOVER
parameters:
  sma_short: 20
  sma_long: 50
buy_conditions:
  - indicator: SMA_SHORT
    operator: crosses_above
    compare_to: SMA_LONG
sell_conditions:
  - indicator: CLOSE
    operator: "<"
    compare_to: SMA_LONG
initial_capital: 25000
position_size: 50
stop_loss: 5
`)
	def, err := ParseDefinition(doc)
	require.NoError(t, err)

	assert.Equal(t, "golden cross", def.Name)
	assert.Equal(t, 50.0, def.Parameters[ParamSMALong])
	require.Len(t, def.SellConditions, 1)
	assert.Equal(t, domain.OpLessThan, def.SellConditions[0].Operator)
	require.NotNil(t, def.StopLoss)
	assert.Equal(t, 5.0, *def.StopLoss)

	_, err = DefaultRegistry().Normalize(def)
	assert.NoError(t, err)
}

func TestParseDefinitionJSON(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"symbol":"SPY","strategy_type":"RSI","initial_capital":1000,"position_size":100,"buy_conditions":[{"indicator":"RSI","operator":"less_than","value":25}]}`))
	require.NoError(t, err)
	assert.Equal(t, 25.0, def.BuyConditions[0].Target.Value())

	_, err = ParseDefinition([]byte(`{"symbol":"SPY","buy_conditions":[{"indicator":"RSI","operator":"approx","value":1}]}`))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}
