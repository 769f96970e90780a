package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbench/internal/domain"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func closeBars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

func randomBars(rng *rand.Rand, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.06
		hi := math.Max(open, price) * (1 + rng.Float64()*0.02)
		lo := math.Min(open, price) * (1 - rng.Float64()*0.02)
		bars[i] = domain.Bar{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      open, High: hi, Low: lo, Close: price,
			Volume: int64(1000 + rng.Intn(1000)),
		}
	}
	return bars
}

func smaDef(short, long float64) domain.StrategyDefinition {
	return domain.StrategyDefinition{
		Symbol:         "TEST",
		Type:           domain.StrategySMACrossover,
		Parameters:     map[string]float64{ParamSMAShort: short, ParamSMALong: long},
		InitialCapital: 1000,
		PositionSize:   100,
	}
}

func TestSimulateSMACrossoverScenario(t *testing.T) {
	bars := closeBars(10, 10, 10, 12, 14, 8, 8, 8)
	out, err := Simulate(context.Background(), smaDef(2, 3), bars, Options{})
	require.NoError(t, err)

	require.Len(t, out.Trades, 2)
	buy, sell := out.Trades[0], out.Trades[1]

	assert.Equal(t, domain.ActionBuy, buy.Action)
	assert.Equal(t, bars[3].Timestamp, buy.Timestamp, "2-SMA crosses above 3-SMA on bar 3")
	assert.Equal(t, 12.0, buy.Price)
	assert.Equal(t, int64(math.Floor(1000/12.0)), buy.Shares)
	assert.Equal(t, 996.0, buy.Cost)

	assert.Equal(t, domain.ActionSell, sell.Action)
	assert.Equal(t, bars[5].Timestamp, sell.Timestamp, "2-SMA crosses below 3-SMA on bar 5")
	assert.Equal(t, domain.ReasonSellSignal, sell.Reason)
	assert.Equal(t, 8.0, sell.Price)
	assert.Equal(t, 664.0, sell.Proceeds)
	assert.Equal(t, -332.0, sell.Profit)
	assert.InDelta(t, -332.0/996*100, sell.ProfitPct, 1e-9)

	require.Len(t, out.Equity, len(bars))
	assert.Equal(t, 1000.0, out.Equity[2].Value)
	assert.Equal(t, 668.0, out.Metrics.FinalValue)
	assert.Equal(t, 1, out.Metrics.TotalTrades)
	assert.Equal(t, 0, out.Metrics.WinningTrades)
	assert.Equal(t, 1, out.Metrics.LosingTrades)
	assert.Equal(t, -332.0, out.Metrics.AvgLoss)
	assert.Equal(t, 0.0, out.Metrics.ProfitFactor)
}

func TestSimulateForceClosesAtSeriesEnd(t *testing.T) {
	bars := closeBars(10, 10, 10, 12, 14, 16)
	out, err := Simulate(context.Background(), smaDef(2, 3), bars, Options{})
	require.NoError(t, err)

	require.Len(t, out.Trades, 2)
	last := out.Trades[1]
	assert.Equal(t, domain.ReasonEndOfSeries, last.Reason)
	assert.Equal(t, 16.0, last.Price)
	assert.Equal(t, bars[5].Timestamp, last.Timestamp)

	final := out.Equity[len(out.Equity)-1]
	assert.Equal(t, 0.0, final.PositionValue, "run must end flat")
}

func TestSimulateRSIWarmUpSuppressesSignals(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	def := domain.StrategyDefinition{
		Symbol:         "TEST",
		Type:           domain.StrategyRSI,
		Parameters:     map[string]float64{ParamRSIPeriod: 14, ParamRSIOversold: 30},
		InitialCapital: 1000,
		PositionSize:   100,
	}
	bars := closeBars(closes...)
	out, err := Simulate(context.Background(), def, bars, Options{})
	require.NoError(t, err)

	require.NotEmpty(t, out.Trades)
	first := out.Trades[0]
	assert.Equal(t, domain.ActionBuy, first.Action)
	// RSI(14) is first defined on bar 14; it is 0 there on a falling series.
	assert.Equal(t, bars[14].Timestamp, first.Timestamp)
	for _, tr := range out.Trades {
		assert.False(t, tr.Timestamp.Before(bars[14].Timestamp), "trade during RSI warm-up")
	}
}

func TestSimulateStopLossBeatsSellCondition(t *testing.T) {
	sl := 5.0
	def := domain.StrategyDefinition{
		Symbol: "TEST",
		Type:   domain.StrategyCustom,
		BuyConditions: []domain.Condition{
			{Indicator: "CLOSE", Operator: domain.OpGreaterThan, Target: domain.Literal(99)},
		},
		SellConditions: []domain.Condition{
			{Indicator: "CLOSE", Operator: domain.OpLessThan, Target: domain.Literal(97)},
		},
		InitialCapital: 1000,
		PositionSize:   100,
		StopLoss:       &sl,
	}
	bars := []domain.Bar{
		{Timestamp: day0, Open: 100, High: 100, Low: 100, Close: 100},
		{Timestamp: day0.AddDate(0, 0, 1), Open: 99, High: 99, Low: 90, Close: 96},
		{Timestamp: day0.AddDate(0, 0, 2), Open: 96, High: 96, Low: 96, Close: 96},
	}
	out, err := Simulate(context.Background(), def, bars, Options{})
	require.NoError(t, err)

	require.Len(t, out.Trades, 2)
	exit := out.Trades[1]
	assert.Equal(t, domain.ReasonStopLoss, exit.Reason)
	assert.Equal(t, 95.0, exit.Price, "fills at the stop threshold, not the close")
	assert.Equal(t, int64(10), exit.Shares)
	assert.Equal(t, -50.0, exit.Profit)
}

func TestSimulateInsufficientBarsCompletesWithoutTrades(t *testing.T) {
	out, err := Simulate(context.Background(), smaDef(5, 20), closeBars(1, 2, 3, 4, 5), Options{})
	require.NoError(t, err)
	assert.Empty(t, out.Trades)
	assert.Equal(t, 0, out.Metrics.TotalTrades)
	assert.Equal(t, 1000.0, out.Metrics.FinalValue)
	assert.Equal(t, 20, out.WarmUp)
}

func TestSimulateDataErrors(t *testing.T) {
	_, err := Simulate(context.Background(), smaDef(2, 3), nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrInsufficientData), "got %v", err)

	dup := closeBars(10, 11, 12)
	dup[2].Timestamp = dup[1].Timestamp
	_, err = Simulate(context.Background(), smaDef(2, 3), dup, Options{})
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity), "got %v", err)

	backwards := closeBars(10, 11, 12)
	backwards[0], backwards[1] = backwards[1], backwards[0]
	_, err = Simulate(context.Background(), smaDef(2, 3), backwards, Options{})
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity), "got %v", err)

	bad := closeBars(10, 11, 12)
	bad[1].Close = math.NaN()
	_, err = Simulate(context.Background(), smaDef(2, 3), bad, Options{})
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity), "got %v", err)
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Simulate(ctx, smaDef(2, 3), closeBars(1, 2, 3), Options{})
	assert.True(t, errors.Is(err, domain.ErrCancelled), "got %v", err)
}

func TestSimulateProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	sl, tp := 4.0, 8.0
	defs := []domain.StrategyDefinition{
		smaDef(5, 20),
		{Symbol: "TEST", Type: domain.StrategyEMACrossover, InitialCapital: 5000, PositionSize: 60},
		{Symbol: "TEST", Type: domain.StrategyRSI, InitialCapital: 5000, PositionSize: 80, StopLoss: &sl},
		{Symbol: "TEST", Type: domain.StrategyMACD, InitialCapital: 5000, PositionSize: 100, TakeProfit: &tp},
		{Symbol: "TEST", Type: domain.StrategyBollingerBands, InitialCapital: 5000, PositionSize: 100, StopLoss: &sl, TakeProfit: &tp},
	}

	for trial := 0; trial < 20; trial++ {
		bars := randomBars(rng, 300)
		for _, def := range defs {
			out, err := Simulate(context.Background(), def, bars, Options{})
			require.NoError(t, err, "%s", def.Type)

			var buys, sells int
			for _, tr := range out.Trades {
				if tr.Action == domain.ActionBuy {
					buys++
				} else {
					sells++
				}
			}
			assert.Equal(t, buys, sells, "%s: every entry closes", def.Type)

			// Replay the trade log and check the curve against cash plus
			// mark-to-market at every bar.
			cash := def.InitialCapital
			var shares int64
			ti := 0
			for i, bar := range bars {
				for ti < len(out.Trades) && out.Trades[ti].Timestamp.Equal(bar.Timestamp) {
					tr := out.Trades[ti]
					if tr.Action == domain.ActionBuy {
						cash -= tr.Cost
						shares += tr.Shares
					} else {
						cash += tr.Proceeds
						shares -= tr.Shares
					}
					ti++
				}
				want := cash + float64(shares)*bar.Close
				assert.InDelta(t, want, out.Equity[i].Value, 1e-6, "%s: equity at bar %d", def.Type, i)
				assert.GreaterOrEqual(t, cash, -1e-9, "%s: cash went negative at bar %d", def.Type, i)
			}
			assert.Equal(t, int64(0), shares)

			assert.GreaterOrEqual(t, out.Metrics.MaxDrawdownPct, 0.0)
			assert.LessOrEqual(t, out.Metrics.MaxDrawdownPct, 100.0)
		}
	}
}

func TestSimulateDeterministic(t *testing.T) {
	bars := randomBars(rand.New(rand.NewSource(5)), 500)
	def := domain.StrategyDefinition{
		Symbol:         "TEST",
		Type:           domain.StrategyMACD,
		InitialCapital: 10000,
		PositionSize:   75,
	}

	a, err := Simulate(context.Background(), def, bars, Options{})
	require.NoError(t, err)
	b, err := Simulate(context.Background(), def, bars, Options{})
	require.NoError(t, err)

	ja, _ := json.Marshal(struct {
		T []domain.Trade
		M domain.Metrics
	}{a.Trades, a.Metrics})
	jb, _ := json.Marshal(struct {
		T []domain.Trade
		M domain.Metrics
	}{b.Trades, b.Metrics})
	assert.Equal(t, string(ja), string(jb))
}

type memSource map[string][]domain.Bar

func (m memSource) Bars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range m[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestBacktesterRun(t *testing.T) {
	src := memSource{"TEST": closeBars(10, 10, 10, 12, 14, 8, 8, 8)}
	bt := NewBacktester(src, nil, 0, nil)

	res, err := bt.Run(context.Background(), smaDef(2, 3), day0, day0.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, 8, res.BarCount)
	require.NotNil(t, res.Metrics)
	assert.Len(t, res.Trades, 2)

	// No bars in range.
	res, err = bt.Run(context.Background(), smaDef(2, 3), day0.AddDate(1, 0, 0), day0.AddDate(2, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "insufficient_data", res.ErrorKind)
	assert.Nil(t, res.Metrics)
	assert.Nil(t, res.Trades)
	assert.Nil(t, res.EquityCurve)

	// Invalid parameters never produce a result.
	res, err = bt.Run(context.Background(), smaDef(3, 2), day0, day0.AddDate(0, 1, 0))
	assert.True(t, errors.Is(err, domain.ErrInvalidParameters))
	assert.Nil(t, res)
}
