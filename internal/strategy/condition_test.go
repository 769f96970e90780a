package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"quantbench/internal/domain"
	"quantbench/internal/indicator"
)

func snap(i int, vals map[string]float64) indicator.Snapshot {
	return indicator.NewSnapshot(i, vals)
}

func TestEvaluateComparisons(t *testing.T) {
	cur := snap(1, map[string]float64{"A": 5, "B": 5, "C": 7})

	tests := []struct {
		op     domain.Operator
		target domain.Target
		want   bool
	}{
		{domain.OpGreaterThan, domain.Ref("C"), false},
		{domain.OpLessThan, domain.Ref("C"), true},
		{domain.OpEquals, domain.Ref("B"), true},
		{domain.OpEquals, domain.Literal(5 + 1e-12), true},
		{domain.OpEquals, domain.Literal(5.001), false},
		{domain.OpGreaterOrEqual, domain.Ref("B"), true},
		{domain.OpLessOrEqual, domain.Literal(4), false},
		{domain.OpGreaterThan, domain.Literal(4), true},
	}
	for _, tt := range tests {
		c := domain.Condition{Indicator: "A", Operator: tt.op, Target: tt.target}
		assert.Equal(t, tt.want, Evaluate(c, cur, nil), "A %s %s", tt.op, tt.target)
	}
}

func TestEvaluateUndefinedOperandIsFalse(t *testing.T) {
	cur := snap(0, map[string]float64{"CLOSE": 10})
	for _, op := range []domain.Operator{domain.OpGreaterThan, domain.OpLessThan, domain.OpEquals, domain.OpCrossesAbove} {
		c := domain.Condition{Indicator: "RSI", Operator: op, Target: domain.Literal(30)}
		assert.False(t, Evaluate(c, cur, &cur), "undefined lhs with %s", op)

		c = domain.Condition{Indicator: "CLOSE", Operator: op, Target: domain.Ref("SMA_LONG")}
		assert.False(t, Evaluate(c, cur, &cur), "undefined rhs with %s", op)
	}
}

func TestEvaluateCrossing(t *testing.T) {
	above := domain.Condition{Indicator: "A", Operator: domain.OpCrossesAbove, Target: domain.Ref("B")}
	below := domain.Condition{Indicator: "A", Operator: domain.OpCrossesBelow, Target: domain.Ref("B")}

	prev := snap(0, map[string]float64{"A": 1, "B": 1})
	cur := snap(1, map[string]float64{"A": 2, "B": 1})
	assert.True(t, Evaluate(above, cur, &prev), "tie then above is a cross")
	assert.False(t, Evaluate(above, cur, nil), "first bar never crosses")
	assert.False(t, Evaluate(below, cur, &prev))

	prev = snap(0, map[string]float64{"A": 2, "B": 1})
	assert.False(t, Evaluate(above, cur, &prev), "already above")

	// The previous bar was in warm-up.
	prev = snap(0, map[string]float64{"A": 1})
	assert.False(t, Evaluate(above, cur, &prev))

	// Crossing a literal level.
	lvl := domain.Condition{Indicator: "A", Operator: domain.OpCrossesBelow, Target: domain.Literal(1.5)}
	prev = snap(0, map[string]float64{"A": 2})
	cur = snap(1, map[string]float64{"A": 1})
	assert.True(t, Evaluate(lvl, cur, &prev))
}

func TestEvaluateAll(t *testing.T) {
	cur := snap(0, map[string]float64{"A": 5})
	gt := domain.Condition{Indicator: "A", Operator: domain.OpGreaterThan, Target: domain.Literal(1)}
	lt := domain.Condition{Indicator: "A", Operator: domain.OpLessThan, Target: domain.Literal(1)}

	assert.False(t, EvaluateAll(nil, cur, nil), "empty list never signals")
	assert.True(t, EvaluateAll([]domain.Condition{gt}, cur, nil))
	assert.False(t, EvaluateAll([]domain.Condition{gt, lt}, cur, nil))
}

// crosses_above at bar i holds exactly when A_i > B_i and A_{i-1} <= B_{i-1};
// small integer values force frequent ties.
func TestCrossingPropertyRandomSeries(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	above := domain.Condition{Indicator: "A", Operator: domain.OpCrossesAbove, Target: domain.Ref("B")}
	below := domain.Condition{Indicator: "A", Operator: domain.OpCrossesBelow, Target: domain.Ref("B")}

	for trial := 0; trial < 50; trial++ {
		n := 200
		a := make([]float64, n)
		b := make([]float64, n)
		for i := range a {
			a[i] = float64(rng.Intn(3))
			b[i] = float64(rng.Intn(3))
		}
		var prev *indicator.Snapshot
		for i := 0; i < n; i++ {
			cur := snap(i, map[string]float64{"A": a[i], "B": b[i]})
			gotAbove := Evaluate(above, cur, prev)
			gotBelow := Evaluate(below, cur, prev)
			if i == 0 {
				assert.False(t, gotAbove)
				assert.False(t, gotBelow)
			} else {
				assert.Equal(t, a[i] > b[i] && a[i-1] <= b[i-1], gotAbove, "crosses_above at %d", i)
				assert.Equal(t, a[i] < b[i] && a[i-1] >= b[i-1], gotBelow, "crosses_below at %d", i)
			}
			assert.False(t, gotAbove && gotBelow, "both crossings at %d", i)
			prev = &cur
		}
	}
}
