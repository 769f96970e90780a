package strategy

import (
	"math"

	"quantbench/internal/domain"
	"quantbench/internal/indicator"
)

// equalsEpsilon is the absolute tolerance of the equals operator; it scales
// with magnitude above 1.
const equalsEpsilon = 1e-9

// resolve returns the left and right operands of c on one snapshot.
func resolve(c domain.Condition, s indicator.Snapshot) (lhs, rhs float64, ok bool) {
	lhs, ok = s.Get(c.Indicator)
	if !ok {
		return 0, 0, false
	}
	switch c.Target.Kind() {
	case domain.TargetSeries:
		rhs, ok = s.Get(c.Target.Series())
	case domain.TargetLiteral:
		rhs, ok = c.Target.Value(), true
	default:
		ok = false
	}
	return lhs, rhs, ok
}

// Evaluate reports whether c holds on the current bar. prev is nil on the
// first bar, where crossing operators are false. An undefined operand makes
// the condition false.
func Evaluate(c domain.Condition, cur indicator.Snapshot, prev *indicator.Snapshot) bool {
	a, b, ok := resolve(c, cur)
	if !ok {
		return false
	}

	switch c.Operator {
	case domain.OpGreaterThan:
		return a > b
	case domain.OpLessThan:
		return a < b
	case domain.OpGreaterOrEqual:
		return a >= b
	case domain.OpLessOrEqual:
		return a <= b
	case domain.OpEquals:
		return approxEqual(a, b)
	case domain.OpCrossesAbove, domain.OpCrossesBelow:
		if prev == nil {
			return false
		}
		pa, pb, ok := resolve(c, *prev)
		if !ok {
			return false
		}
		if c.Operator == domain.OpCrossesAbove {
			return pa <= pb && a > b
		}
		return pa >= pb && a < b
	}
	return false
}

// EvaluateAll ANDs a condition list. An empty list never signals.
func EvaluateAll(conds []domain.Condition, cur indicator.Snapshot, prev *indicator.Snapshot) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !Evaluate(c, cur, prev) {
			return false
		}
	}
	return true
}

func approxEqual(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= equalsEpsilon*scale
}
