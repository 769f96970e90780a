package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a condition comparison tag.
type Operator string

const (
	OpCrossesAbove   Operator = "crosses_above"
	OpCrossesBelow   Operator = "crosses_below"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpEquals         Operator = "equals"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
)

var operatorAliases = map[string]Operator{
	">":  OpGreaterThan,
	"<":  OpLessThan,
	"==": OpEquals,
	"=":  OpEquals,
	">=": OpGreaterOrEqual,
	"<=": OpLessOrEqual,
}

// ParseOperator normalises a tag or symbol alias into an Operator.
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(s)
	if op, ok := operatorAliases[s]; ok {
		return op, nil
	}
	op := Operator(strings.ToLower(s))
	switch op {
	case OpCrossesAbove, OpCrossesBelow, OpGreaterThan, OpLessThan,
		OpEquals, OpGreaterOrEqual, OpLessOrEqual:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidParameters, s)
}

// IsCrossing reports whether the operator needs the previous bar.
func (o Operator) IsCrossing() bool {
	return o == OpCrossesAbove || o == OpCrossesBelow
}

// TargetKind tags the two cases of a comparison target.
type TargetKind uint8

const (
	TargetNone TargetKind = iota
	TargetSeries
	TargetLiteral
)

// Target is the right-hand side of a condition: either another series or a
// constant.
type Target struct {
	kind   TargetKind
	series string
	value  float64
}

// Ref returns a target that resolves to the named series.
func Ref(name string) Target {
	return Target{kind: TargetSeries, series: strings.ToUpper(strings.TrimSpace(name))}
}

// Literal returns a constant target.
func Literal(v float64) Target {
	return Target{kind: TargetLiteral, value: v}
}

func (t Target) Kind() TargetKind { return t.kind }

// Series returns the referenced series name, or "" for literals.
func (t Target) Series() string { return t.series }

// Value returns the literal value, or 0 for series references.
func (t Target) Value() float64 { return t.value }

func (t Target) String() string {
	switch t.kind {
	case TargetSeries:
		return t.series
	case TargetLiteral:
		return fmt.Sprintf("%g", t.value)
	}
	return "<none>"
}

// Condition compares an indicator series against a target on each bar.
type Condition struct {
	Indicator string   `validate:"required"`
	Operator  Operator `validate:"required"`
	Target    Target
}

// NewCondition builds a validated condition.
func NewCondition(indicator string, op Operator, target Target) (Condition, error) {
	c := Condition{
		Indicator: strings.ToUpper(strings.TrimSpace(indicator)),
		Operator:  op,
		Target:    target,
	}
	return c, c.Check()
}

// Check verifies the structural invariants of the condition.
func (c Condition) Check() error {
	if c.Indicator == "" {
		return fmt.Errorf("%w: condition indicator is required", ErrInvalidParameters)
	}
	if _, err := ParseOperator(string(c.Operator)); err != nil {
		return err
	}
	if c.Target.kind == TargetNone || (c.Target.kind == TargetSeries && c.Target.series == "") {
		return fmt.Errorf("%w: condition on %s needs compare_to or value", ErrInvalidParameters, c.Indicator)
	}
	return nil
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Indicator, c.Operator, c.Target)
}

type conditionJSON struct {
	Indicator string   `json:"indicator"`
	Operator  string   `json:"operator"`
	CompareTo string   `json:"compare_to,omitempty"`
	Value     *float64 `json:"value,omitempty"`
}

// MarshalJSON encodes the target as compare_to or value.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{Indicator: c.Indicator, Operator: string(c.Operator)}
	switch c.Target.kind {
	case TargetSeries:
		out.CompareTo = c.Target.series
	case TargetLiteral:
		v := c.Target.value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts {indicator, operator, compare_to|value}. A numeric
// compare_to is treated as a literal. When both are present compare_to wins.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Indicator string          `json:"indicator"`
		Operator  string          `json:"operator"`
		CompareTo json.RawMessage `json:"compare_to"`
		Value     *float64        `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: condition: %v", ErrInvalidParameters, err)
	}
	op, err := ParseOperator(raw.Operator)
	if err != nil {
		return err
	}

	var target Target
	switch {
	case len(raw.CompareTo) > 0 && string(raw.CompareTo) != "null":
		var name string
		if err := json.Unmarshal(raw.CompareTo, &name); err == nil {
			if strings.TrimSpace(name) != "" {
				target = Ref(name)
			}
			break
		}
		var v float64
		if err := json.Unmarshal(raw.CompareTo, &v); err != nil {
			return fmt.Errorf("%w: compare_to must be a series name or number", ErrInvalidParameters)
		}
		target = Literal(v)
	}
	if target.kind == TargetNone && raw.Value != nil {
		target = Literal(*raw.Value)
	}

	built, err := NewCondition(raw.Indicator, op, target)
	if err != nil {
		return err
	}
	*c = built
	return nil
}
