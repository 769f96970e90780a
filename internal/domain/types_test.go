package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// A zero Position is flat.
	pos := Position{}
	if pos.IsLong() {
		t.Error("zero-value Position should not be long")
	}

	if ActionBuy != "BUY" {
		t.Errorf("ActionBuy = %q, want %q", ActionBuy, "BUY")
	}
	if MarketUS != "us" || MarketCN != "cn" {
		t.Error("Market constants have unexpected values")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("COMPLETED and FAILED must be terminal")
	}
	if StatusPending.Terminal() || StatusRunning.Terminal() {
		t.Error("PENDING and RUNNING must not be terminal")
	}
}

func TestStrategyTypeValid(t *testing.T) {
	for _, st := range StrategyTypes {
		if !st.Valid() {
			t.Errorf("%q.Valid() = false, want true", st)
		}
	}
	if StrategyType("MOMENTUM").Valid() {
		t.Error("unknown strategy type reported valid")
	}
}

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
	}{
		{"crosses_above", OpCrossesAbove},
		{"CROSSES_BELOW", OpCrossesBelow},
		{">", OpGreaterThan},
		{"<", OpLessThan},
		{"==", OpEquals},
		{">=", OpGreaterOrEqual},
		{"<=", OpLessOrEqual},
	}
	for _, tt := range tests {
		got, err := ParseOperator(tt.in)
		if err != nil {
			t.Errorf("ParseOperator(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOperator(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseOperator("between"); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("ParseOperator(between) error = %v, want ErrInvalidParameters", err)
	}
}

func TestConditionUnmarshal(t *testing.T) {
	var c Condition
	if err := json.Unmarshal([]byte(`{"indicator":"sma_short","operator":"crosses_above","compare_to":"SMA_LONG"}`), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Indicator != "SMA_SHORT" {
		t.Errorf("Indicator = %q, want %q", c.Indicator, "SMA_SHORT")
	}
	if c.Target.Kind() != TargetSeries || c.Target.Series() != "SMA_LONG" {
		t.Errorf("Target = %v, want series SMA_LONG", c.Target)
	}

	if err := json.Unmarshal([]byte(`{"indicator":"RSI","operator":"<","value":30}`), &c); err != nil {
		t.Fatalf("Unmarshal literal: %v", err)
	}
	if c.Operator != OpLessThan {
		t.Errorf("Operator = %q, want %q", c.Operator, OpLessThan)
	}
	if c.Target.Kind() != TargetLiteral || c.Target.Value() != 30 {
		t.Errorf("Target = %v, want literal 30", c.Target)
	}

	// Numeric compare_to is a literal.
	if err := json.Unmarshal([]byte(`{"indicator":"RSI","operator":"greater_than","compare_to":70}`), &c); err != nil {
		t.Fatalf("Unmarshal numeric compare_to: %v", err)
	}
	if c.Target.Kind() != TargetLiteral || c.Target.Value() != 70 {
		t.Errorf("Target = %v, want literal 70", c.Target)
	}

	err := json.Unmarshal([]byte(`{"indicator":"RSI","operator":"less_than"}`), &c)
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("missing target error = %v, want ErrInvalidParameters", err)
	}
}

func TestConditionRoundTrip(t *testing.T) {
	c, err := NewCondition("CLOSE", OpGreaterThan, Ref("BB_UPPER"))
	if err != nil {
		t.Fatalf("NewCondition: %v", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"indicator":"CLOSE","operator":"greater_than","compare_to":"BB_UPPER"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestBacktestResultClone(t *testing.T) {
	now := time.Now()
	r := &BacktestResult{
		ID:          "run-1",
		Status:      StatusCompleted,
		Metrics:     &Metrics{FinalValue: 1100},
		Trades:      []Trade{{Action: ActionBuy, Price: 10, Shares: 100}},
		EquityCurve: []EquityPoint{{Timestamp: now, Value: 1000}},
		StartedAt:   &now,
	}
	c := r.Clone()
	c.Metrics.FinalValue = 0
	c.Trades[0].Price = 99
	c.EquityCurve[0].Value = 0

	if r.Metrics.FinalValue != 1100 {
		t.Error("Clone shares Metrics with the original")
	}
	if r.Trades[0].Price != 10 {
		t.Error("Clone shares Trades with the original")
	}
	if r.EquityCurve[0].Value != 1000 {
		t.Error("Clone shares EquityCurve with the original")
	}

	s := r.Summary()
	if s.Trades != nil || s.EquityCurve != nil {
		t.Error("Summary should drop trades and equity curve")
	}
}

func TestErrorKind(t *testing.T) {
	if got := ErrorKind(ErrCancelled); got != "cancelled" {
		t.Errorf("ErrorKind(ErrCancelled) = %q, want %q", got, "cancelled")
	}
	if got := ErrorKind(errors.New("boom")); got != "internal" {
		t.Errorf("ErrorKind(boom) = %q, want %q", got, "internal")
	}
}
