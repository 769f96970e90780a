package indicator

import (
	"fmt"

	"quantbench/internal/domain"
)

// MACDIndicator tracks the MACD line (fast EMA minus slow EMA), its signal
// line (an EMA of the MACD line) and the histogram (line minus signal).
// The line and signal warm up independently.
type MACDIndicator struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
	ready  bool
}

// NewMACD creates a MACD with the given fast, slow and signal periods.
func NewMACD(fast, slow, signal int) (*MACDIndicator, error) {
	f, err := NewEMA(fast)
	if err != nil {
		return nil, err
	}
	s, err := NewEMA(slow)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: macd_fast (%d) must be less than macd_slow (%d)",
			domain.ErrInvalidParameters, fast, slow)
	}
	sig, err := NewEMA(signal)
	if err != nil {
		return nil, err
	}
	return &MACDIndicator{fast: f, slow: s, signal: sig}, nil
}

func (m *MACDIndicator) Update(v float64) {
	m.fast.Update(v)
	m.slow.Update(v)
	fv, fok := m.fast.Value()
	sv, sok := m.slow.Value()
	if !fok || !sok {
		return
	}
	m.line = fv - sv
	m.ready = true
	m.signal.Update(m.line)
}

// Value returns the MACD line.
func (m *MACDIndicator) Value() (float64, bool) {
	if !m.ready {
		return 0, false
	}
	return m.line, true
}

// Signal returns the signal line.
func (m *MACDIndicator) Signal() (float64, bool) {
	return m.signal.Value()
}

// Histogram returns line minus signal.
func (m *MACDIndicator) Histogram() (float64, bool) {
	sig, ok := m.signal.Value()
	if !ok {
		return 0, false
	}
	return m.line - sig, true
}

// WarmUp is the number of inputs before the signal line is defined.
func (m *MACDIndicator) WarmUp() int {
	return m.slow.WarmUp() + m.signal.WarmUp() - 1
}
