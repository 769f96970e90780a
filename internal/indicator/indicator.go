// Package indicator computes technical indicators incrementally, one bar at a
// time. Every indicator reports (value, ok); ok is false until the lookback
// window has been filled, and warm-up values are never zero-filled.
package indicator

import (
	"fmt"

	"quantbench/internal/domain"
)

// Built-in series names. Price series are always present in a Snapshot.
const (
	Open   = "OPEN"
	High   = "HIGH"
	Low    = "LOW"
	Close  = "CLOSE"
	Volume = "VOLUME"

	SMAShort   = "SMA_SHORT"
	SMALong    = "SMA_LONG"
	EMAShort   = "EMA_SHORT"
	EMALong    = "EMA_LONG"
	RSI        = "RSI"
	MACD       = "MACD"
	MACDSignal = "MACD_SIGNAL"
	MACDHist   = "MACD_HIST"
	BBUpper    = "BB_UPPER"
	BBMiddle   = "BB_MIDDLE"
	BBLower    = "BB_LOWER"
)

// Indicator is a single-input streaming computation.
type Indicator interface {
	// Update feeds the next input value.
	Update(v float64)
	// Value returns the current output and whether it is defined.
	Value() (float64, bool)
	// WarmUp is the number of inputs needed before Value is defined.
	WarmUp() int
}

// MaxPeriod bounds every lookback window.
const MaxPeriod = 10000

func checkPeriod(name string, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %s period must be positive, got %d", domain.ErrInvalidParameters, name, n)
	}
	if n > MaxPeriod {
		return fmt.Errorf("%w: %s period %d exceeds %d", domain.ErrInvalidParameters, name, n, MaxPeriod)
	}
	return nil
}

// window is a fixed-size ring buffer of the most recent inputs.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(n int) window {
	return window{buf: make([]float64, n)}
}

func (w *window) push(v float64) {
	w.buf[w.next] = v
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

// mean sums the window in insertion order so results do not depend on the
// ring position.
func (w *window) mean() float64 {
	n := len(w.buf)
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.buf[(w.next+i)%n]
	}
	return sum / float64(n)
}
