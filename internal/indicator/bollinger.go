package indicator

import (
	"fmt"
	"math"

	"quantbench/internal/domain"
)

// Bollinger computes SMA(n) plus and minus k population standard deviations
// over the same window.
type Bollinger struct {
	n     int
	k     float64
	win   window
	mid   float64
	width float64
}

// NewBollinger creates Bollinger bands over n inputs at k deviations.
func NewBollinger(n int, k float64) (*Bollinger, error) {
	if err := checkPeriod("Bollinger", n); err != nil {
		return nil, err
	}
	if !(k > 0) || math.IsInf(k, 0) {
		return nil, fmt.Errorf("%w: bb_std must be positive, got %v", domain.ErrInvalidParameters, k)
	}
	return &Bollinger{n: n, k: k, win: newWindow(n)}, nil
}

func (b *Bollinger) Update(v float64) {
	b.win.push(v)
	if !b.win.full {
		return
	}
	b.mid = b.win.mean()
	var ss float64
	for _, x := range b.win.buf {
		d := x - b.mid
		ss += d * d
	}
	b.width = b.k * math.Sqrt(ss/float64(b.n))
}

// Value returns the middle band.
func (b *Bollinger) Value() (float64, bool) {
	if !b.win.full {
		return 0, false
	}
	return b.mid, true
}

// Bands returns the upper, middle and lower bands.
func (b *Bollinger) Bands() (upper, middle, lower float64, ok bool) {
	if !b.win.full {
		return 0, 0, 0, false
	}
	return b.mid + b.width, b.mid, b.mid - b.width, true
}

func (b *Bollinger) WarmUp() int { return b.n }
