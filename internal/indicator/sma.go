package indicator

// SMA is the arithmetic mean of the last n inputs.
type SMA struct {
	n   int
	win window
	val float64
}

var _ Indicator = (*SMA)(nil)

// NewSMA creates an n-period simple moving average.
func NewSMA(n int) (*SMA, error) {
	if err := checkPeriod("SMA", n); err != nil {
		return nil, err
	}
	return &SMA{n: n, win: newWindow(n)}, nil
}

func (s *SMA) Update(v float64) {
	s.win.push(v)
	if s.win.full {
		s.val = s.win.mean()
	}
}

func (s *SMA) Value() (float64, bool) {
	if !s.win.full {
		return 0, false
	}
	return s.val, true
}

func (s *SMA) WarmUp() int { return s.n }
