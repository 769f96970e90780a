package indicator

// EMA is an exponential moving average with multiplier 2/(n+1), seeded with
// the simple mean of the first n inputs.
type EMA struct {
	n     int
	k     float64
	count int
	sum   float64
	val   float64
}

var _ Indicator = (*EMA)(nil)

// NewEMA creates an n-period exponential moving average.
func NewEMA(n int) (*EMA, error) {
	if err := checkPeriod("EMA", n); err != nil {
		return nil, err
	}
	return &EMA{n: n, k: 2 / float64(n+1)}, nil
}

func (e *EMA) Update(v float64) {
	e.count++
	switch {
	case e.count < e.n:
		e.sum += v
	case e.count == e.n:
		e.sum += v
		e.val = e.sum / float64(e.n)
	default:
		e.val = v*e.k + e.val*(1-e.k)
	}
}

func (e *EMA) Value() (float64, bool) {
	if e.count < e.n {
		return 0, false
	}
	return e.val, true
}

func (e *EMA) WarmUp() int { return e.n }
