package indicator

// RSIIndicator is Wilder's relative strength index. The first averages are
// the simple means of the first n changes, so a value is available after
// n+1 inputs.
type RSIIndicator struct {
	n       int
	count   int
	prev    float64
	avgGain float64
	avgLoss float64
	sumGain float64
	sumLoss float64
}

var _ Indicator = (*RSIIndicator)(nil)

// NewRSI creates an n-period RSI.
func NewRSI(n int) (*RSIIndicator, error) {
	if err := checkPeriod("RSI", n); err != nil {
		return nil, err
	}
	return &RSIIndicator{n: n}, nil
}

func (r *RSIIndicator) Update(v float64) {
	r.count++
	if r.count == 1 {
		r.prev = v
		return
	}
	change := v - r.prev
	r.prev = v

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	changes := r.count - 1
	n := float64(r.n)
	switch {
	case changes < r.n:
		r.sumGain += gain
		r.sumLoss += loss
	case changes == r.n:
		r.sumGain += gain
		r.sumLoss += loss
		r.avgGain = r.sumGain / n
		r.avgLoss = r.sumLoss / n
	default:
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}
}

func (r *RSIIndicator) Value() (float64, bool) {
	if r.count <= r.n {
		return 0, false
	}
	if r.avgLoss == 0 {
		return 100, true
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs), true
}

func (r *RSIIndicator) WarmUp() int { return r.n + 1 }
