package indicator

import (
	"fmt"
	"sort"

	"quantbench/internal/domain"
)

// Snapshot holds the defined series values for one bar. Series still in
// warm-up are absent.
type Snapshot struct {
	Index  int
	Time   int64
	values map[string]float64
}

// NewSnapshot builds a snapshot from explicit values.
func NewSnapshot(index int, values map[string]float64) Snapshot {
	s := Snapshot{Index: index, values: make(map[string]float64, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get returns the named value and whether it is defined on this bar.
func (s Snapshot) Get(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Names returns the defined series names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Snapshot) set(name string, v float64) { s.values[name] = v }

// binding feeds one indicator and publishes its outputs under fixed names.
type binding struct {
	ind  Indicator
	emit func(s *Snapshot)
}

// Engine owns the indicator state of a single run. It is not safe for
// concurrent use.
type Engine struct {
	bindings []binding
	names    map[string]struct{}
	index    int
}

// NewEngine returns an empty engine that only publishes price series.
func NewEngine() *Engine {
	return &Engine{names: make(map[string]struct{})}
}

func (e *Engine) claim(names ...string) error {
	for _, n := range names {
		if _, dup := e.names[n]; dup {
			return fmt.Errorf("%w: series %s configured twice", domain.ErrInvalidParameters, n)
		}
		if isPriceSeries(n) {
			return fmt.Errorf("%w: series %s is reserved", domain.ErrInvalidParameters, n)
		}
	}
	for _, n := range names {
		e.names[n] = struct{}{}
	}
	return nil
}

func (e *Engine) addSingle(name string, ind Indicator) error {
	if err := e.claim(name); err != nil {
		return err
	}
	e.bindings = append(e.bindings, binding{
		ind: ind,
		emit: func(s *Snapshot) {
			if v, ok := ind.Value(); ok {
				s.set(name, v)
			}
		},
	})
	return nil
}

// AddSMA publishes an n-period SMA of closes under name.
func (e *Engine) AddSMA(name string, n int) error {
	ind, err := NewSMA(n)
	if err != nil {
		return err
	}
	return e.addSingle(name, ind)
}

// AddEMA publishes an n-period EMA of closes under name.
func (e *Engine) AddEMA(name string, n int) error {
	ind, err := NewEMA(n)
	if err != nil {
		return err
	}
	return e.addSingle(name, ind)
}

// AddRSI publishes an n-period RSI of closes under name.
func (e *Engine) AddRSI(name string, n int) error {
	ind, err := NewRSI(n)
	if err != nil {
		return err
	}
	return e.addSingle(name, ind)
}

// AddMACD publishes the MACD line, signal and histogram.
func (e *Engine) AddMACD(fast, slow, signal int) error {
	m, err := NewMACD(fast, slow, signal)
	if err != nil {
		return err
	}
	if err := e.claim(MACD, MACDSignal, MACDHist); err != nil {
		return err
	}
	e.bindings = append(e.bindings, binding{
		ind: m,
		emit: func(s *Snapshot) {
			if v, ok := m.Value(); ok {
				s.set(MACD, v)
			}
			if v, ok := m.Signal(); ok {
				s.set(MACDSignal, v)
			}
			if v, ok := m.Histogram(); ok {
				s.set(MACDHist, v)
			}
		},
	})
	return nil
}

// AddBollinger publishes the upper, middle and lower bands.
func (e *Engine) AddBollinger(n int, k float64) error {
	b, err := NewBollinger(n, k)
	if err != nil {
		return err
	}
	if err := e.claim(BBUpper, BBMiddle, BBLower); err != nil {
		return err
	}
	e.bindings = append(e.bindings, binding{
		ind: b,
		emit: func(s *Snapshot) {
			if u, m, l, ok := b.Bands(); ok {
				s.set(BBUpper, u)
				s.set(BBMiddle, m)
				s.set(BBLower, l)
			}
		},
	})
	return nil
}

// Has reports whether a series name is published by the engine.
func (e *Engine) Has(name string) bool {
	if isPriceSeries(name) {
		return true
	}
	_, ok := e.names[name]
	return ok
}

// WarmUp returns the largest warm-up window across configured indicators.
func (e *Engine) WarmUp() int {
	max := 0
	for _, b := range e.bindings {
		if w := b.ind.WarmUp(); w > max {
			max = w
		}
	}
	return max
}

// Update feeds the bar's close to every indicator and returns the snapshot
// for that bar.
func (e *Engine) Update(bar domain.Bar) Snapshot {
	s := Snapshot{
		Index:  e.index,
		Time:   bar.Timestamp.UnixMilli(),
		values: make(map[string]float64, len(e.names)+5),
	}
	e.index++

	s.set(Open, bar.Open)
	s.set(High, bar.High)
	s.set(Low, bar.Low)
	s.set(Close, bar.Close)
	s.set(Volume, float64(bar.Volume))

	for _, b := range e.bindings {
		b.ind.Update(bar.Close)
		b.emit(&s)
	}
	return s
}

func isPriceSeries(name string) bool {
	switch name {
	case Open, High, Low, Close, Volume:
		return true
	}
	return false
}
