// Package telemetry exports backtest runner metrics to Prometheus.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"quantbench/internal/domain"
)

// Recorder implements strategy.Recorder with Prometheus collectors.
type Recorder struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	active    prometheus.Gauge
	bars      prometheus.Counter
	duration  *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantbench",
			Subsystem: "backtest",
			Name:      "runs_submitted_total",
			Help:      "Backtest runs accepted, by strategy type",
		}, []string{"strategy_type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantbench",
			Subsystem: "backtest",
			Name:      "runs_finished_total",
			Help:      "Backtest runs settled, by status and error kind",
		}, []string{"status", "kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quantbench",
			Subsystem: "backtest",
			Name:      "runs_active",
			Help:      "Backtest runs currently executing",
		}),
		bars: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantbench",
			Subsystem: "backtest",
			Name:      "bars_processed_total",
			Help:      "Price bars processed across all runs",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quantbench",
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Wall time from submission to settlement",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"status"}),
	}
	reg.MustRegister(r.submitted, r.finished, r.active, r.bars, r.duration)
	return r
}

func (r *Recorder) RunSubmitted(strategyType string) {
	r.submitted.WithLabelValues(strategyType).Inc()
}

func (r *Recorder) RunStarted() { r.active.Inc() }

// RunFinished records a settled run. Runs that never started (cancelled
// while queued) still count as finished.
func (r *Recorder) RunFinished(status domain.RunStatus, kind string, elapsed time.Duration, started bool) {
	if started {
		r.active.Dec()
	}
	if kind == "" {
		kind = "none"
	}
	r.finished.WithLabelValues(string(status), kind).Inc()
	r.duration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (r *Recorder) BarsProcessed(n int) { r.bars.Add(float64(n)) }
