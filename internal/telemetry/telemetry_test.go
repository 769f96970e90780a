package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbench/internal/domain"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RunSubmitted("RSI")
	r.RunSubmitted("RSI")
	r.RunStarted()
	r.RunStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.active))

	r.BarsProcessed(250)
	r.RunFinished(domain.StatusCompleted, "", 1500*time.Millisecond, true)
	r.RunFinished(domain.StatusFailed, "cancelled", time.Second, true)
	// Cancelled while queued: never counted as active.
	r.RunFinished(domain.StatusFailed, "cancelled", time.Second, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.submitted.WithLabelValues("RSI")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.active))
	assert.Equal(t, 250.0, testutil.ToFloat64(r.bars))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.finished.WithLabelValues("COMPLETED", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.finished.WithLabelValues("FAILED", "cancelled")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["quantbench_backtest_run_duration_seconds"])
	assert.True(t, names["quantbench_backtest_runs_active"])
}

func TestNewRecorderRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) })
}
