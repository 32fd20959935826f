package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncTransition("approve", "ok")
	m.IncTransition("approve", "conflict")
	m.IncTransition("approve", "conflict")
	m.ObserveSweep(3, 1, time.Second)
	m.IncExport()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("approve", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("approve")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepMarked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exports))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTransition("submit", "ok")
		m.ObserveFine(350000)
		m.ObserveSweep(0, 0, time.Millisecond)
		m.IncExport()
	})
}
