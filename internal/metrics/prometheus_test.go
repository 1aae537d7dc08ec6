package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestRecorders(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.Detections.WithLabelValues("family"))
	r.RecordDetection("family")
	assert.Equal(t, before+1, testutil.ToFloat64(r.Detections.WithLabelValues("family")))

	r.RecordCycleError("recoverable", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(r.ConsecutiveFails))

	r.SetInterfaceHealthy(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.InterfaceHealthy))
	r.SetInterfaceHealthy(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(r.InterfaceHealthy))

	r.SetPaused(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Paused))
}
