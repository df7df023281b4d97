package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.WorkflowEvent("workflow.started")
	c.WorkflowEvent("workflow.started")
	c.SLATransition("paused")
	c.Breached(3)
	c.Breached(0)
	c.SweepFailed()
	c.ObserveSweep(120 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.WorkflowEvents.WithLabelValues("workflow.started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SLATransitions.WithLabelValues("paused")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SLABreaches))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SweepFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.WorkflowEvent("x")
		c.SLATransition("x")
		c.Breached(1)
		c.SweepFailed()
		c.ObserveSweep(time.Second)
	})
}
