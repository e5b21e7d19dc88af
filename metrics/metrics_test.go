package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector

	// Every method must be safe on a nil sink.
	c.WorkerStarted()
	c.WorkerStopped()
	c.EventCollected("message")
	c.CollectTimeout("message")
	c.VerificationRun("message", true)
	c.ObserveEventLatency(time.Millisecond)
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.WorkerStarted()
	c.WorkerStarted()
	c.WorkerStopped()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workersActive))

	c.EventCollected("message")
	c.EventCollected("message")
	c.EventCollected("consent")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsCollected.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsCollected.WithLabelValues("consent")))

	c.CollectTimeout("message")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.collectTimeouts.WithLabelValues("message")))

	c.VerificationRun("message", true)
	c.VerificationRun("message", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifyRuns.WithLabelValues("message", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifyRuns.WithLabelValues("message", "fail")))

	c.ObserveEventLatency(5 * time.Millisecond)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
