// Package metrics exposes Prometheus instrumentation for the verification
// harness.
//
// All metrics are namespaced with "deliverify_". A nil *Collector is a
// valid no-op sink, so instrumented code never guards its calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the harness metrics:
//
//   - workers_active (gauge): currently initialized workers.
//   - events_collected_total (counter, by kind): events accepted by collectors.
//   - collect_timeouts_total (counter, by kind): collections that returned
//     partial results on deadline.
//   - verification_runs_total (counter, by scenario and outcome).
//   - event_latency_seconds (histogram): send-to-receive latency per event.
type Collector struct {
	workersActive   prometheus.Gauge
	eventsCollected *prometheus.CounterVec
	collectTimeouts *prometheus.CounterVec
	verifyRuns      *prometheus.CounterVec
	eventLatency    prometheus.Histogram
}

// NewCollector registers the harness metrics with the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		workersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deliverify_workers_active",
			Help: "Number of currently initialized workers.",
		}),
		eventsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverify_events_collected_total",
			Help: "Events accepted by stream collectors.",
		}, []string{"kind"}),
		collectTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverify_collect_timeouts_total",
			Help: "Collections that hit their deadline and returned partial results.",
		}, []string{"kind"}),
		verifyRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverify_verification_runs_total",
			Help: "Completed verification scenarios by outcome.",
		}, []string{"scenario", "outcome"}),
		eventLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deliverify_event_latency_seconds",
			Help:    "Send-to-receive latency of verified events.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),
	}
}

// WorkerStarted increments the active worker gauge.
func (c *Collector) WorkerStarted() {
	if c == nil {
		return
	}
	c.workersActive.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (c *Collector) WorkerStopped() {
	if c == nil {
		return
	}
	c.workersActive.Dec()
}

// EventCollected counts one accepted event.
func (c *Collector) EventCollected(kind string) {
	if c == nil {
		return
	}
	c.eventsCollected.WithLabelValues(kind).Inc()
}

// CollectTimeout counts one deadline-bounded partial collection.
func (c *Collector) CollectTimeout(kind string) {
	if c == nil {
		return
	}
	c.collectTimeouts.WithLabelValues(kind).Inc()
}

// VerificationRun counts one completed scenario.
func (c *Collector) VerificationRun(scenario string, passed bool) {
	if c == nil {
		return
	}
	outcome := "pass"
	if !passed {
		outcome = "fail"
	}
	c.verifyRuns.WithLabelValues(scenario, outcome).Inc()
}

// ObserveEventLatency records one send-to-receive latency sample.
func (c *Collector) ObserveEventLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.eventLatency.Observe(d.Seconds())
}
