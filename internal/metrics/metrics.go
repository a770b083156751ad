// Package metrics registers the orchestrator's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the queue's prometheus collectors. A nil *Metrics is safe
// to record against; every helper no-ops, so callers can wire metrics
// optionally.
type Metrics struct {
	runsEnqueued     prometheus.Counter
	runsSucceeded    prometheus.Counter
	runsRetried      prometheus.Counter
	runsDeadLettered prometheus.Counter
	runsReplayed     prometheus.Counter
	runsCanceled     prometheus.Counter
	queueDepth       prometheus.Gauge
}

// New registers the collectors on reg. Tests pass an isolated registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetmend_runs_enqueued_total",
			Help: "Remediation runs enqueued.",
		}),
		runsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetmend_runs_succeeded_total",
			Help: "Remediation runs that completed successfully.",
		}),
		runsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetmend_runs_retried_total",
			Help: "Failed attempts re-queued for retry.",
		}),
		runsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetmend_runs_dead_lettered_total",
			Help: "Runs quarantined after exhausting their retry budget.",
		}),
		runsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetmend_runs_replayed_total",
			Help: "Dead-lettered runs replayed into fresh runs.",
		}),
		runsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetmend_runs_canceled_total",
			Help: "Runs canceled by approval rejection.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetmend_queue_depth",
			Help: "Runs currently in the queued state.",
		}),
	}
}

func (m *Metrics) IncEnqueued() {
	if m != nil {
		m.runsEnqueued.Inc()
	}
}

func (m *Metrics) IncSucceeded() {
	if m != nil {
		m.runsSucceeded.Inc()
	}
}

func (m *Metrics) IncRetried() {
	if m != nil {
		m.runsRetried.Inc()
	}
}

func (m *Metrics) IncDeadLettered() {
	if m != nil {
		m.runsDeadLettered.Inc()
	}
}

func (m *Metrics) IncReplayed() {
	if m != nil {
		m.runsReplayed.Inc()
	}
}

func (m *Metrics) IncCanceled() {
	if m != nil {
		m.runsCanceled.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
