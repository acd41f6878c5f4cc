// Package metrics exposes prometheus counters for the approval engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signoff"

// Recorder groups the engine metrics. A nil Recorder records nothing.
type Recorder struct {
	Registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	conflicts          *prometheus.CounterVec
	escalations        *prometheus.CounterVec
	escalationTicks    *prometheus.CounterVec
	syncFailures       *prometheus.CounterVec
	syncWrites         *prometheus.CounterVec
	notifyFailures     prometheus.Counter
	bulkItems          *prometheus.CounterVec
	escalationDuration prometheus.Histogram
}

// New registers the engine metrics on a fresh registry, with the go and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Recorder{
		Registry: registry,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed instance transitions by action and resulting status.",
		}, []string{"action", "status"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Transitions refused because of a concurrent or terminal state.",
		}, []string{"action"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "steps_total",
			Help:      "Overdue steps by outcome.",
		}, []string{"outcome"}),
		escalationTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome.",
		}, []string{"outcome"}),
		syncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource_sync",
			Name:      "failures_total",
			Help:      "Resource status pushes that exhausted their retries.",
		}, []string{"resource_type"}),
		syncWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource_sync",
			Name:      "pushes_total",
			Help:      "Resource status pushes by result.",
		}, []string{"result"}),
		notifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be dispatched.",
		}),
		bulkItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk items by action and result.",
		}, []string{"action", "result"}),
		escalationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "tick_duration_seconds",
			Help:      "Duration of escalation ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (r *Recorder) Transition(action, status string) {
	if r == nil {
		return
	}

	r.transitions.WithLabelValues(action, status).Inc()
}

func (r *Recorder) Conflict(action string) {
	if r == nil {
		return
	}

	r.conflicts.WithLabelValues(action).Inc()
}

// Escalation outcomes: escalated, missing_role, failed.
func (r *Recorder) Escalation(outcome string) {
	if r == nil {
		return
	}

	r.escalations.WithLabelValues(outcome).Inc()
}

// Tick outcomes: completed, skipped, failed.
func (r *Recorder) Tick(outcome string, seconds float64) {
	if r == nil {
		return
	}

	r.escalationTicks.WithLabelValues(outcome).Inc()

	if outcome != "skipped" {
		r.escalationDuration.Observe(seconds)
	}
}

func (r *Recorder) SyncFailure(resourceType string) {
	if r == nil {
		return
	}

	r.syncFailures.WithLabelValues(resourceType).Inc()
}

// Sync results: written, unchanged.
func (r *Recorder) SyncPush(result string) {
	if r == nil {
		return
	}

	r.syncWrites.WithLabelValues(result).Inc()
}

func (r *Recorder) NotifyFailure() {
	if r == nil {
		return
	}

	r.notifyFailures.Inc()
}

func (r *Recorder) BulkItem(action, result string) {
	if r == nil {
		return
	}

	r.bulkItems.WithLabelValues(action, result).Inc()
}
