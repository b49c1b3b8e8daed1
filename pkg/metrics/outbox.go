package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Relay results.
const (
	RelayPublished  = "published"
	RelayRetry      = "retry"
	RelayDeadLetter = "dead_letter"
	RelayDeferred   = "deferred"
)

// OutboxMetrics counts relay decisions per event type. A nil receiver is a no-op.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	lag    prometheus.Histogram
}

// NewOutboxMetrics registers the relay metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox rows handled by the relay, by event type and result.",
		}, []string{"event_type", "result"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_publish_lag_seconds",
			Help:      "Time between an event being written and being published.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 15, 60, 300},
		}),
	}
	reg.MustRegister(m.events, m.lag)
	return m
}

// Event records what the relay did with one row.
func (m *OutboxMetrics) Event(eventType, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// ObserveLag records the write-to-publish delay in seconds.
func (m *OutboxMetrics) ObserveLag(seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.lag.Observe(seconds)
}
