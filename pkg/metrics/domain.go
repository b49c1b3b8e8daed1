package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the domain counters.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeNoop     = "noop"
)

// DomainMetrics counts order engine decisions. A nil receiver is a no-op so
// services can run without a registry in tests.
type DomainMetrics struct {
	transitions   *prometheus.CounterVec
	stock         *prometheus.CounterVec
	claims        *prometheus.CounterVec
	proximity     *prometheus.CounterVec
	proxDistance  prometheus.Histogram
	payouts       *prometheus.CounterVec
	upstreamFalls *prometheus.CounterVec
}

// NewDomainMetrics registers the domain counters on the provided registerer.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return nil
	}
	m := &DomainMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State transition attempts by aggregate, target and outcome.",
		}, []string{"aggregate", "target", "outcome"}),
		stock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_reservations_total",
			Help:      "Stock reservation attempts by outcome.",
		}, []string{"outcome"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_claims_total",
			Help:      "Courier claims and admin assignments by outcome.",
		}, []string{"kind", "outcome"}),
		proximity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proximity_checks_total",
			Help:      "Delivery proximity validations by outcome and reason.",
		}, []string{"outcome", "reason"}),
		proxDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proximity_distance_meters",
			Help:      "Distance between reported courier position and destination.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_payouts_total",
			Help:      "Wallet payout applications by transaction type and outcome.",
		}, []string{"type", "outcome"}),
		upstreamFalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fallbacks_total",
			Help:      "Calls to external providers that degraded to a default.",
		}, []string{"provider", "operation"}),
	}
	reg.MustRegister(m.transitions, m.stock, m.claims, m.proximity, m.proxDistance, m.payouts, m.upstreamFalls)
	return m
}

// Transition records an order or leg transition attempt.
func (m *DomainMetrics) Transition(aggregate, target, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(aggregate), normalizeLabel(target), normalizeLabel(outcome)).Inc()
}

// StockReservation records the outcome of one reservation batch.
func (m *DomainMetrics) StockReservation(outcome string) {
	if m == nil {
		return
	}
	m.stock.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Claim records a courier claim or admin assignment.
func (m *DomainMetrics) Claim(kind, outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// Proximity records a validation and, when known, the measured distance.
func (m *DomainMetrics) Proximity(outcome, reason string, distanceM float64) {
	if m == nil {
		return
	}
	m.proximity.WithLabelValues(normalizeLabel(outcome), normalizeLabel(reason)).Inc()
	if distanceM >= 0 {
		m.proxDistance.Observe(distanceM)
	}
}

// Payout records a wallet payout application.
func (m *DomainMetrics) Payout(txType, outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(txType), normalizeLabel(outcome)).Inc()
}

// UpstreamFallback records a degraded call to an external provider.
func (m *DomainMetrics) UpstreamFallback(provider, operation string) {
	if m == nil {
		return
	}
	m.upstreamFalls.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
