package bounty

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the settlement counters. A nil *Metrics records nothing.
type Metrics struct {
	settlements    *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	claims         *prometheus.CounterVec
	reconciled     *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bountypay",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bountypay",
			Name:      "escalations_total",
			Help:      "Maintainer escalations by error type and severity.",
		}, []string{"error_type", "severity"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bountypay",
			Name:      "notification_failures_total",
			Help:      "Lifecycle events that could not be dispatched.",
		}, []string{"kind"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bountypay",
			Name:      "refunds_total",
			Help:      "Refund attempts by result.",
		}, []string{"result"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bountypay",
			Name:      "claims_created_total",
			Help:      "PR claims recorded, by whether the single-bounty fallback chose them.",
		}, []string{"fallback"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bountypay",
			Name:      "reconciled_bounties_total",
			Help:      "Ledger bounties moved to their on-chain status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.settlements, m.escalations, m.notifyFailures, m.refunds, m.claims, m.reconciled)
	}
	return m
}

func (m *Metrics) settlement(o Outcome) {
	if m != nil {
		m.settlements.WithLabelValues(string(o)).Inc()
	}
}

func (m *Metrics) escalation(e Escalation) {
	if m != nil {
		m.escalations.WithLabelValues(string(e.ErrorType), string(e.Severity)).Inc()
	}
}

func (m *Metrics) notifyFailure(k EventKind) {
	if m != nil {
		m.notifyFailures.WithLabelValues(string(k)).Inc()
	}
}

func (m *Metrics) refund(result string) {
	if m != nil {
		m.refunds.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) claim(fallback bool) {
	if m != nil {
		label := "false"
		if fallback {
			label = "true"
		}
		m.claims.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) reconcile(s BountyStatus) {
	if m != nil {
		m.reconciled.WithLabelValues(string(s)).Inc()
	}
}
