package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts relay outcomes by event type. A nil *OutboxMetrics is a no-op.
type OutboxMetrics struct {
	relayed *prometheus.CounterVec
}

const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// NewOutboxMetrics registers the outbox relay metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coop_outbox_relayed_total",
		Help: "Outbox rows processed by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(relayed)
	return &OutboxMetrics{relayed: relayed}
}

// Inc records one relay outcome.
func (m *OutboxMetrics) Inc(eventType, outcome string) {
	if m == nil || m.relayed == nil {
		return
	}
	m.relayed.WithLabelValues(label(eventType), outcome).Inc()
}
