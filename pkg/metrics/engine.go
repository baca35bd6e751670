package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics counts settlement engine outcomes. A nil *EngineMetrics is a no-op.
type EngineMetrics struct {
	settlements *prometheus.CounterVec
	missed      prometheus.Counter
	defaulted   prometheus.Counter
	completed   prometheus.Counter
	bonuses     *prometheus.CounterVec
	bonusCents  *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	m := &EngineMetrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_settlements_total",
			Help: "Settlement attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		missed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coop_contributions_missed_total",
			Help: "Contributions aged into the missed state.",
		}),
		defaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coop_subscriptions_defaulted_total",
			Help: "Subscriptions transitioned to defaulted.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coop_subscriptions_completed_total",
			Help: "Subscriptions that reached their tier duration.",
		}),
		bonuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_referral_bonuses_total",
			Help: "Referral bonuses credited by type.",
		}, []string{"type"}),
		bonusCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_referral_bonus_cents_total",
			Help: "Referral bonus amount credited, in minor units.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.settlements, m.missed, m.defaulted, m.completed, m.bonuses, m.bonusCents)
	return m
}

func (m *EngineMetrics) IncSettlement(mode, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(label(mode), label(outcome)).Inc()
}

func (m *EngineMetrics) AddMissed(n int) {
	if m == nil || m.missed == nil || n <= 0 {
		return
	}
	m.missed.Add(float64(n))
}

func (m *EngineMetrics) AddDefaulted(n int) {
	if m == nil || m.defaulted == nil || n <= 0 {
		return
	}
	m.defaulted.Add(float64(n))
}

func (m *EngineMetrics) IncCompleted() {
	if m == nil || m.completed == nil {
		return
	}
	m.completed.Inc()
}

func (m *EngineMetrics) ObserveBonus(bonusType string, cents int64) {
	if m == nil || m.bonuses == nil {
		return
	}
	m.bonuses.WithLabelValues(label(bonusType)).Inc()
	m.bonusCents.WithLabelValues(label(bonusType)).Add(float64(cents))
}
