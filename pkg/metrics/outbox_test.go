package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Inc("contribution_settled", OutboxPublished)
	m.Inc("contribution_settled", OutboxPublished)
	m.Inc("referral_bonus_paid", OutboxDeadLettered)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	published, err := fetchCounterValue(mfs, "coop_outbox_relayed_total", map[string]string{"outcome": OutboxPublished})
	require.NoError(t, err)
	assert.Equal(t, 2.0, published)

	dead, err := fetchCounterValue(mfs, "coop_outbox_relayed_total", map[string]string{"event_type": "referral_bonus_paid"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, dead)
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	assert.NotPanics(t, func() { m.Inc("x", OutboxRetry) })
	assert.NotPanics(t, func() { NewOutboxMetrics(nil).Inc("x", OutboxRetry) })
}
