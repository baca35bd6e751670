package enforcement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/internal/testdb"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
)

var now = time.Date(2024, 1, 20, 6, 0, 0, 0, time.UTC)

type harness struct {
	svc Service
	fx  *testdb.Fixture
	reg *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := testdb.Open(t)
	logg := logger.Nop()
	notifySvc, err := notifications.NewService(notifications.NewRepository(client.DB()), logg)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	svc, err := NewService(Deps{
		DB:            client,
		Repo:          NewRepository(client.DB()),
		Notifications: notifySvc,
		Outbox:        outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Threshold:     2,
		Metrics:       metrics.NewEngineMetrics(reg),
		Logger:        logg,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	return &harness{svc: svc, fx: testdb.NewFixture(t, client), reg: reg}
}

// subscription creates an active subscription with the given number of missed weeks.
func (h *harness) subscription(missed int) models.Subscription {
	member := h.fx.Member(0)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := h.fx.Subscription(member.ID, h.fx.Tier(1000, 200, 13), enums.SubscriptionStatusActive, 0, start)
	for week := 1; week <= missed; week++ {
		h.fx.Contribution(sub, week, enums.ContributionStatusMissed, start.AddDate(0, 0, 7*week))
	}
	return sub
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.NotEmpty(t, family.GetMetric())
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}

func TestEnforce_DefaultsAtThresholdOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subscription(2)

	res, err := h.svc.Enforce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubscriptionsEvaluated)
	assert.Equal(t, 1, res.NewlyDefaulted)
	assert.Equal(t, []uuid.UUID{sub.ID}, res.DefaultedIDs)

	again, err := h.svc.Enforce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.SubscriptionsEvaluated)
	assert.Zero(t, again.NewlyDefaulted)

	assert.Equal(t, int64(1), h.fx.Count(&models.Subscription{}, "id = ? AND status = ? AND missed_count = ?", sub.ID, enums.SubscriptionStatusDefaulted, 2))
	assert.Equal(t, int64(1), h.fx.Count(&models.Notification{}, "member_id = ? AND type = ?", sub.MemberID, enums.NotificationTypeAccountFrozen))
	assert.Equal(t, int64(1), h.fx.Count(&models.OutboxEvent{}, "event_type = ?", enums.EventSubscriptionDefaulted))
	assert.Equal(t, float64(1), h.counter(t, "coop_subscriptions_defaulted_total"))
}

func TestEnforce_BelowThresholdRecordsCount(t *testing.T) {
	h := newHarness(t)
	healthy := h.subscription(0)
	atRisk := h.subscription(1)

	res, err := h.svc.Enforce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.SubscriptionsEvaluated)
	assert.Zero(t, res.NewlyDefaulted)

	assert.Equal(t, int64(1), h.fx.Count(&models.Subscription{}, "id = ? AND status = ? AND missed_count = 0", healthy.ID, enums.SubscriptionStatusActive))
	assert.Equal(t, int64(1), h.fx.Count(&models.Subscription{}, "id = ? AND status = ? AND missed_count = 1", atRisk.ID, enums.SubscriptionStatusActive))
	assert.Zero(t, h.fx.Count(&models.Notification{}, ""))
}

func TestEnforce_SkipsNonActiveSubscriptions(t *testing.T) {
	h := newHarness(t)
	member := h.fx.Member(0)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	done := h.fx.Subscription(member.ID, h.fx.Tier(1000, 0, 2), enums.SubscriptionStatusCompleted, 2, start)
	h.fx.Contribution(done, 1, enums.ContributionStatusMissed, start)
	h.fx.Contribution(done, 2, enums.ContributionStatusMissed, start.AddDate(0, 0, 7))

	res, err := h.svc.Enforce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.SubscriptionsEvaluated)
	assert.Equal(t, int64(1), h.fx.Count(&models.Subscription{}, "id = ? AND status = ?", done.ID, enums.SubscriptionStatusCompleted))
}

func TestEnforceSubscriptions_OnlyListed(t *testing.T) {
	h := newHarness(t)
	first := h.subscription(3)
	second := h.subscription(2)

	res, err := h.svc.EnforceSubscriptions(context.Background(), []uuid.UUID{first.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubscriptionsEvaluated)
	assert.Equal(t, []uuid.UUID{first.ID}, res.DefaultedIDs)
	assert.Equal(t, int64(1), h.fx.Count(&models.Subscription{}, "id = ? AND status = ?", second.ID, enums.SubscriptionStatusActive))

	empty, err := h.svc.EnforceSubscriptions(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, empty.SubscriptionsEvaluated)
}

func TestCheckUserEnforcement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	nobody := h.fx.Member(0)
	standing, err := h.svc.CheckUserEnforcement(ctx, nobody.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EnforcementStatusNoSubscription, standing.Status)
	assert.Nil(t, standing.SubscriptionID)

	healthy := h.subscription(0)
	standing, err = h.svc.CheckUserEnforcement(ctx, healthy.MemberID)
	require.NoError(t, err)
	assert.Equal(t, enums.EnforcementStatusGoodStanding, standing.Status)

	risky := h.subscription(1)
	standing, err = h.svc.CheckUserEnforcement(ctx, risky.MemberID)
	require.NoError(t, err)
	assert.Equal(t, enums.EnforcementStatusAtRisk, standing.Status)
	assert.Equal(t, 1, standing.MissedWeeks)
	assert.Equal(t, 2, standing.Threshold)

	frozen := h.subscription(2)
	standing, err = h.svc.CheckUserEnforcement(ctx, frozen.MemberID)
	require.NoError(t, err)
	assert.Equal(t, enums.EnforcementStatusAtRisk, standing.Status)
	assert.Equal(t, int64(1), h.fx.Count(&models.Subscription{}, "id = ? AND status = ?", frozen.ID, enums.SubscriptionStatusActive))

	_, err = h.svc.Enforce(ctx)
	require.NoError(t, err)
	standing, err = h.svc.CheckUserEnforcement(ctx, frozen.MemberID)
	require.NoError(t, err)
	assert.Equal(t, enums.EnforcementStatusDefaulted, standing.Status)
	assert.Equal(t, 2, standing.MissedWeeks)

	_, err = h.svc.CheckUserEnforcement(ctx, uuid.Nil)
	assert.Error(t, err)
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		status enums.SubscriptionStatus
		missed int
		want   enums.EnforcementStatus
	}{
		{enums.SubscriptionStatusActive, 0, enums.EnforcementStatusGoodStanding},
		{enums.SubscriptionStatusActive, 1, enums.EnforcementStatusAtRisk},
		{enums.SubscriptionStatusDefaulted, 2, enums.EnforcementStatusDefaulted},
		{enums.SubscriptionStatusCompleted, 1, enums.EnforcementStatusCompleted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, deriveStatus(tc.status, tc.missed))
	}
}
