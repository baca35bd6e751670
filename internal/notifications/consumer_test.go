package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/consumer"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type memoryRunner struct {
	done map[uuid.UUID]bool
}

func (m *memoryRunner) Run(ctx context.Context, _ string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	if m.done[eventID] {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return true, err
	}
	m.done[eventID] = true
	return true, nil
}

func newTestPipeline(t *testing.T, sink sender) *consumer.Pipeline[payloads.ReferralBonusPaidEvent] {
	t.Helper()
	p, err := bonusPipeline(sink, &memoryRunner{done: map[uuid.UUID]bool{}}, logger.Nop())
	require.NoError(t, err)
	return p
}

func bonusEnvelope(t *testing.T, eventID uuid.UUID, event payloads.ReferralBonusPaidEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}

func TestConsumer_NotifiesReferrerOnce(t *testing.T) {
	sink := &fakeSender{}
	c := newTestPipeline(t, sink)
	referrer := uuid.New()
	eventID := uuid.New()
	raw := bonusEnvelope(t, eventID, payloads.ReferralBonusPaidEvent{
		BonusID: uuid.New(), ReferrerID: referrer, Type: enums.BonusTypeDirect, AmountCents: 100000,
	})
	attrs := map[string]string{"event_type": string(enums.EventReferralBonusPaid)}

	assert.Equal(t, consumer.Ack, c.Process(context.Background(), "m1", attrs, raw))
	assert.Equal(t, consumer.Ack, c.Process(context.Background(), "m2", attrs, raw))

	require.Len(t, sink.sent, 1)
	assert.Equal(t, referrer, sink.sent[0].MemberID)
	assert.Equal(t, enums.NotificationTypeBonusCredited, sink.sent[0].Type)
	assert.Contains(t, sink.sent[0].Body, "NGN 1,000.00")
}

func TestNewConsumer_RequiresDependencies(t *testing.T) {
	_, err := NewConsumer(&fakeSender{}, nil, &memoryRunner{}, logger.Nop())
	assert.Error(t, err)
	_, err = bonusPipeline(nil, &memoryRunner{}, logger.Nop())
	assert.Error(t, err)
}

func TestConsumer_TeamBonusMessage(t *testing.T) {
	milestone := 5
	msg := bonusMessage(payloads.ReferralBonusPaidEvent{
		ReferrerID: uuid.New(), Type: enums.BonusTypeTeam, Milestone: &milestone, AmountCents: 500000,
	})
	assert.Contains(t, msg.Body, "5 paid referrals")
	assert.Contains(t, msg.Body, "NGN 5,000.00")
}

func TestConsumer_IgnoresOtherEvents(t *testing.T) {
	sink := &fakeSender{}
	c := newTestPipeline(t, sink)
	res := c.Process(context.Background(), "m1", map[string]string{"event_type": string(enums.EventContributionSettled)}, []byte("{}"))
	assert.Equal(t, consumer.Ack, res)
	assert.Empty(t, sink.sent)
}

func TestConsumer_AcksPoisonMessages(t *testing.T) {
	c := newTestPipeline(t, &fakeSender{})
	attrs := map[string]string{"event_type": string(enums.EventReferralBonusPaid)}

	assert.Equal(t, consumer.Ack, c.Process(context.Background(), "m1", attrs, []byte("not-json")))

	raw, err := json.Marshal(outbox.PayloadEnvelope{Version: 7, EventID: uuid.NewString(), Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, consumer.Ack, c.Process(context.Background(), "m2", attrs, raw))
}

func TestConsumer_NacksWhenSinkFails(t *testing.T) {
	sink := &fakeSender{err: errors.New("db down")}
	c := newTestPipeline(t, sink)
	raw := bonusEnvelope(t, uuid.New(), payloads.ReferralBonusPaidEvent{
		BonusID: uuid.New(), ReferrerID: uuid.New(), Type: enums.BonusTypeDirect, AmountCents: 1,
	})
	res := c.Process(context.Background(), "m1", map[string]string{"event_type": string(enums.EventReferralBonusPaid)}, raw)
	assert.Equal(t, consumer.Nack, res)
}
