package notifications

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/money"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/consumer"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

const bonusNotificationConsumer = "bonus-notifications"

type sender interface {
	Send(ctx context.Context, msg Message) error
}

// Consumer turns referral_bonus_paid domain events into member notifications.
type Consumer struct {
	subscription *pubsub.Subscriber
	pipeline     *consumer.Pipeline[payloads.ReferralBonusPaidEvent]
}

// NewConsumer builds a bonus notification consumer.
func NewConsumer(sink sender, subscription *pubsub.Subscriber, manager consumer.Runner, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	pipeline, err := bonusPipeline(sink, manager, logg)
	if err != nil {
		return nil, err
	}
	return &Consumer{subscription: subscription, pipeline: pipeline}, nil
}

func bonusPipeline(sink sender, manager consumer.Runner, logg *logger.Logger) (*consumer.Pipeline[payloads.ReferralBonusPaidEvent], error) {
	if sink == nil {
		return nil, fmt.Errorf("notification sink required")
	}
	return consumer.New[payloads.ReferralBonusPaidEvent](bonusNotificationConsumer, enums.EventReferralBonusPaid, manager,
		func(ctx context.Context, event *payloads.ReferralBonusPaidEvent) error {
			return sink.Send(ctx, bonusMessage(*event))
		}, logg)
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.pipeline.Receive(ctx, c.subscription)
}

func bonusMessage(p payloads.ReferralBonusPaidEvent) Message {
	body := fmt.Sprintf("A referral bonus of %s was added to your wallet.", money.Format(p.AmountCents))
	if p.Type == enums.BonusTypeTeam && p.Milestone != nil {
		body = fmt.Sprintf("You reached %d paid referrals. A team bonus of %s was added to your wallet.",
			*p.Milestone, money.Format(p.AmountCents))
	}
	return Message{
		MemberID: p.ReferrerID,
		Type:     enums.NotificationTypeBonusCredited,
		Title:    "Bonus credited",
		Body:     body,
	}
}
