package referrals

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/consumer"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

const cascadeConsumer = "referral-cascade"

type cascader interface {
	Cascade(ctx context.Context, refereeID uuid.UUID) (*CascadeResult, error)
}

// Consumer runs the referral cascade for members settling their first contribution.
type Consumer struct {
	subscription *pubsub.Subscriber
	pipeline     *consumer.Pipeline[payloads.ContributionSettledEvent]
}

// NewConsumer builds the contribution_settled consumer.
func NewConsumer(cascade cascader, subscription *pubsub.Subscriber, manager consumer.Runner, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("referral subscription required")
	}
	pipeline, err := cascadePipeline(cascade, manager, logg)
	if err != nil {
		return nil, err
	}
	return &Consumer{subscription: subscription, pipeline: pipeline}, nil
}

func cascadePipeline(cascade cascader, manager consumer.Runner, logg *logger.Logger) (*consumer.Pipeline[payloads.ContributionSettledEvent], error) {
	if cascade == nil {
		return nil, fmt.Errorf("referral service required")
	}
	handle := func(ctx context.Context, event *payloads.ContributionSettledEvent) error {
		res, err := cascade.Cascade(ctx, event.MemberID)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"member_id":       event.MemberID.String(),
			"direct_paid":     res.Direct != nil,
			"milestones_paid": len(res.Milestones),
		}), "referral cascade processed")
		return nil
	}
	pipeline, err := consumer.New[payloads.ContributionSettledEvent](cascadeConsumer, enums.EventContributionSettled, manager, handle, logg)
	if err != nil {
		return nil, err
	}
	// Only a member's first settled week can unlock referral bonuses.
	return pipeline.SkipWhen(func(e *payloads.ContributionSettledEvent) bool { return !e.FirstContribution }), nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.pipeline.Receive(ctx, c.subscription)
}
