package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cooperative-backend/internal/engine"
	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/internal/referrals"
	"github.com/angelmondragon/cooperative-backend/pkg/bootstrap"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/cooperative-backend/pkg/pubsub"
)

func main() {
	bootstrap.Main("worker", consume, bootstrap.WithRedis())
}

func consume(ctx context.Context, p *bootstrap.Process) error {
	cfg, logg := p.Config, p.Logger

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg,
		pubsub.RequireSubscriptions(cfg.PubSub.ReferralSubscription, cfg.PubSub.NotificationSubscription))
	if err != nil {
		return err
	}
	p.OnClose("pubsub", func(context.Context) error { return pubsubClient.Close() })

	eng, err := engine.Build(engine.Params{
		Config:  cfg,
		DB:      p.DB,
		Metrics: metrics.NewEngineMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	dedupe, err := idempotency.NewManager(p.Redis, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}
	referralConsumer, err := referrals.NewConsumer(eng.Referrals, pubsubClient.ReferralSubscription(), dedupe, logg)
	if err != nil {
		return err
	}
	notificationConsumer, err := notifications.NewConsumer(eng.Notifications, pubsubClient.NotificationSubscription(), dedupe, logg)
	if err != nil {
		return err
	}

	service, err := NewService(ServiceParams{
		Logger:               logg,
		DB:                   p.DB,
		Redis:                p.Redis,
		PubSub:               pubsubClient,
		ReferralConsumer:     referralConsumer,
		NotificationConsumer: notificationConsumer,
	})
	if err != nil {
		return err
	}
	return service.Run(ctx)
}
