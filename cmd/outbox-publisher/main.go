package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cooperative-backend/pkg/bootstrap"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/registry"
	"github.com/angelmondragon/cooperative-backend/pkg/pubsub"
)

// requeueList is set by -requeue; when non-empty the binary hands the listed
// dead letters back to the relay and exits.
var requeueList string

func main() {
	flag.StringVar(&requeueList, "requeue", "", "comma-separated dead-lettered event ids to hand back to the relay, then exit")
	flag.Parse()
	bootstrap.Main("outbox-publisher", relayOutbox)
}

func relayOutbox(ctx context.Context, p *bootstrap.Process) error {
	cfg, logg := p.Config, p.Logger

	dlqRepo := outbox.NewDLQRepository(p.DB.DB())
	if requeueList != "" {
		return requeueDeadLetters(ctx, dlqRepo, requeueList, logg)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, pubsub.RequireTopics(cfg.PubSub.DomainTopic))
	if err != nil {
		return err
	}
	p.OnClose("pubsub", func(context.Context) error { return pubsubClient.Close() })

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            p.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(p.DB.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	if addr := cfg.Outbox.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
		p.OnClose("metrics listener", func(context.Context) error { return metricsSrv.Close() })
	}
	return service.Run(ctx)
}

type requeuer interface {
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

func requeueDeadLetters(ctx context.Context, dlq requeuer, list string, logg *logger.Logger) error {
	var errs error
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("event id %q: %w", raw, err))
			continue
		}
		if err := dlq.Requeue(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("requeue %s: %w", id, err))
			continue
		}
		logg.Info(logg.WithField(ctx, "event_id", id.String()), "dead letter requeued")
	}
	return errs
}
