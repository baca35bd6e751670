package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	idleJitter            = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// ServiceParams wires the relay. Metrics, Now and PublisherFactory are optional.
type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
	Now              func() time.Time
}

// Service drains committed outbox rows onto Pub/Sub topics.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics
	tracer           trace.Tracer
	now              func() time.Time

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"config", p.Config == nil},
		{"logger", p.Logger == nil},
		{"database client", p.DB == nil},
		{"pubsub client", p.PubSub == nil},
		{"outbox repository", p.Repository == nil},
		{"event registry", p.Registry == nil},
		{"dlq repository", p.DLQRepository == nil},
	} {
		if dep.missing {
			return nil, fmt.Errorf("outbox publisher: %s is required", dep.name)
		}
	}

	svc := &Service{
		logg:             p.Logger,
		db:               p.DB,
		repo:             p.Repository,
		pubsub:           p.PubSub,
		registry:         p.Registry,
		dlq:              p.DLQRepository,
		publisherFactory: p.PublisherFactory,
		metrics:          p.Metrics,
		tracer:           otel.Tracer("github.com/angelmondragon/cooperative-backend/cmd/outbox-publisher"),
		now:              p.Now,
		batchSize:        orDefault(p.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:      orDefault(p.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(orDefault(p.Config.Outbox.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}
	if svc.publisherFactory == nil {
		svc.publisherFactory = func(topic string) publisher {
			return newGCPPublisher(p.PubSub.Publisher(topic))
		}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", dep.name), "readiness ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// failureBackoff grows the wait after consecutive failed batches, starting at
// the poll interval and capped at maxBackoff, with 25% jitter.
func (s *Service) failureBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.pollInterval
	b.MaxInterval = maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.Reset()
	return b
}

func (s *Service) idleWait() time.Duration {
	return s.pollInterval + rand.N(idleJitter)
}

// Run polls until ctx is cancelled. A batch that found rows is followed
// immediately by the next one; an empty batch waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	retry := s.failureBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		found, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			wait = retry.NextBackOff()
			s.logg.Error(s.logg.WithField(ctx, "retry_in_ms", wait.Milliseconds()), "outbox publisher batch error", err)
		case found:
			retry.Reset()
			continue
		default:
			retry.Reset()
			wait = s.idleWait()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// processBatch locks up to batchSize rows, relays each one and records the
// outcome in the same transaction. It reports whether any row was seen.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "outbox.RelayBatch")
	defer span.End()

	rows := 0
	tally := map[string]int{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		rows = len(events)
		for _, event := range events {
			outcome, err := s.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			tally[outcome]++
			s.metrics.Inc(string(event.EventType), outcome)
		}
		return nil
	})

	span.SetAttributes(
		attribute.Int("outbox.batch_rows", rows),
		attribute.Int("outbox.published", tally[metrics.OutboxPublished]),
		attribute.Int("outbox.retried", tally[metrics.OutboxRetry]),
		attribute.Int("outbox.dead_lettered", tally[metrics.OutboxDeadLettered]),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relay batch failed")
	}
	return rows > 0, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errNilPublishResult = errors.New("publish result is nil")
