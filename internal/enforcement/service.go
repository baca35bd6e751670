package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

const enforcementActor = "enforcement"

// Service applies the default policy to active subscriptions.
type Service interface {
	Enforce(ctx context.Context) (*Result, error)
	EnforceSubscriptions(ctx context.Context, subscriptionIDs []uuid.UUID) (*Result, error)
	CheckUserEnforcement(ctx context.Context, memberID uuid.UUID) (*MemberStanding, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result summarizes one enforcement pass.
type Result struct {
	SubscriptionsEvaluated int         `json:"subscriptionsEvaluated"`
	NewlyDefaulted         int         `json:"newlyDefaulted"`
	DefaultedIDs           []uuid.UUID `json:"defaultedSubscriptionIds"`
	Failed                 int         `json:"failed"`
}

// MemberStanding is the read-only enforcement view of one member.
type MemberStanding struct {
	MemberID       uuid.UUID               `json:"memberId"`
	SubscriptionID *uuid.UUID              `json:"subscriptionId,omitempty"`
	MissedWeeks    int                     `json:"missedWeeks"`
	Threshold      int                     `json:"threshold"`
	Status         enums.EnforcementStatus `json:"status"`
}

// Deps bundles the collaborators of the enforcement pass.
type Deps struct {
	DB            txRunner
	Repo          Repository
	Notifications notifications.Sink
	Outbox        outbox.Emitter
	Threshold     int
	Metrics       *metrics.EngineMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

type service struct {
	db        txRunner
	repo      Repository
	notifier  notifications.Sink
	emitter   outbox.Emitter
	threshold int
	metrics   *metrics.EngineMetrics
	logg      *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService wires the enforcement policy.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("enforcement repository required")
	case deps.Notifications == nil:
		return nil, fmt.Errorf("notification sink required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case deps.Threshold <= 0:
		return nil, fmt.Errorf("default threshold must be positive")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:        deps.DB,
		repo:      deps.Repo,
		notifier:  deps.Notifications,
		emitter:   deps.Outbox,
		threshold: deps.Threshold,
		metrics:   deps.Metrics,
		logg:      deps.Logger,
		tracer:    otel.Tracer("github.com/angelmondragon/cooperative-backend/internal/enforcement"),
		now:       now,
	}, nil
}

// Enforce evaluates every active subscription.
func (s *service) Enforce(ctx context.Context) (*Result, error) {
	return s.enforce(ctx, nil)
}

// EnforceSubscriptions evaluates only the listed subscriptions. Inactive ids
// are ignored.
func (s *service) EnforceSubscriptions(ctx context.Context, subscriptionIDs []uuid.UUID) (*Result, error) {
	if subscriptionIDs == nil {
		subscriptionIDs = []uuid.UUID{}
	}
	return s.enforce(ctx, subscriptionIDs)
}

func (s *service) enforce(ctx context.Context, subscriptionIDs []uuid.UUID) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "enforcement.Enforce")
	defer span.End()

	started := s.now()
	subs, err := s.repo.ListActive(ctx, subscriptionIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active subscriptions")
	}
	ids := make([]uuid.UUID, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	missed, err := s.repo.CountMissed(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count missed weeks")
	}

	result := &Result{SubscriptionsEvaluated: len(subs), DefaultedIDs: []uuid.UUID{}}
	var errs error
	for i := range subs {
		sub := subs[i]
		count := missed[sub.ID]
		if count < s.threshold {
			if err := s.repo.UpdateMissedCount(ctx, sub.ID, count); err != nil {
				result.Failed++
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			}
			continue
		}
		defaulted, err := s.freeze(ctx, sub, count)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if defaulted {
			result.NewlyDefaulted++
			result.DefaultedIDs = append(result.DefaultedIDs, sub.ID)
		}
	}

	s.metrics.AddDefaulted(result.NewlyDefaulted)
	span.SetAttributes(
		attribute.Int("enforcement.evaluated", result.SubscriptionsEvaluated),
		attribute.Int("enforcement.defaulted", result.NewlyDefaulted),
	)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"evaluated":   result.SubscriptionsEvaluated,
		"defaulted":   result.NewlyDefaulted,
		"failed":      result.Failed,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if errs != nil {
		span.RecordError(errs)
		span.SetStatus(codes.Error, "enforcement incomplete")
		s.logg.Error(logCtx, "enforcement pass incomplete", errs)
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "enforcement pass incomplete")
	}
	s.logg.Info(logCtx, "enforcement pass completed")
	return result, nil
}

// freeze defaults one subscription. The notification and event commit with
// the status change, and only the caller that wins the conditional update
// emits them.
func (s *service) freeze(ctx context.Context, sub models.Subscription, missed int) (bool, error) {
	now := s.now().UTC()
	var defaulted bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).MarkDefaulted(ctx, sub.ID, missed, now)
		if err != nil || !ok {
			return err
		}
		defaulted = true
		if err := s.notifier.NotifyTx(ctx, tx, notifications.Message{
			MemberID: sub.MemberID,
			Type:     enums.NotificationTypeAccountFrozen,
			Title:    "Account frozen",
			Body: fmt.Sprintf("Your subscription has been frozen after %d missed weekly contributions. Contact support to restore it.",
				missed),
		}); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionDefaulted,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{System: enforcementActor},
			OccurredAt:    now,
			Data: payloads.SubscriptionDefaultedEvent{
				SubscriptionID: sub.ID,
				MemberID:       sub.MemberID,
				MissedCount:    missed,
				Threshold:      s.threshold,
				DefaultedAt:    now,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if defaulted {
		logCtx := s.logg.WithMemberID(ctx, sub.MemberID.String())
		logCtx = s.logg.WithSubscriptionID(logCtx, sub.ID.String())
		logCtx = s.logg.WithField(logCtx, "missed_count", missed)
		s.logg.Warn(logCtx, "subscription defaulted")
	}
	return defaulted, nil
}

// CheckUserEnforcement reports the member's standing without changing it.
func (s *service) CheckUserEnforcement(ctx context.Context, memberID uuid.UUID) (*MemberStanding, error) {
	if memberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id is required")
	}
	standing := &MemberStanding{
		MemberID:  memberID,
		Threshold: s.threshold,
		Status:    enums.EnforcementStatusNoSubscription,
	}
	sub, err := s.repo.LatestSubscription(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return standing, nil
	}
	counts, err := s.repo.CountMissed(ctx, []uuid.UUID{sub.ID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count missed weeks")
	}
	subID := sub.ID
	standing.SubscriptionID = &subID
	standing.MissedWeeks = counts[sub.ID]
	standing.Status = deriveStatus(sub.Status, standing.MissedWeeks)
	return standing, nil
}

func deriveStatus(status enums.SubscriptionStatus, missed int) enums.EnforcementStatus {
	switch {
	case status == enums.SubscriptionStatusDefaulted:
		return enums.EnforcementStatusDefaulted
	case status == enums.SubscriptionStatusCompleted:
		return enums.EnforcementStatusCompleted
	case missed > 0:
		return enums.EnforcementStatusAtRisk
	default:
		return enums.EnforcementStatusGoodStanding
	}
}
