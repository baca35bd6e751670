package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/internal/contributions"
	"github.com/angelmondragon/cooperative-backend/internal/enforcement"
	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/money"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

const (
	sweepActor         = "contribution-sweep"
	defaultConcurrency = 4
)

// Sweeper runs the scheduled contribution pass.
type Sweeper interface {
	Run(ctx context.Context) (*SweepResult, error)
}

type settler interface {
	Settle(ctx context.Context, memberID uuid.UUID, mode enums.SettlementMode) (*contributions.Result, error)
}

type enforcer interface {
	EnforceSubscriptions(ctx context.Context, subscriptionIDs []uuid.UUID) (*enforcement.Result, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SweepResult summarizes one sweep. Processed counts settlement attempts.
type SweepResult struct {
	Processed   int                 `json:"processed"`
	Succeeded   int                 `json:"succeeded"`
	Deferred    int                 `json:"deferred"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	MissedCount int                 `json:"missedCount"`
	Enforcement *enforcement.Result `json:"enforcement,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	DurationMS  int64               `json:"durationMs"`
}

// Deps bundles the collaborators of the sweep.
type Deps struct {
	DB              txRunner
	Repo            Repository
	Settler         settler
	Enforcer        enforcer
	Notifications   notifications.Sink
	Outbox          outbox.Emitter
	Concurrency     int
	MissGracePeriod time.Duration
	Metrics         *metrics.EngineMetrics
	Logger          *logger.Logger
	Now             func() time.Time
}

type sweeper struct {
	db          txRunner
	repo        Repository
	settler     settler
	enforcer    enforcer
	notifier    notifications.Sink
	emitter     outbox.Emitter
	concurrency int
	grace       time.Duration
	metrics     *metrics.EngineMetrics
	logg        *logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSweeper wires the scheduled sweep.
func NewSweeper(deps Deps) (Sweeper, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("sweep repository required")
	case deps.Settler == nil:
		return nil, fmt.Errorf("contribution service required")
	case deps.Enforcer == nil:
		return nil, fmt.Errorf("enforcement service required")
	case deps.Notifications == nil:
		return nil, fmt.Errorf("notification sink required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case deps.MissGracePeriod < 0:
		return nil, fmt.Errorf("miss grace period must not be negative")
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &sweeper{
		db:          deps.DB,
		repo:        deps.Repo,
		settler:     deps.Settler,
		enforcer:    deps.Enforcer,
		notifier:    deps.Notifications,
		emitter:     deps.Outbox,
		concurrency: concurrency,
		grace:       deps.MissGracePeriod,
		metrics:     deps.Metrics,
		logg:        deps.Logger,
		tracer:      otel.Tracer("github.com/angelmondragon/cooperative-backend/internal/automation"),
		now:         now,
	}, nil
}

type tally struct {
	mu  sync.Mutex
	res *SweepResult
	err error
}

func (t *tally) record(fn func(*SweepResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.res)
}

func (t *tally) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.res.Failed++
	t.err = multierr.Append(t.err, err)
}

// Run settles every due week automatically, ages weeks past the grace period
// to missed, then applies enforcement to the subscriptions that gained a miss.
// Per-item failures are counted and reported without stopping the pass.
func (s *sweeper) Run(ctx context.Context) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.Sweep")
	defer span.End()

	started := s.now().UTC()
	t := &tally{res: &SweepResult{StartedAt: started}}

	due, err := s.repo.DueMembers(ctx, started)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due members")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, member := range due {
		member := member
		g.Go(func() error {
			s.settleMember(gctx, t, member)
			return nil
		})
	}
	_ = g.Wait()

	aged, err := s.ageOverdue(ctx, t, started)
	if err != nil {
		return nil, err
	}
	if len(aged) > 0 {
		enforced, err := s.enforcer.EnforceSubscriptions(ctx, aged)
		if err != nil {
			t.fail(fmt.Errorf("enforcement: %w", err))
		}
		t.res.Enforcement = enforced
	}

	res := t.res
	res.DurationMS = time.Since(started).Milliseconds()
	span.SetAttributes(
		attribute.Int("sweep.processed", res.Processed),
		attribute.Int("sweep.succeeded", res.Succeeded),
		attribute.Int("sweep.failed", res.Failed),
		attribute.Int("sweep.missed", res.MissedCount),
	)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"members":     len(due),
		"processed":   res.Processed,
		"succeeded":   res.Succeeded,
		"deferred":    res.Deferred,
		"skipped":     res.Skipped,
		"failed":      res.Failed,
		"missed":      res.MissedCount,
		"duration_ms": res.DurationMS,
	})
	if t.err != nil {
		s.logg.Warn(logCtx, fmt.Sprintf("contribution sweep completed with failures: %v", t.err))
	} else {
		s.logg.Info(logCtx, "contribution sweep completed")
	}
	return res, nil
}

// settleMember collects each due week in order. It stops at the first week
// that cannot be collected, since later weeks would fail the same way.
func (s *sweeper) settleMember(ctx context.Context, t *tally, member DueMember) {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("member %s: panic: %v", member.MemberID, r))
		}
	}()
	for i := 0; i < member.DueWeeks; i++ {
		if ctx.Err() != nil {
			return
		}
		result, err := s.settler.Settle(ctx, member.MemberID, enums.SettlementModeAutomated)
		t.record(func(r *SweepResult) { r.Processed++ })
		switch {
		case err == nil && result.Deferred:
			t.record(func(r *SweepResult) { r.Deferred++ })
			return
		case err == nil:
			t.record(func(r *SweepResult) { r.Succeeded++ })
		case skippable(err):
			t.record(func(r *SweepResult) { r.Skipped++ })
			return
		default:
			logCtx := s.logg.WithMemberID(ctx, member.MemberID.String())
			s.logg.Error(logCtx, "automated settlement failed", err)
			t.fail(fmt.Errorf("member %s: %w", member.MemberID, err))
			return
		}
	}
}

func skippable(err error) bool {
	return errors.Is(err, contributions.ErrNothingDue) ||
		errors.Is(err, contributions.ErrAlreadyContributed) ||
		errors.Is(err, contributions.ErrCycleComplete) ||
		errors.Is(err, contributions.ErrNoActiveTier)
}

// ageOverdue marks pending weeks past the grace period as missed and returns
// the affected subscription ids.
func (s *sweeper) ageOverdue(ctx context.Context, t *tally, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.repo.Overdue(ctx, now.Add(-s.grace))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue contributions")
	}
	seen := make(map[uuid.UUID]struct{})
	var subs []uuid.UUID
	for i := range rows {
		row := rows[i]
		missed, err := s.markMissed(ctx, row, now)
		if err != nil {
			t.fail(fmt.Errorf("contribution %s: %w", row.ID, err))
			continue
		}
		if !missed {
			continue
		}
		t.record(func(r *SweepResult) { r.MissedCount++ })
		if _, ok := seen[row.SubscriptionID]; !ok {
			seen[row.SubscriptionID] = struct{}{}
			subs = append(subs, row.SubscriptionID)
		}
	}
	s.metrics.AddMissed(t.res.MissedCount)
	return subs, nil
}

func (s *sweeper) markMissed(ctx context.Context, row models.Contribution, now time.Time) (bool, error) {
	var missed bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).MarkMissed(ctx, row.ID, now)
		if err != nil || !ok {
			return err
		}
		missed = true
		if err := s.notifier.NotifyTx(ctx, tx, notifications.Message{
			MemberID: row.MemberID,
			Type:     enums.NotificationTypeContributionMissed,
			Title:    "Contribution missed",
			Body: fmt.Sprintf("Your week %d contribution of %s was not paid and has been marked as missed.",
				row.WeekNumber, money.Format(row.AmountCents)),
		}); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventContributionMissed,
			AggregateType: enums.AggregateContribution,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{System: sweepActor},
			OccurredAt:    now,
			Data: payloads.ContributionMissedEvent{
				ContributionID: row.ID,
				SubscriptionID: row.SubscriptionID,
				MemberID:       row.MemberID,
				WeekNumber:     row.WeekNumber,
				DueDate:        row.DueDate,
				MissedAt:       now,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if missed {
		logCtx := s.logg.WithMemberID(ctx, row.MemberID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"subscription_id": row.SubscriptionID.String(),
			"week_number":     row.WeekNumber,
		})
		s.logg.Info(logCtx, "contribution marked missed")
	}
	return missed, nil
}
