package contributions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	dbpkg "github.com/angelmondragon/cooperative-backend/pkg/db"
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
	weekConstraint = "uq_contributions_subscription_week"
	systemActor    = "contribution-sweep"
)

// Service settles weekly contributions and maintains subscription schedules.
type Service interface {
	Settle(ctx context.Context, memberID uuid.UUID, mode enums.SettlementMode) (*Result, error)
	GenerateSchedule(ctx context.Context, subscriptionID uuid.UUID) (*ScheduleResult, error)
	Policy() WindowPolicy
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result describes one settlement attempt. Deferred is set when an automated
// attempt found insufficient funds and only the attempt was recorded.
type Result struct {
	ContributionID        uuid.UUID                `json:"contributionId"`
	SubscriptionID        uuid.UUID                `json:"subscriptionId"`
	MemberID              uuid.UUID                `json:"memberId"`
	WeekNumber            int                      `json:"weekNumber"`
	Mode                  enums.SettlementMode     `json:"mode"`
	Status                enums.ContributionStatus `json:"status"`
	AmountCents           int64                    `json:"amountCents"`
	MaintenanceFeeCents   int64                    `json:"maintenanceFeeCents"`
	LateFeeCents          int64                    `json:"lateFeeCents"`
	AmountChargedCents    int64                    `json:"amountChargedCents"`
	LateFeeApplied        bool                     `json:"lateFeeApplied"`
	FirstContribution     bool                     `json:"firstContribution"`
	SubscriptionCompleted bool                     `json:"subscriptionCompleted"`
	Deferred              bool                     `json:"deferred"`
	PaidAt                *time.Time               `json:"paidAt,omitempty"`
}

// ScheduleResult reports how many weeks were created for a subscription.
type ScheduleResult struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	DurationWeeks  int       `json:"durationWeeks"`
	Created        int64     `json:"created"`
}

// Deps bundles the collaborators of the settlement engine.
type Deps struct {
	DB            txRunner
	Repo          Repository
	Members       ledger.Repository
	Ledger        ledger.Service
	Notifications notifications.Sink
	Outbox        outbox.Emitter
	Policy        WindowPolicy
	Metrics       *metrics.EngineMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

type service struct {
	db       txRunner
	repo     Repository
	members  ledger.Repository
	ledger   ledger.Service
	notifier notifications.Sink
	emitter  outbox.Emitter
	policy   WindowPolicy
	metrics  *metrics.EngineMetrics
	logg     *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService wires the settlement engine.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("contributions repository required")
	case deps.Members == nil:
		return nil, fmt.Errorf("member repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case deps.Notifications == nil:
		return nil, fmt.Errorf("notification sink required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:       deps.DB,
		repo:     deps.Repo,
		members:  deps.Members,
		ledger:   deps.Ledger,
		notifier: deps.Notifications,
		emitter:  deps.Outbox,
		policy:   deps.Policy,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
		tracer:   otel.Tracer("github.com/angelmondragon/cooperative-backend/internal/contributions"),
		now:      now,
	}, nil
}

func (s *service) Policy() WindowPolicy {
	return s.policy
}

// Settle validates and records one weekly contribution for the member. The
// member row is locked for the whole unit so settlements for one member are
// serialized.
func (s *service) Settle(ctx context.Context, memberID uuid.UUID, mode enums.SettlementMode) (*Result, error) {
	if memberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id is required")
	}
	if !mode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid settlement mode")
	}

	ctx, span := s.tracer.Start(ctx, "contributions.Settle", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("settlement.mode", string(mode)),
	))
	defer span.End()

	started := s.now()
	now := started.UTC()
	logCtx := s.logg.WithMemberID(ctx, memberID.String())
	logCtx = s.logg.WithField(logCtx, "mode", string(mode))

	var result *Result
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.settleTx(ctx, tx, memberID, mode, now)
		return err
	})

	outcome := outcomeLabel(result, err)
	s.metrics.IncSettlement(string(mode), outcome)
	span.SetAttributes(attribute.String("settlement.outcome", outcome))

	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"outcome":     outcome,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInternal) || pkgerrors.IsCode(err, pkgerrors.CodeDependency) || pkgerrors.As(err) == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "settlement failed")
			s.logg.Error(logCtx, "settlement failed", err)
		} else {
			s.logg.Info(logCtx, "settlement rejected")
		}
		return nil, err
	}

	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"subscription_id": result.SubscriptionID.String(),
		"week_number":     result.WeekNumber,
		"status":          result.Status,
	})
	s.logg.Info(logCtx, "settlement recorded")
	return result, nil
}

func (s *service) settleTx(ctx context.Context, tx *gorm.DB, memberID uuid.UUID, mode enums.SettlementMode, now time.Time) (*Result, error) {
	member, err := s.members.WithTx(tx).LockMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock member")
	}

	repo := s.repo.WithTx(tx)
	sub, err := repo.LatestSubscription(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || sub.Status == enums.SubscriptionStatusDefaulted || sub.Tier.ID == uuid.Nil {
		return nil, noActiveTier()
	}
	tier := sub.Tier
	week := s.policy.CurrentCycleWeek(now)

	if mode == enums.SettlementModeManual {
		if !s.policy.IsWindowOpen(now) {
			return nil, windowClosed()
		}
		paid, err := repo.HasSettledBetween(ctx, sub.ID, week.WeekStart, week.NextStart)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check current week")
		}
		if paid {
			return nil, alreadyContributed()
		}
	}
	if sub.Status == enums.SubscriptionStatusCompleted || sub.WeeksPaid >= tier.DurationWeeks {
		return nil, cycleComplete()
	}

	row, err := s.targetWeek(ctx, repo, sub, mode, week, now)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ContributionID: row.ID,
		SubscriptionID: sub.ID,
		MemberID:       memberID,
		WeekNumber:     row.WeekNumber,
		Mode:           mode,
		AmountCents:    tier.WeeklyAmountCents,
	}
	if mode == enums.SettlementModeManual {
		result.MaintenanceFeeCents = tier.MaintenanceFeeCents
		result.LateFeeCents = s.policy.LateFee(now, row.DueDate)
	}
	result.LateFeeApplied = result.LateFeeCents > 0
	result.AmountChargedCents = result.AmountCents + result.MaintenanceFeeCents + result.LateFeeCents

	if member.AvailableBalanceCents < result.AmountChargedCents {
		if mode == enums.SettlementModeManual {
			return nil, insufficientFunds(result.AmountChargedCents, member.AvailableBalanceCents)
		}
		return s.recordDeferral(ctx, tx, repo, row, result, member.AvailableBalanceCents, now)
	}

	result.Status = enums.ContributionStatusPaid
	if result.LateFeeApplied {
		result.Status = enums.ContributionStatusLate
	}
	claimed, err := repo.Claim(ctx, row.ID, settledClaim{
		Status:              result.Status,
		Mode:                mode,
		MaintenanceFeeCents: result.MaintenanceFeeCents,
		LateFeeCents:        result.LateFeeCents,
		PaidAt:              now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim contribution")
	}
	if !claimed {
		return nil, alreadyContributed()
	}
	result.PaidAt = &now

	if _, err := s.ledger.Post(ctx, tx, s.postings(memberID, row, result)...); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, insufficientFunds(result.AmountChargedCents, member.AvailableBalanceCents)
		}
		return nil, err
	}

	bumped, err := repo.IncrementWeeksPaid(ctx, sub.ID, tier.DurationWeeks)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment weeks paid")
	}
	if !bumped {
		return nil, cycleComplete()
	}
	if sub.WeeksPaid+1 >= tier.DurationWeeks {
		if err := s.complete(ctx, tx, repo, sub, now); err != nil {
			return nil, err
		}
		result.SubscriptionCompleted = true
	}

	settled, err := repo.CountSettledForMember(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count settled contributions")
	}
	result.FirstContribution = settled == 1

	if err := s.notifier.NotifyTx(ctx, tx, notifications.Message{
		MemberID: memberID,
		Type:     enums.NotificationTypeContributionReceived,
		Title:    "Contribution received",
		Body:     receivedMessage(result),
	}); err != nil {
		return nil, err
	}

	actor := &outbox.ActorRef{MemberID: &memberID}
	if mode == enums.SettlementModeAutomated {
		actor = &outbox.ActorRef{System: systemActor}
	}
	if err := s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventContributionSettled,
		AggregateType: enums.AggregateContribution,
		AggregateID:   row.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.ContributionSettledEvent{
			ContributionID:      row.ID,
			SubscriptionID:      sub.ID,
			MemberID:            memberID,
			WeekNumber:          row.WeekNumber,
			Mode:                mode,
			Status:              result.Status,
			AmountCents:         result.AmountCents,
			MaintenanceFeeCents: result.MaintenanceFeeCents,
			LateFeeCents:        result.LateFeeCents,
			TotalCents:          result.AmountChargedCents,
			FirstContribution:   result.FirstContribution,
			PaidAt:              now,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit contribution_settled")
	}
	return result, nil
}

// targetWeek picks the earliest pending scheduled week. Manual payments with
// no pending row create the next sequential week; automated attempts only
// collect rows that are already due.
func (s *service) targetWeek(ctx context.Context, repo Repository, sub *models.Subscription, mode enums.SettlementMode, week CycleWeek, now time.Time) (*models.Contribution, error) {
	var dueBy *time.Time
	if mode == enums.SettlementModeAutomated {
		dueBy = &now
	}
	row, err := repo.EarliestPending(ctx, sub.ID, dueBy)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending week")
	}
	if row != nil {
		return row, nil
	}
	if mode == enums.SettlementModeAutomated {
		return nil, nothingDue()
	}

	last, err := repo.MaxWeek(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load last week")
	}
	next := last + 1
	if next > sub.Tier.DurationWeeks {
		return nil, cycleComplete()
	}
	row = &models.Contribution{
		SubscriptionID: sub.ID,
		MemberID:       sub.MemberID,
		WeekNumber:     next,
		AmountCents:    sub.Tier.WeeklyAmountCents,
		DueDate:        week.WeekEnd,
		Status:         enums.ContributionStatusPending,
	}
	if err := repo.Create(ctx, row); err != nil {
		if dbpkg.IsUniqueViolation(err, weekConstraint) {
			return nil, alreadyContributed()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create contribution week")
	}
	return row, nil
}

func (s *service) postings(memberID uuid.UUID, row *models.Contribution, result *Result) []ledger.Posting {
	contributionID := row.ID
	out := []ledger.Posting{{
		MemberID:       memberID,
		Type:           enums.TransactionTypeContribution,
		AmountCents:    result.AmountCents,
		Reference:      "CONTRIB-" + row.ID.String(),
		Description:    fmt.Sprintf("Week %d contribution", row.WeekNumber),
		ContributionID: &contributionID,
	}}
	if result.MaintenanceFeeCents > 0 {
		out = append(out, ledger.Posting{
			MemberID:       memberID,
			Type:           enums.TransactionTypeMaintenanceFee,
			AmountCents:    result.MaintenanceFeeCents,
			Reference:      "MFEE-" + row.ID.String(),
			Description:    fmt.Sprintf("Week %d maintenance fee", row.WeekNumber),
			ContributionID: &contributionID,
		})
	}
	if result.LateFeeCents > 0 {
		out = append(out, ledger.Posting{
			MemberID:       memberID,
			Type:           enums.TransactionTypeLateFee,
			AmountCents:    result.LateFeeCents,
			Reference:      "LFEE-" + row.ID.String(),
			Description:    fmt.Sprintf("Week %d late fee", row.WeekNumber),
			ContributionID: &contributionID,
		})
	}
	return out
}

// recordDeferral records a failed automated attempt. The transaction still commits.
func (s *service) recordDeferral(ctx context.Context, tx *gorm.DB, repo Repository, row *models.Contribution, result *Result, available int64, now time.Time) (*Result, error) {
	if err := repo.RecordAttempt(ctx, row.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record attempt")
	}
	if err := s.notifier.NotifyTx(ctx, tx, notifications.Message{
		MemberID: result.MemberID,
		Type:     enums.NotificationTypeContributionReminder,
		Title:    "Contribution due",
		Body: fmt.Sprintf("We could not collect your week %d contribution of %s. Available balance: %s. Please fund your wallet.",
			row.WeekNumber, money.Format(result.AmountChargedCents), money.Format(available)),
	}); err != nil {
		return nil, err
	}
	result.Status = enums.ContributionStatusPending
	result.Deferred = true
	return result, nil
}

func (s *service) complete(ctx context.Context, tx *gorm.DB, repo Repository, sub *models.Subscription, now time.Time) error {
	done, err := repo.MarkCompleted(ctx, sub.ID, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete subscription")
	}
	if !done {
		return nil
	}
	s.metrics.IncCompleted()
	if err := s.notifier.NotifyTx(ctx, tx, notifications.Message{
		MemberID: sub.MemberID,
		Type:     enums.NotificationTypeSubscriptionCompleted,
		Title:    "Cycle completed",
		Body:     fmt.Sprintf("You have paid all %d weeks of the %s plan.", sub.Tier.DurationWeeks, sub.Tier.Name),
	}); err != nil {
		return err
	}
	return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionCompleted,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{MemberID: &sub.MemberID},
		OccurredAt:    now,
		Data: payloads.SubscriptionCompletedEvent{
			SubscriptionID: sub.ID,
			MemberID:       sub.MemberID,
			TierID:         sub.TierID,
			WeeksPaid:      sub.Tier.DurationWeeks,
			CompletedAt:    now,
		},
	})
}

// GenerateSchedule creates pending rows for every week of the subscription.
// Existing weeks are left untouched so it can be re-run safely.
func (s *service) GenerateSchedule(ctx context.Context, subscriptionID uuid.UUID) (*ScheduleResult, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	var result *ScheduleResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindSubscription(ctx, subscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status != enums.SubscriptionStatusActive {
			return noActiveTier()
		}
		rows := make([]models.Contribution, 0, sub.Tier.DurationWeeks)
		for week := 1; week <= sub.Tier.DurationWeeks; week++ {
			rows = append(rows, models.Contribution{
				SubscriptionID: sub.ID,
				MemberID:       sub.MemberID,
				WeekNumber:     week,
				AmountCents:    sub.Tier.WeeklyAmountCents,
				DueDate:        s.policy.DueDate(sub.StartDate, week),
				Status:         enums.ContributionStatusPending,
			})
		}
		created, err := repo.InsertSchedule(ctx, rows)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert schedule")
		}
		result = &ScheduleResult{SubscriptionID: sub.ID, DurationWeeks: sub.Tier.DurationWeeks, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithSubscriptionID(ctx, subscriptionID.String())
	logCtx = s.logg.WithField(logCtx, "created", result.Created)
	s.logg.Info(logCtx, "contribution schedule generated")
	return result, nil
}

func receivedMessage(r *Result) string {
	msg := fmt.Sprintf("Week %d contribution of %s received.", r.WeekNumber, money.Format(r.AmountChargedCents))
	if r.LateFeeApplied {
		msg += fmt.Sprintf(" Includes a late fee of %s.", money.Format(r.LateFeeCents))
	}
	return msg
}

func outcomeLabel(result *Result, err error) string {
	switch {
	case err == nil && result != nil && result.Deferred:
		return "deferred"
	case err == nil && result != nil:
		return string(result.Status)
	case errors.Is(err, ErrNoActiveTier):
		return "no_active_tier"
	case errors.Is(err, ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrAlreadyContributed):
		return "already_contributed"
	case errors.Is(err, ErrCycleComplete):
		return "cycle_complete"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNothingDue):
		return "nothing_due"
	default:
		return "error"
	}
}
