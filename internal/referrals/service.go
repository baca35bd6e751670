package referrals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

const cascadeActor = "referral-cascade"

// Service pays referral bonuses. Every operation is safe to repeat.
type Service interface {
	PayDirectBonus(ctx context.Context, refereeID uuid.UUID) (*Payout, error)
	EvaluateMilestones(ctx context.Context, referrerID uuid.UUID) ([]Payout, error)
	Cascade(ctx context.Context, refereeID uuid.UUID) (*CascadeResult, error)
	RetryStalled(ctx context.Context, limit int) (*RetryResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Payout is one credited bonus.
type Payout struct {
	BonusID     uuid.UUID       `json:"bonusId"`
	ReferrerID  uuid.UUID       `json:"referrerId"`
	Type        enums.BonusType `json:"type"`
	Milestone   *int            `json:"milestone,omitempty"`
	AmountCents int64           `json:"amountCents"`
}

// CascadeResult groups the bonuses paid for one referee.
type CascadeResult struct {
	RefereeID  uuid.UUID  `json:"refereeId"`
	ReferrerID *uuid.UUID `json:"referrerId,omitempty"`
	Direct     *Payout    `json:"direct,omitempty"`
	Milestones []Payout   `json:"milestones"`
}

// RetryResult summarizes one stalled-referral pass.
type RetryResult struct {
	Scanned int `json:"scanned"`
	Paid    int `json:"paid"`
	Failed  int `json:"failed"`
}

// Deps bundles the collaborators of the cascade.
type Deps struct {
	DB      txRunner
	Repo    Repository
	Members ledger.Repository
	Ledger  ledger.Service
	Outbox  outbox.Emitter
	Config  config.ReferralsConfig
	Metrics *metrics.EngineMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	db          txRunner
	repo        Repository
	members     ledger.Repository
	ledger      ledger.Service
	emitter     outbox.Emitter
	directBonus int64
	milestones  []config.Milestone
	metrics     *metrics.EngineMetrics
	logg        *logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewService wires the referral bonus cascade.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("referrals repository required")
	case deps.Members == nil:
		return nil, fmt.Errorf("member repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case deps.Config.DirectBonusCents < 0:
		return nil, fmt.Errorf("direct bonus must not be negative")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:          deps.DB,
		repo:        deps.Repo,
		members:     deps.Members,
		ledger:      deps.Ledger,
		emitter:     deps.Outbox,
		directBonus: deps.Config.DirectBonusCents,
		milestones:  deps.Config.SortedMilestones(),
		metrics:     deps.Metrics,
		logg:        deps.Logger,
		tracer:      otel.Tracer("github.com/angelmondragon/cooperative-backend/internal/referrals"),
		now:         now,
	}, nil
}

// PayDirectBonus credits the referrer of refereeID once. It returns nil when
// there is nothing to pay: no referral, already paid, or the referee has not
// settled a contribution yet.
func (s *service) PayDirectBonus(ctx context.Context, refereeID uuid.UUID) (*Payout, error) {
	if refereeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referee id is required")
	}
	var payout *Payout
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ref, err := repo.FindByReferee(ctx, refereeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
		}
		if ref == nil || ref.Status == enums.ReferralStatusPaid {
			return nil
		}
		settled, err := repo.RefereeHasSettled(ctx, refereeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check referee contributions")
		}
		if !settled {
			return nil
		}
		now := s.now().UTC()
		marked, err := repo.MarkPaid(ctx, ref.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark referral paid")
		}
		if !marked || s.directBonus == 0 {
			return nil
		}
		referralID := ref.ID
		bonus := &models.Bonus{
			MemberID:    ref.ReferrerID,
			ReferralID:  &referralID,
			Type:        enums.BonusTypeDirect,
			AmountCents: s.directBonus,
		}
		payout, err = s.credit(ctx, tx, repo, bonus, &refereeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if payout != nil {
		s.logPayout(ctx, payout)
	}
	return payout, nil
}

// EvaluateMilestones pays every reached milestone the referrer has not been
// paid for. The (member, milestone) unique key makes repeats no-ops.
func (s *service) EvaluateMilestones(ctx context.Context, referrerID uuid.UUID) ([]Payout, error) {
	if referrerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referrer id is required")
	}
	var payouts []Payout
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		payouts = nil
		if _, err := s.members.WithTx(tx).LockMember(ctx, referrerID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "referrer not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock referrer")
		}
		repo := s.repo.WithTx(tx)
		count, err := repo.CountPaid(ctx, referrerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count paid referrals")
		}
		for _, m := range s.milestones {
			if count < int64(m.Threshold) {
				break
			}
			threshold := m.Threshold
			payout, err := s.credit(ctx, tx, repo, &models.Bonus{
				MemberID:    referrerID,
				Type:        enums.BonusTypeTeam,
				Milestone:   &threshold,
				AmountCents: m.RewardCents,
			}, nil)
			if err != nil {
				return err
			}
			if payout != nil {
				payouts = append(payouts, *payout)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range payouts {
		s.logPayout(ctx, &payouts[i])
	}
	return payouts, nil
}

// credit inserts the bonus row and, if it was new, posts the ledger credit and
// queues referral_bonus_paid. It returns nil when the bonus already existed.
func (s *service) credit(ctx context.Context, tx *gorm.DB, repo Repository, bonus *models.Bonus, refereeID *uuid.UUID) (*Payout, error) {
	inserted, err := repo.InsertBonus(ctx, bonus)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert bonus")
	}
	if !inserted {
		return nil, nil
	}
	bonusID := bonus.ID
	description := "Direct referral bonus"
	if bonus.Milestone != nil {
		description = fmt.Sprintf("Team bonus for %d paid referrals", *bonus.Milestone)
	}
	if _, err := s.ledger.Post(ctx, tx, ledger.Posting{
		MemberID:    bonus.MemberID,
		Type:        enums.TransactionTypeBonus,
		AmountCents: bonus.AmountCents,
		Reference:   "BONUS-" + bonus.ID.String(),
		Description: description,
		BonusID:     &bonusID,
	}); err != nil {
		return nil, err
	}
	if err := s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReferralBonusPaid,
		AggregateType: enums.AggregateReferral,
		AggregateID:   bonus.ID,
		Actor:         &outbox.ActorRef{System: cascadeActor},
		Data: payloads.ReferralBonusPaidEvent{
			BonusID:     bonus.ID,
			ReferrerID:  bonus.MemberID,
			RefereeID:   refereeID,
			Type:        bonus.Type,
			Milestone:   bonus.Milestone,
			AmountCents: bonus.AmountCents,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit referral_bonus_paid")
	}
	s.metrics.ObserveBonus(string(bonus.Type), bonus.AmountCents)
	return &Payout{
		BonusID:     bonus.ID,
		ReferrerID:  bonus.MemberID,
		Type:        bonus.Type,
		Milestone:   bonus.Milestone,
		AmountCents: bonus.AmountCents,
	}, nil
}

// Cascade runs the direct bonus and then milestone evaluation for the
// referee's referrer.
func (s *service) Cascade(ctx context.Context, refereeID uuid.UUID) (*CascadeResult, error) {
	ctx, span := s.tracer.Start(ctx, "referrals.Cascade", trace.WithAttributes(
		attribute.String("referee.id", refereeID.String()),
	))
	defer span.End()

	direct, err := s.PayDirectBonus(ctx, refereeID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result := &CascadeResult{RefereeID: refereeID, Direct: direct}

	ref, err := s.repo.FindByReferee(ctx, refereeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
	}
	if ref == nil || ref.Status != enums.ReferralStatusPaid {
		return result, nil
	}
	referrerID := ref.ReferrerID
	result.ReferrerID = &referrerID

	milestones, err := s.EvaluateMilestones(ctx, referrerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result.Milestones = milestones
	return result, nil
}

// RetryStalled re-runs the cascade for pending referrals whose referee has
// already contributed. It covers lost contribution_settled deliveries.
func (s *service) RetryStalled(ctx context.Context, limit int) (*RetryResult, error) {
	if limit <= 0 {
		limit = 100
	}
	stalled, err := s.repo.ListStalled(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stalled referrals")
	}
	result := &RetryResult{Scanned: len(stalled)}
	var errs error
	for _, ref := range stalled {
		res, err := s.Cascade(ctx, ref.RefereeID)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("referee %s: %w", ref.RefereeID, err))
			continue
		}
		if res.Direct != nil {
			result.Paid++
		}
	}
	return result, errs
}

func (s *service) logPayout(ctx context.Context, p *Payout) {
	fields := map[string]any{
		"referrer_id":  p.ReferrerID.String(),
		"bonus_id":     p.BonusID.String(),
		"bonus_type":   p.Type,
		"amount_cents": p.AmountCents,
	}
	if p.Milestone != nil {
		fields["milestone"] = *p.Milestone
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "referral bonus credited")
}
