package contributions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Repository manages subscriptions and their weekly contribution rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LatestSubscription(ctx context.Context, memberID uuid.UUID) (*models.Subscription, error)
	FindSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	HasSettledBetween(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) (bool, error)
	EarliestPending(ctx context.Context, subscriptionID uuid.UUID, dueBy *time.Time) (*models.Contribution, error)
	MaxWeek(ctx context.Context, subscriptionID uuid.UUID) (int, error)
	Create(ctx context.Context, row *models.Contribution) error
	InsertSchedule(ctx context.Context, rows []models.Contribution) (int64, error)
	Claim(ctx context.Context, contributionID uuid.UUID, claim settledClaim) (bool, error)
	RecordAttempt(ctx context.Context, contributionID uuid.UUID, at time.Time) error
	IncrementWeeksPaid(ctx context.Context, subscriptionID uuid.UUID, duration int) (bool, error)
	MarkCompleted(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (bool, error)
	CountSettledForMember(ctx context.Context, memberID uuid.UUID) (int64, error)
}

type settledClaim struct {
	Status              enums.ContributionStatus
	Mode                enums.SettlementMode
	MaintenanceFeeCents int64
	LateFeeCents        int64
	PaidAt              time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a contributions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LatestSubscription(ctx context.Context, memberID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Tier").
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Preload("Tier").Where("id = ?", subscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) HasSettledBetween(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("subscription_id = ? AND status IN ?", subscriptionID,
			[]enums.ContributionStatus{enums.ContributionStatusPaid, enums.ContributionStatusLate}).
		Where("paid_at >= ? AND paid_at < ?", from, to).
		Count(&count).Error
	return count > 0, err
}

// EarliestPending returns the lowest pending week, optionally restricted to
// rows due by dueBy. It returns nil when none match.
func (r *repository) EarliestPending(ctx context.Context, subscriptionID uuid.UUID, dueBy *time.Time) (*models.Contribution, error) {
	q := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, enums.ContributionStatusPending)
	if dueBy != nil {
		q = q.Where("due_date <= ?", *dueBy)
	}
	var row models.Contribution
	err := q.Order("week_number ASC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) MaxWeek(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Select("COALESCE(MAX(week_number), 0)").
		Where("subscription_id = ?", subscriptionID).
		Scan(&max).Error
	return max, err
}

func (r *repository) Create(ctx context.Context, row *models.Contribution) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// InsertSchedule inserts rows, skipping weeks that already exist.
func (r *repository) InsertSchedule(ctx context.Context, rows []models.Contribution) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "week_number"}},
			DoNothing: true,
		}).
		Create(&rows)
	return res.RowsAffected, res.Error
}

// Claim moves a pending row to its settled state. It reports false when the
// row was no longer pending.
func (r *repository) Claim(ctx context.Context, contributionID uuid.UUID, claim settledClaim) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("id = ? AND status = ?", contributionID, enums.ContributionStatusPending).
		Updates(map[string]any{
			"status":                claim.Status,
			"mode":                  claim.Mode,
			"maintenance_fee_cents": claim.MaintenanceFeeCents,
			"late_fee_cents":        claim.LateFeeCents,
			"paid_at":               claim.PaidAt,
			"attempt_count":         gorm.Expr("attempt_count + 1"),
			"last_attempt_at":       claim.PaidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RecordAttempt(ctx context.Context, contributionID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("id = ? AND status = ?", contributionID, enums.ContributionStatusPending).
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": at,
		}).Error
}

func (r *repository) IncrementWeeksPaid(ctx context.Context, subscriptionID uuid.UUID, duration int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND weeks_paid < ?", subscriptionID, enums.SubscriptionStatusActive, duration).
		UpdateColumn("weeks_paid", gorm.Expr("weeks_paid + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCompleted(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", subscriptionID, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":       enums.SubscriptionStatusCompleted,
			"completed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountSettledForMember(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("member_id = ? AND status IN ?", memberID,
			[]enums.ContributionStatus{enums.ContributionStatusPaid, enums.ContributionStatusLate}).
		Count(&count).Error
	return count, err
}
