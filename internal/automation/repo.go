package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// DueMember is a member with pending weeks that have reached their due date.
type DueMember struct {
	MemberID uuid.UUID
	DueWeeks int
}

// Repository finds work for the sweep and ages overdue weeks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	DueMembers(ctx context.Context, now time.Time) ([]DueMember, error)
	Overdue(ctx context.Context, cutoff time.Time) ([]models.Contribution, error)
	MarkMissed(ctx context.Context, contributionID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a sweep repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) pendingOnActive(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Joins("JOIN subscriptions ON subscriptions.id = contributions.subscription_id").
		Where("contributions.status = ? AND subscriptions.status = ?", enums.ContributionStatusPending, enums.SubscriptionStatusActive)
}

// DueMembers groups pending weeks due at or before now by member.
func (r *repository) DueMembers(ctx context.Context, now time.Time) ([]DueMember, error) {
	var rows []DueMember
	err := r.pendingOnActive(ctx).
		Select("contributions.member_id AS member_id, COUNT(*) AS due_weeks").
		Where("contributions.due_date <= ?", now).
		Group("contributions.member_id").
		Order("contributions.member_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Overdue returns pending weeks whose due date is before cutoff.
func (r *repository) Overdue(ctx context.Context, cutoff time.Time) ([]models.Contribution, error) {
	var rows []models.Contribution
	err := r.pendingOnActive(ctx).
		Select("contributions.*").
		Where("contributions.due_date < ?", cutoff).
		Order("contributions.due_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkMissed ages one pending week. It reports false when the row was settled
// or aged by someone else first.
func (r *repository) MarkMissed(ctx context.Context, contributionID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("id = ? AND status = ?", contributionID, enums.ContributionStatusPending).
		Updates(map[string]any{
			"status":    enums.ContributionStatusMissed,
			"missed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
