package referrals

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

// Repository manages referral links and bonus records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByReferee(ctx context.Context, refereeID uuid.UUID) (*models.Referral, error)
	MarkPaid(ctx context.Context, referralID uuid.UUID, at time.Time) (bool, error)
	CountPaid(ctx context.Context, referrerID uuid.UUID) (int64, error)
	InsertBonus(ctx context.Context, bonus *models.Bonus) (bool, error)
	RefereeHasSettled(ctx context.Context, refereeID uuid.UUID) (bool, error)
	ListStalled(ctx context.Context, limit int) ([]models.Referral, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a referrals repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByReferee(ctx context.Context, refereeID uuid.UUID) (*models.Referral, error) {
	var ref models.Referral
	err := r.db.WithContext(ctx).Where("referee_id = ?", refereeID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// MarkPaid flips a pending referral to paid. A lost race reports false.
func (r *repository) MarkPaid(ctx context.Context, referralID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ? AND status = ?", referralID, enums.ReferralStatusPending).
		Updates(map[string]any{
			"status":  enums.ReferralStatusPaid,
			"paid_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountPaid(ctx context.Context, referrerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", referrerID, enums.ReferralStatusPaid).
		Count(&count).Error
	return count, err
}

// InsertBonus records a bonus unless its idempotency key already exists. It
// reports whether a row was written.
func (r *repository) InsertBonus(ctx context.Context, bonus *models.Bonus) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(bonus)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RefereeHasSettled(ctx context.Context, refereeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("member_id = ? AND status IN ?", refereeID,
			[]enums.ContributionStatus{enums.ContributionStatusPaid, enums.ContributionStatusLate}).
		Count(&count).Error
	return count > 0, err
}

// ListStalled returns pending referrals whose referee already has a settled
// contribution, oldest first.
func (r *repository) ListStalled(ctx context.Context, limit int) ([]models.Referral, error) {
	settled := r.db.
		Model(&models.Contribution{}).
		Select("1").
		Where("contributions.member_id = referrals.referee_id").
		Where("contributions.status IN ?", []enums.ContributionStatus{enums.ContributionStatusPaid, enums.ContributionStatusLate})

	var rows []models.Referral
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ReferralStatusPending).
		Where("EXISTS (?)", settled).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
