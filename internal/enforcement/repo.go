package enforcement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Repository reads missed weeks and moves subscriptions into default.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActive(ctx context.Context, subscriptionIDs []uuid.UUID) ([]models.Subscription, error)
	CountMissed(ctx context.Context, subscriptionIDs []uuid.UUID) (map[uuid.UUID]int, error)
	MarkDefaulted(ctx context.Context, subscriptionID uuid.UUID, missed int, at time.Time) (bool, error)
	UpdateMissedCount(ctx context.Context, subscriptionID uuid.UUID, missed int) error
	LatestSubscription(ctx context.Context, memberID uuid.UUID) (*models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an enforcement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListActive returns active subscriptions, restricted to subscriptionIDs when
// the slice is non-nil.
func (r *repository) ListActive(ctx context.Context, subscriptionIDs []uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusActive).
		Order("created_at ASC")
	if subscriptionIDs != nil {
		if len(subscriptionIDs) == 0 {
			return nil, nil
		}
		q = q.Where("id IN ?", subscriptionIDs)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CountMissed(ctx context.Context, subscriptionIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(subscriptionIDs))
	if len(subscriptionIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		SubscriptionID uuid.UUID
		Missed         int
	}
	err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Select("subscription_id, COUNT(*) AS missed").
		Where("status = ? AND subscription_id IN ?", enums.ContributionStatusMissed, subscriptionIDs).
		Group("subscription_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.SubscriptionID] = row.Missed
	}
	return counts, nil
}

// MarkDefaulted freezes an active subscription. It reports false when the
// subscription already left the active state.
func (r *repository) MarkDefaulted(ctx context.Context, subscriptionID uuid.UUID, missed int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", subscriptionID, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":       enums.SubscriptionStatusDefaulted,
			"missed_count": missed,
			"defaulted_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateMissedCount(ctx context.Context, subscriptionID uuid.UUID, missed int) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND missed_count <> ?", subscriptionID, enums.SubscriptionStatusActive, missed).
		Update("missed_count", missed).Error
}

func (r *repository) LatestSubscription(ctx context.Context, memberID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
