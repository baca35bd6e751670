package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/pagination"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	CountUnread(ctx context.Context, memberID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, memberID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	MarkAllRead(ctx context.Context, memberID uuid.UUID, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type listNotificationsParams struct {
	MemberID   uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type notificationMarkResult struct {
	Updated bool
	Found   bool
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func ownedBy(memberID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB { return q.Where("member_id = ?", memberID) }
}

func unread(q *gorm.DB) *gorm.DB {
	return q.Where("read_at IS NULL")
}

// after continues a (created_at DESC, id DESC) listing past c.
func after(c *pagination.Cursor) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if c == nil {
			return q
		}
		return q.Where("created_at < ? OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID)
	}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) notifications(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{})
}

func (r *repository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	q := r.notifications(ctx).Scopes(ownedBy(params.MemberID), after(params.Cursor))
	if params.UnreadOnly {
		q = q.Scopes(unread)
	}
	var rows []models.Notification
	if err := q.Order("created_at DESC, id DESC").Limit(pagination.Fetch(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *repository) CountUnread(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var n int64
	err := r.notifications(ctx).Scopes(ownedBy(memberID), unread).Count(&n).Error
	return n, err
}

// MarkRead is idempotent: an already-read notification reports Found without
// moving read_at.
func (r *repository) MarkRead(ctx context.Context, memberID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	res := r.notifications(ctx).
		Scopes(ownedBy(memberID), unread).
		Where("id = ?", notificationID).
		UpdateColumn("read_at", now)
	if res.Error != nil {
		return notificationMarkResult{}, res.Error
	}
	if res.RowsAffected > 0 {
		return notificationMarkResult{Updated: true, Found: true}, nil
	}
	var n int64
	if err := r.notifications(ctx).Scopes(ownedBy(memberID)).Where("id = ?", notificationID).Count(&n).Error; err != nil {
		return notificationMarkResult{}, err
	}
	return notificationMarkResult{Found: n > 0}, nil
}

func (r *repository) MarkAllRead(ctx context.Context, memberID uuid.UUID, now time.Time) (int64, error) {
	res := r.notifications(ctx).Scopes(ownedBy(memberID), unread).UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore removes notifications read before cutoff. Unread rows are kept.
func (r *repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND read_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
