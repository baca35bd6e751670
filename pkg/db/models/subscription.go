package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Subscription binds a member to one tier for the length of a cycle.
type Subscription struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	MemberID    uuid.UUID                `gorm:"column:member_id;type:uuid;not null;index:idx_subscriptions_member;uniqueIndex:uq_subscriptions_member_active,where:status = 'active'"`
	TierID      uuid.UUID                `gorm:"column:tier_id;type:uuid;not null"`
	Tier        Tier                     `gorm:"foreignKey:TierID"`
	Status      enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;index:idx_subscriptions_status"`
	WeeksPaid   int                      `gorm:"column:weeks_paid;not null;default:0;check:chk_subscriptions_weeks_paid_nonneg,weeks_paid >= 0"`
	MissedCount int                      `gorm:"column:missed_count;not null;default:0"`
	StartDate   time.Time                `gorm:"column:start_date;not null"`
	CompletedAt *time.Time               `gorm:"column:completed_at"`
	DefaultedAt *time.Time               `gorm:"column:defaulted_at"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
