package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Referral links a referee to the member who recruited them. A referee has at
// most one referrer.
type Referral struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ReferrerID uuid.UUID            `gorm:"column:referrer_id;type:uuid;not null;index:idx_referrals_referrer"`
	RefereeID  uuid.UUID            `gorm:"column:referee_id;type:uuid;not null;uniqueIndex:uq_referrals_referee"`
	Status     enums.ReferralStatus `gorm:"column:status;type:referral_status;not null"`
	PaidAt     *time.Time           `gorm:"column:paid_at"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (r *Referral) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// Bonus records a reward credited to a referrer. Direct bonuses are keyed by
// referral, team bonuses by (member, milestone).
type Bonus struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	MemberID    uuid.UUID       `gorm:"column:member_id;type:uuid;not null;uniqueIndex:uq_bonuses_member_milestone,priority:1"`
	ReferralID  *uuid.UUID      `gorm:"column:referral_id;type:uuid;uniqueIndex:uq_bonuses_referral"`
	Type        enums.BonusType `gorm:"column:type;type:bonus_type;not null"`
	Milestone   *int            `gorm:"column:milestone;uniqueIndex:uq_bonuses_member_milestone,priority:2"`
	AmountCents int64           `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (b *Bonus) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
