package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Contribution is one scheduled week of a subscription. At most one row exists
// per (subscription, week).
type Contribution struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID      uuid.UUID                `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:uq_contributions_subscription_week,priority:1"`
	MemberID            uuid.UUID                `gorm:"column:member_id;type:uuid;not null;index:idx_contributions_member"`
	WeekNumber          int                      `gorm:"column:week_number;not null;uniqueIndex:uq_contributions_subscription_week,priority:2"`
	AmountCents         int64                    `gorm:"column:amount_cents;not null"`
	MaintenanceFeeCents int64                    `gorm:"column:maintenance_fee_cents;not null;default:0"`
	LateFeeCents        int64                    `gorm:"column:late_fee_cents;not null;default:0"`
	DueDate             time.Time                `gorm:"column:due_date;not null;index:idx_contributions_status_due,priority:2"`
	Status              enums.ContributionStatus `gorm:"column:status;type:contribution_status;not null;index:idx_contributions_status_due,priority:1"`
	Mode                *enums.SettlementMode    `gorm:"column:mode;type:settlement_mode"`
	PaidAt              *time.Time               `gorm:"column:paid_at"`
	MissedAt            *time.Time               `gorm:"column:missed_at"`
	AttemptCount        int                      `gorm:"column:attempt_count;not null;default:0"`
	LastAttemptAt       *time.Time               `gorm:"column:last_attempt_at"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Contribution) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
