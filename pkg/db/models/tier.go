package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tier is a contribution plan: a weekly amount, a weekly maintenance fee and
// the number of weeks in the cycle.
type Tier struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name                string    `gorm:"column:name;not null;uniqueIndex:uq_tiers_name"`
	WeeklyAmountCents   int64     `gorm:"column:weekly_amount_cents;not null;check:chk_tiers_weekly_positive,weekly_amount_cents > 0"`
	MaintenanceFeeCents int64     `gorm:"column:maintenance_fee_cents;not null;default:0"`
	DurationWeeks       int       `gorm:"column:duration_weeks;not null;check:chk_tiers_duration_positive,duration_weeks > 0"`
	Active              bool      `gorm:"column:active;not null;default:true"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Tier) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
