package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member is a cooperative participant and the owner of the wallet balances.
type Member struct {
	ID                    uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email                 string    `gorm:"column:email;not null;uniqueIndex:uq_members_email"`
	FullName              string    `gorm:"column:full_name;not null"`
	AvailableBalanceCents int64     `gorm:"column:available_balance_cents;not null;default:0;check:chk_members_available_nonneg,available_balance_cents >= 0"`
	LockedBalanceCents    int64     `gorm:"column:locked_balance_cents;not null;default:0;check:chk_members_locked_nonneg,locked_balance_cents >= 0"`
	BVBalance             int64     `gorm:"column:bv_balance;not null;default:0;check:chk_members_bv_nonneg,bv_balance >= 0"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *Member) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
