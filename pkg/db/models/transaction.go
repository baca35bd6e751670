package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Transaction is an immutable ledger entry. Every balance mutation on a member
// writes exactly one.
type Transaction struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	MemberID       uuid.UUID                  `gorm:"column:member_id;type:uuid;not null;index:idx_transactions_member"`
	Type           enums.TransactionType      `gorm:"column:type;type:transaction_type;not null"`
	Direction      enums.TransactionDirection `gorm:"column:direction;type:transaction_direction;not null"`
	AmountCents    int64                      `gorm:"column:amount_cents;not null;check:chk_transactions_amount_positive,amount_cents > 0"`
	Status         enums.TransactionStatus    `gorm:"column:status;type:transaction_status;not null"`
	Reference      string                     `gorm:"column:reference;not null;uniqueIndex:uq_transactions_reference"`
	Description    string                     `gorm:"column:description;not null;default:''"`
	ContributionID *uuid.UUID                 `gorm:"column:contribution_id;type:uuid"`
	BonusID        *uuid.UUID                 `gorm:"column:bonus_id;type:uuid"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
