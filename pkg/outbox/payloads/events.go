package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// ContributionSettledEvent is emitted once per settled week.
type ContributionSettledEvent struct {
	ContributionID      uuid.UUID                `json:"contributionId"`
	SubscriptionID      uuid.UUID                `json:"subscriptionId"`
	MemberID            uuid.UUID                `json:"memberId"`
	WeekNumber          int                      `json:"weekNumber"`
	Mode                enums.SettlementMode     `json:"mode"`
	Status              enums.ContributionStatus `json:"status"`
	AmountCents         int64                    `json:"amountCents"`
	MaintenanceFeeCents int64                    `json:"maintenanceFeeCents"`
	LateFeeCents        int64                    `json:"lateFeeCents"`
	TotalCents          int64                    `json:"totalCents"`
	FirstContribution   bool                     `json:"firstContribution"`
	PaidAt              time.Time                `json:"paidAt"`
}

// ContributionMissedEvent is emitted when the sweep ages a pending week out.
type ContributionMissedEvent struct {
	ContributionID uuid.UUID `json:"contributionId"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	MemberID       uuid.UUID `json:"memberId"`
	WeekNumber     int       `json:"weekNumber"`
	DueDate        time.Time `json:"dueDate"`
	MissedAt       time.Time `json:"missedAt"`
}

// SubscriptionCompletedEvent is emitted when weeksPaid reaches the tier duration.
type SubscriptionCompletedEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	MemberID       uuid.UUID `json:"memberId"`
	TierID         uuid.UUID `json:"tierId"`
	WeeksPaid      int       `json:"weeksPaid"`
	CompletedAt    time.Time `json:"completedAt"`
}

// SubscriptionDefaultedEvent is emitted once when enforcement freezes a subscription.
type SubscriptionDefaultedEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	MemberID       uuid.UUID `json:"memberId"`
	MissedCount    int       `json:"missedCount"`
	Threshold      int       `json:"threshold"`
	DefaultedAt    time.Time `json:"defaultedAt"`
}

// ReferralBonusPaidEvent is emitted for every direct or team bonus credit.
type ReferralBonusPaidEvent struct {
	BonusID     uuid.UUID       `json:"bonusId"`
	ReferrerID  uuid.UUID       `json:"referrerId"`
	RefereeID   *uuid.UUID      `json:"refereeId,omitempty"`
	Type        enums.BonusType `json:"type"`
	Milestone   *int            `json:"milestone,omitempty"`
	AmountCents int64           `json:"amountCents"`
}

// FundsDepositedEvent is emitted when a gateway-reported funding is credited.
type FundsDepositedEvent struct {
	MemberID      uuid.UUID `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	AmountCents   int64     `json:"amountCents"`
	Reference     string    `json:"reference"`
}
