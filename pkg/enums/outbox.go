package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateContribution OutboxAggregateType = "contribution"
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateReferral     OutboxAggregateType = "referral"
	AggregateMember       OutboxAggregateType = "member"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateContribution,
	AggregateSubscription,
	AggregateReferral,
	AggregateMember,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventContributionSettled   OutboxEventType = "contribution_settled"
	EventContributionMissed    OutboxEventType = "contribution_missed"
	EventSubscriptionCompleted OutboxEventType = "subscription_completed"
	EventSubscriptionDefaulted OutboxEventType = "subscription_defaulted"
	EventReferralBonusPaid     OutboxEventType = "referral_bonus_paid"
	EventFundsDeposited        OutboxEventType = "funds_deposited"
)

var validOutboxEventTypes = []OutboxEventType{
	EventContributionSettled,
	EventContributionMissed,
	EventSubscriptionCompleted,
	EventSubscriptionDefaulted,
	EventReferralBonusPaid,
	EventFundsDeposited,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
