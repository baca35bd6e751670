package enums

import "fmt"

// ReferralStatus maps to the referral_status enum in Postgres.
type ReferralStatus string

const (
	ReferralStatusPending ReferralStatus = "pending"
	ReferralStatusPaid    ReferralStatus = "paid"
)

var validReferralStatuses = []ReferralStatus{
	ReferralStatusPending,
	ReferralStatusPaid,
}

// IsValid reports whether the value matches the referral_status enum.
func (v ReferralStatus) IsValid() bool {
	for _, candidate := range validReferralStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseReferralStatus converts raw input into ReferralStatus.
func ParseReferralStatus(value string) (ReferralStatus, error) {
	for _, candidate := range validReferralStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid referral status %q", value)
}
