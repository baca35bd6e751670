package enums

import "fmt"

// EnforcementStatus is the derived standing reported by enforcement checks.
type EnforcementStatus string

const (
	EnforcementStatusNoSubscription EnforcementStatus = "no_subscription"
	EnforcementStatusGoodStanding   EnforcementStatus = "good_standing"
	EnforcementStatusAtRisk         EnforcementStatus = "at_risk"
	EnforcementStatusDefaulted      EnforcementStatus = "defaulted"
	EnforcementStatusCompleted      EnforcementStatus = "completed"
)

var validEnforcementStatuses = []EnforcementStatus{
	EnforcementStatusNoSubscription,
	EnforcementStatusGoodStanding,
	EnforcementStatusAtRisk,
	EnforcementStatusDefaulted,
	EnforcementStatusCompleted,
}

// IsValid reports whether the value matches the enforcement_status enum.
func (v EnforcementStatus) IsValid() bool {
	for _, candidate := range validEnforcementStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseEnforcementStatus converts raw input into EnforcementStatus.
func ParseEnforcementStatus(value string) (EnforcementStatus, error) {
	for _, candidate := range validEnforcementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid enforcement status %q", value)
}
