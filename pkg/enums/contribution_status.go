package enums

import "fmt"

// ContributionStatus maps to the contribution_status enum in Postgres.
type ContributionStatus string

const (
	ContributionStatusPending ContributionStatus = "pending"
	ContributionStatusPaid    ContributionStatus = "paid"
	ContributionStatusLate    ContributionStatus = "late"
	ContributionStatusMissed  ContributionStatus = "missed"
)

var validContributionStatuses = []ContributionStatus{
	ContributionStatusPending,
	ContributionStatusPaid,
	ContributionStatusLate,
	ContributionStatusMissed,
}

// IsValid reports whether the value matches the contribution_status enum.
func (v ContributionStatus) IsValid() bool {
	for _, candidate := range validContributionStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseContributionStatus converts raw input into ContributionStatus.
func ParseContributionStatus(value string) (ContributionStatus, error) {
	for _, candidate := range validContributionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid contribution status %q", value)
}

// Settled reports whether the contribution has been paid, on time or late.
func (v ContributionStatus) Settled() bool {
	return v == ContributionStatusPaid || v == ContributionStatusLate
}
