package enums

import "fmt"

// BonusType maps to the bonus_type enum in Postgres.
type BonusType string

const (
	BonusTypeDirect BonusType = "direct"
	BonusTypeTeam   BonusType = "team"
)

var validBonusTypes = []BonusType{
	BonusTypeDirect,
	BonusTypeTeam,
}

// IsValid reports whether the value matches the bonus_type enum.
func (v BonusType) IsValid() bool {
	for _, candidate := range validBonusTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseBonusType converts raw input into BonusType.
func ParseBonusType(value string) (BonusType, error) {
	for _, candidate := range validBonusTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bonus type %q", value)
}
