package enums

import "fmt"

// SettlementMode selects the fee schedule and window rules applied to a settlement.
type SettlementMode string

const (
	SettlementModeManual    SettlementMode = "manual"
	SettlementModeAutomated SettlementMode = "automated"
)

var validSettlementModes = []SettlementMode{
	SettlementModeManual,
	SettlementModeAutomated,
}

// IsValid reports whether the value matches the settlement_mode enum.
func (v SettlementMode) IsValid() bool {
	for _, candidate := range validSettlementModes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSettlementMode converts raw input into SettlementMode.
func ParseSettlementMode(value string) (SettlementMode, error) {
	for _, candidate := range validSettlementModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement mode %q", value)
}
