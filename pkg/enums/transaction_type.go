package enums

import "fmt"

// TransactionType maps to the transaction_type enum in Postgres.
type TransactionType string

const (
	TransactionTypeContribution   TransactionType = "contribution"
	TransactionTypeMaintenanceFee TransactionType = "maintenance_fee"
	TransactionTypeLateFee        TransactionType = "late_fee"
	TransactionTypeBonus          TransactionType = "bonus"
	TransactionTypeDeposit        TransactionType = "deposit"
	TransactionTypeWithdrawal     TransactionType = "withdrawal"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeContribution,
	TransactionTypeMaintenanceFee,
	TransactionTypeLateFee,
	TransactionTypeBonus,
	TransactionTypeDeposit,
	TransactionTypeWithdrawal,
}

// IsValid reports whether the value matches the transaction_type enum.
func (v TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

// Direction returns the side of the spendable balance this type moves.
func (v TransactionType) Direction() TransactionDirection {
	switch v {
	case TransactionTypeBonus, TransactionTypeDeposit:
		return TransactionDirectionIn
	default:
		return TransactionDirectionOut
	}
}
