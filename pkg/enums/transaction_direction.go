package enums

import "fmt"

// TransactionDirection maps to the transaction_direction enum in Postgres.
type TransactionDirection string

const (
	TransactionDirectionIn  TransactionDirection = "in"
	TransactionDirectionOut TransactionDirection = "out"
)

var validTransactionDirections = []TransactionDirection{
	TransactionDirectionIn,
	TransactionDirectionOut,
}

// IsValid reports whether the value matches the transaction_direction enum.
func (v TransactionDirection) IsValid() bool {
	for _, candidate := range validTransactionDirections {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseTransactionDirection converts raw input into TransactionDirection.
func ParseTransactionDirection(value string) (TransactionDirection, error) {
	for _, candidate := range validTransactionDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction direction %q", value)
}
