// Package money formats minor-unit amounts for people.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the settlement currency for all balances.
const DefaultCurrency = "NGN"

// FromCents converts an integer minor-unit amount into a decimal major-unit value.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ToCents converts a major-unit decimal into minor units, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Format renders cents as "NGN 1,500.00".
func Format(cents int64) string {
	return fmt.Sprintf("%s %s", DefaultCurrency, group(FromCents(cents).StringFixed(2)))
}

func group(fixed string) string {
	sign := ""
	if len(fixed) > 0 && fixed[0] == '-' {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac := fixed, ""
	for i := range fixed {
		if fixed[i] == '.' {
			intPart, frac = fixed[:i], fixed[i:]
			break
		}
	}
	out := make([]byte, 0, len(intPart)+len(intPart)/3)
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	return sign + string(out) + frac
}
