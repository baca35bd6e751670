package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := map[int64]string{
		0:         "NGN 0.00",
		5:         "NGN 0.05",
		150000:    "NGN 1,500.00",
		123456789: "NGN 1,234,567.89",
		-2500:     "NGN -25.00",
	}
	for cents, want := range cases {
		assert.Equal(t, want, Format(cents), "cents=%d", cents)
	}
}

func TestToCentsRoundTrip(t *testing.T) {
	assert.Equal(t, int64(1999), ToCents(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), ToCents(decimal.RequireFromString("9.995")))
	assert.True(t, FromCents(1500).Equal(decimal.RequireFromString("15")))
}
