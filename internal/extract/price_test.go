package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrice(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"rand with thousands and vat bracket", "R 6,077.00 (EXCL VAT)", "6077"},
		{"rand no space", "R1,234.56", "1234.56"},
		{"vat phrase without brackets", "R 250.00 EXCL. VAT", "250"},
		{"comma as decimal separator", "R 19,95", "19.95"},
		{"plain number", "1500", "1500"},
		{"surrounding prose", "List Price: R 42.50 per unit", "42.5"},
		{"zar prefix", "ZAR 3,999.00", "3999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Price(tc.in)
			require.True(t, ok, "expected a price in %q", tc.in)
			want, err := decimal.NewFromString(tc.want)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "want %s got %s", want, got)
		})
	}
}

func TestPriceMisses(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"no digits", "not a price"},
		{"zero", "R 0.00"},
		{"empty", ""},
		{"only currency", "R"},
		{"negative-ish text", "discounted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := Price(tc.in)
			assert.False(t, ok, "expected no price in %q", tc.in)
		})
	}
}

func TestPriceBoundRejectsImplausible(t *testing.T) {
	_, ok := Price("R 123456789.00")
	assert.False(t, ok, "price above the plausibility bound must be rejected")

	// A tighter bound rejects what the default accepts.
	_, ok = PriceBounded("R 5000.00", decimal.NewFromInt(1000))
	assert.False(t, ok)
	got, ok := PriceBounded("R 999.00", decimal.NewFromInt(1000))
	require.True(t, ok)
	assert.Equal(t, "999.00", got.StringFixed(2))
}

func TestPricePicksLongestToken(t *testing.T) {
	// Prose with a stray digit must not shadow the real price.
	got, ok := Price("3 units at R 1,250.00 each")
	require.True(t, ok)
	assert.Equal(t, "1250.00", got.StringFixed(2))
}
