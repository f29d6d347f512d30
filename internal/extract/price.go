package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMaxPrice rejects values that are almost certainly the product of
// concatenated digits rather than a real price.
var DefaultMaxPrice = decimal.NewFromInt(1_000_000)

var (
	bracketRe = regexp.MustCompile(`\([^)]*\)`)
	numberRe  = regexp.MustCompile(`\d+(?:\.\d+)?`)

	// Tax annotations seen around price nodes, checked case-insensitively
	// after brackets are stripped.
	vatPhrases = []string{
		"excl. vat", "excl vat", "incl. vat", "incl vat",
		"ex vat", "vat excluded", "vat included", "+vat", "vat",
	}

	currencySymbols = []string{"R", "$", "€", "£", "ZAR"}
)

// Price converts free-form price text into a decimal value. The text may
// carry currency symbols, VAT annotations, thousands separators in comma
// or dot form, and surrounding prose. A miss returns ok=false; it is a
// normal outcome, not an error.
func Price(text string) (decimal.Decimal, bool) {
	return PriceBounded(text, DefaultMaxPrice)
}

// PriceBounded is Price with a caller-supplied upper plausibility bound.
func PriceBounded(text string, maxPrice decimal.Decimal) (decimal.Decimal, bool) {
	s := bracketRe.ReplaceAllString(text, " ")

	lower := strings.ToLower(s)
	for _, phrase := range vatPhrases {
		if i := strings.Index(lower, phrase); i >= 0 {
			s = s[:i] + " " + s[i+len(phrase):]
			lower = strings.ToLower(s)
		}
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, " ")
	}
	s = strings.TrimSpace(s)

	// Comma disambiguation: alongside a dot it is a thousands separator,
	// on its own it is the decimal separator.
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}

	token := longestNumericToken(s)
	if token == "" {
		return decimal.Zero, false
	}

	price, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero, false
	}
	if price.Sign() <= 0 || price.Cmp(maxPrice) >= 0 {
		return decimal.Zero, false
	}
	return price, true
}

func longestNumericToken(s string) string {
	var longest string
	for _, m := range numberRe.FindAllString(s, -1) {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return longest
}
