package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// Strategy names one way of locating the price-bearing node in a product
// document. Strategies are tried in order; supporting a new site layout
// means appending one here, not editing the extraction loop.
type Strategy struct {
	Name     string
	Selector string
	// Attr reads the price from an attribute instead of the node text.
	Attr string
}

// DefaultStrategies covers the PrestaShop-style markup of the target
// origin first, then progressively more generic fallbacks.
var DefaultStrategies = []Strategy{
	{Name: "product-price-span", Selector: "span.product-price"},
	{Name: "miniature-price", Selector: ".product-miniature .price"},
	{Name: "current-price", Selector: ".current-price"},
	{Name: "price-class", Selector: ".price"},
	{Name: "itemprop-price", Selector: `[itemprop="price"]`, Attr: "content"},
	{Name: "og-price-meta", Selector: `meta[property="product:price:amount"]`, Attr: "content"},
}

// PriceFromDocument runs the default strategies against a parsed product
// page and returns the first plausible price together with the name of
// the strategy that produced it.
func PriceFromDocument(doc *goquery.Document, maxPrice decimal.Decimal) (decimal.Decimal, string, bool) {
	return PriceFromDocumentWith(doc, DefaultStrategies, maxPrice)
}

func PriceFromDocumentWith(doc *goquery.Document, strategies []Strategy, maxPrice decimal.Decimal) (decimal.Decimal, string, bool) {
	for _, st := range strategies {
		var (
			price decimal.Decimal
			found bool
		)
		doc.Find(st.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if st.Attr != "" {
				text, _ = s.Attr(st.Attr)
			}
			if p, ok := PriceBounded(strings.TrimSpace(text), maxPrice); ok {
				price, found = p, true
				return false
			}
			return true
		})
		if found {
			return price, st.Name, true
		}
	}
	return decimal.Zero, "", false
}
