package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestPriceFromDocumentProductSpan(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<article class="product-miniature">
			<span class="product-price">R 6,077.00 (EXCL VAT)</span>
		</article>
	</body></html>`)

	price, strategy, ok := PriceFromDocument(doc, DefaultMaxPrice)
	require.True(t, ok)
	assert.Equal(t, "product-price-span", strategy)
	assert.Equal(t, "6077.00", price.StringFixed(2))
}

func TestPriceFromDocumentFallsThroughStrategies(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<div class="price">R1,234.56</div>
	</body></html>`)

	price, strategy, ok := PriceFromDocument(doc, DefaultMaxPrice)
	require.True(t, ok)
	assert.Equal(t, "price-class", strategy)
	assert.Equal(t, "1234.56", price.StringFixed(2))
}

func TestPriceFromDocumentAttrStrategy(t *testing.T) {
	doc := mustDoc(t, `<html><head>
		<meta property="product:price:amount" content="899.99">
	</head><body></body></html>`)

	price, strategy, ok := PriceFromDocument(doc, DefaultMaxPrice)
	require.True(t, ok)
	assert.Equal(t, "og-price-meta", strategy)
	assert.Equal(t, "899.99", price.StringFixed(2))
}

func TestPriceFromDocumentSkipsUnparseableNodes(t *testing.T) {
	// The first matching node has no usable price; the second does.
	doc := mustDoc(t, `<html><body>
		<span class="product-price">Call for price</span>
		<span class="product-price">R 150.00</span>
	</body></html>`)

	price, _, ok := PriceFromDocument(doc, DefaultMaxPrice)
	require.True(t, ok)
	assert.Equal(t, "150.00", price.StringFixed(2))
}

func TestPriceFromDocumentNoPrice(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>Out of stock</p></body></html>`)

	_, _, ok := PriceFromDocument(doc, DefaultMaxPrice)
	assert.False(t, ok)
}
