package resolve

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricesync/internal/domain"
)

func TestNewRejectsRelativeBase(t *testing.T) {
	_, err := New("acdc.co.za")
	assert.Error(t, err)
}

func TestCandidatesOrder(t *testing.T) {
	r, err := New("https://shop.example.com")
	require.NoError(t, err)

	cands := r.Candidates(domain.SKU("DF1730SL-20-1"))
	require.Len(t, cands, 2)

	assert.Equal(t, "https://shop.example.com/products/df1730sl-20-1", cands[0].URL)
	assert.False(t, cands[0].IsSearch)

	assert.True(t, cands[1].IsSearch)
	assert.Contains(t, cands[1].URL, "controller=search")
	assert.Contains(t, cands[1].URL, "s=DF1730SL-20-1")
}

func TestRefineFromSearchByHref(t *testing.T) {
	r, err := New("https://shop.example.com")
	require.NoError(t, err)

	doc := mustDoc(t, `<html><body>
		<a href="/products/other-item">Other item</a>
		<a href="/products/a0001-widget">Widget</a>
	</body></html>`)

	refined, ok := r.RefineFromSearch(doc, domain.SKU("A0001"))
	require.True(t, ok)
	assert.Equal(t, "https://shop.example.com/products/a0001-widget", refined)
}

func TestRefineFromSearchByAnchorText(t *testing.T) {
	r, err := New("https://shop.example.com")
	require.NoError(t, err)

	doc := mustDoc(t, `<html><body>
		<a href="/p/123">Contactor a0001 40A</a>
	</body></html>`)

	refined, ok := r.RefineFromSearch(doc, domain.SKU("A0001"))
	require.True(t, ok)
	assert.Equal(t, "https://shop.example.com/p/123", refined)
}

func TestRefineFromSearchMiss(t *testing.T) {
	r, err := New("https://shop.example.com")
	require.NoError(t, err)

	doc := mustDoc(t, `<html><body>
		<a href="/products/unrelated">Unrelated</a>
	</body></html>`)

	_, ok := r.RefineFromSearch(doc, domain.SKU("A0001"))
	assert.False(t, ok)
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}
