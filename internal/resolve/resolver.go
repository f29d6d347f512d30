package resolve

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricesync/internal/domain"
)

// Resolver builds candidate URLs for a SKU against a single origin.
// Candidates are ordered: a direct product-path guess first, the search
// endpoint second. When the search results page is fetched, RefineFromSearch
// can narrow it to a concrete product link.
type Resolver struct {
	base *url.URL
}

func New(baseURL string) (*Resolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	return &Resolver{base: u}, nil
}

// Candidate pairs a URL with the kind of page it is expected to return,
// so the crawler knows whether link refinement applies.
type Candidate struct {
	URL      string
	IsSearch bool
}

// Candidates returns the ordered fetch candidates for a SKU.
func (r *Resolver) Candidates(sku domain.SKU) []Candidate {
	return []Candidate{
		{URL: r.productURL(sku)},
		{URL: r.searchURL(sku), IsSearch: true},
	}
}

func (r *Resolver) productURL(sku domain.SKU) string {
	u := *r.base
	u.Path = "/products/" + url.PathEscape(strings.ToLower(string(sku)))
	return u.String()
}

func (r *Resolver) searchURL(sku domain.SKU) string {
	u := *r.base
	u.Path = "/search"
	q := url.Values{}
	q.Set("controller", "search")
	q.Set("s", string(sku))
	u.RawQuery = q.Encode()
	return u.String()
}

// RefineFromSearch scans a search-results document for an anchor whose
// text or href mentions the SKU, case-insensitively, and returns it as an
// absolute URL. ok=false means the results page has no usable link, which
// is a normal miss.
func (r *Resolver) RefineFromSearch(doc *goquery.Document, sku domain.SKU) (string, bool) {
	needle := strings.ToLower(string(sku))
	var refined string

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if href == "" {
			return true
		}
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if !strings.Contains(strings.ToLower(href), needle) && !strings.Contains(text, needle) {
			return true
		}
		abs, err := r.absolute(href)
		if err != nil {
			return true
		}
		refined = abs
		return false
	})

	return refined, refined != ""
}

func (r *Resolver) absolute(href string) (string, error) {
	rel, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return r.base.ResolveReference(rel).String(), nil
}
