// Package turbo adapts the crawl engine to turbo.az markup. It builds
// listing page URLs, extracts work items from the regular listings block,
// parses detail pages into flat field maps, and shapes the token-gated
// phone reveal request.
package turbo

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// DefaultBaseURL is the production site root.
const DefaultBaseURL = "https://turbo.az"

var listingIDPattern = regexp.MustCompile(`/autos/(\d+)`)

// Card badge selectors, keyed by the flag name they set on a work item.
var badgeSelectors = map[string]string{
	"is_vip":      "span.vipped-icon",
	"is_featured": "span.featured-icon",
	"is_salon":    "div.products-i__label--salon",
	"has_credit":  "div.products-i__icon--loan",
	"has_barter":  "div.products-i__icon--barter",
	"has_vin":     "div.products-i__label--vin",
}

// Extractor implements crawler.Extractor for turbo.az.
type Extractor struct {
	baseURL string
}

var _ crawler.Extractor = (*Extractor)(nil)

// New builds an extractor rooted at baseURL. An empty baseURL falls back to
// the production site.
func New(baseURL string) *Extractor {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Extractor{baseURL: baseURL}
}

// PageURL returns the listing page URL for a 1-based page index.
func (e *Extractor) PageURL(page int) string {
	return fmt.Sprintf("%s/autos?page=%d", e.baseURL, page)
}

// Items extracts one work item per listing card in the regular listings
// block. The promoted blocks repeat the same paid placements on every page,
// so only the plain section is harvested. Cards whose link carries no
// numeric listing id are skipped.
func (e *Extractor) Items(listHTML []byte) ([]crawler.WorkItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(listHTML))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var items []crawler.WorkItem
	regularListings(doc).Find("div.products-i").Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find("a.products-i__link").First().Attr("href")
		if !ok || href == "" {
			return
		}
		m := listingIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		items = append(items, crawler.WorkItem{
			Identifier: m[1],
			SourceURL:  e.absoluteURL(href),
			Discovery:  cardBadges(card),
		})
	})
	return items, nil
}

// regularListings picks the products grid under the "ELANLAR" heading. The
// page stacks the dealers' VIP block and the VIP block above it; their
// headings differ only by prefix, so the match is on heading equality. When
// no heading matches, the last grid wins (the regular block always closes
// the page), and a page with a single grid has no promoted blocks at all.
func regularListings(doc *goquery.Document) *goquery.Selection {
	grids := doc.Find("div.products")
	if grids.Length() == 0 {
		return doc.Selection
	}
	if grids.Length() == 1 {
		return grids
	}

	picked := grids.Last()
	doc.Find(".section-title_name").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if !strings.EqualFold(cleanText(heading.Text()), "ELANLAR") {
			return true
		}
		grid := heading.Closest(".section-title").NextAllFiltered("div.products").First()
		if grid.Length() == 0 {
			return true
		}
		picked = grid
		return false
	})
	return picked
}

func cardBadges(card *goquery.Selection) map[string]bool {
	var badges map[string]bool
	for name, selector := range badgeSelectors {
		if card.Find(selector).Length() == 0 {
			continue
		}
		if badges == nil {
			badges = make(map[string]bool)
		}
		badges[name] = true
	}
	return badges
}

// Supplementary shapes the phone reveal call for an item. The endpoint is an
// XHR guarded by the page's CSRF token; without a token there is nothing to
// send.
func (e *Extractor) Supplementary(item crawler.WorkItem, token string) (crawler.FetchRequest, bool) {
	if token == "" || item.Identifier == "" {
		return crawler.FetchRequest{}, false
	}

	query := url.Values{}
	query.Set("trigger_button", "main")
	query.Set("source_link", item.SourceURL)

	headers := http.Header{}
	headers.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	headers.Set("X-Requested-With", "XMLHttpRequest")
	headers.Set("X-CSRF-Token", token)
	headers.Set("Referer", item.SourceURL)

	return crawler.FetchRequest{
		URL:     fmt.Sprintf("%s/autos/%s/show_phones?%s", e.baseURL, item.Identifier, query.Encode()),
		Headers: headers,
	}, true
}

func (e *Extractor) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return e.baseURL + "/" + strings.TrimPrefix(href, "/")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
