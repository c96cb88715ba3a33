package extract

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
	"github.com/quarrydata/marketplace-crawler/internal/normalize"
)

// SelectorSet names where each field lives in a page of one entity kind.
// Empty selectors skip their field; Title is the minimum for a record.
type SelectorSet struct {
	Title     string
	Author    string
	AuthorURL string
	Category  string
	Views     string
	Downloads string
	Assets    string
	Published string
}

// DefaultSelectors returns the built-in per-kind selector sets. Marketplace
// layouts drift, so deployments override these through configuration.
func DefaultSelectors() map[crawl.EntityKind]SelectorSet {
	return map[crawl.EntityKind]SelectorSet{
		crawl.KindListing: {
			Title:     "h1",
			Author:    ".author-info a, a[rel=author]",
			AuthorURL: ".author-info a, a[rel=author]",
			Category:  ".breadcrumbs li:last-child a, .breadcrumbs li:last-child",
			Views:     "[data-stat=views], .stats .views",
			Downloads: "[data-stat=downloads], .stats .downloads",
			Published: "time",
		},
		crawl.KindProfile: {
			Title:  "h1, .profile-name",
			Assets: "[data-stat=assets], .stats .assets",
			Views:  "[data-stat=views], .stats .views",
		},
		crawl.KindCategory: {
			Title:  "h1",
			Assets: ".results-count, [data-stat=results]",
		},
	}
}

// domStrategy is the last resort: plain CSS selectors against the rendered
// markup, with quantities and dates run through the normalizer.
type domStrategy struct {
	selectors map[crawl.EntityKind]SelectorSet
}

func newDOMStrategy(selectors map[crawl.EntityKind]SelectorSet) *domStrategy {
	if len(selectors) == 0 {
		selectors = DefaultSelectors()
	}
	return &domStrategy{selectors: selectors}
}

func (s *domStrategy) name() string { return "dom" }

func (s *domStrategy) extract(doc *goquery.Document, page crawl.Page, item crawl.WorkItem, now time.Time) *crawl.Record {
	set, ok := s.selectors[item.Kind]
	if !ok {
		return nil
	}
	title := firstText(doc, set.Title)
	if title == "" {
		return nil
	}

	record := &crawl.Record{Title: title}
	record.Author = firstText(doc, set.Author)
	record.AuthorURL = resolveHref(firstAttr(doc, set.AuthorURL, "href"), page, item)
	record.Category = firstText(doc, set.Category)
	if raw := firstText(doc, set.Views); raw != "" {
		record.Views = normalize.ParseQuantity(raw)
	}
	if raw := firstText(doc, set.Downloads); raw != "" {
		record.Downloads = normalize.ParseQuantity(raw)
	}
	if raw := firstText(doc, set.Assets); raw != "" {
		record.Assets = normalize.ParseQuantity(raw)
	}
	if raw := publishedText(doc, set.Published); raw != "" {
		record.Published = parseWhen(raw, now)
	}
	return record
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().AttrOr(attr, ""))
}

// publishedText prefers a machine-readable datetime attribute over the
// element's display text.
func publishedText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	if raw := strings.TrimSpace(sel.AttrOr("datetime", "")); raw != "" {
		return raw
	}
	return strings.TrimSpace(sel.Text())
}

// resolveHref absolutizes a link against the page it came from. The final
// URL after redirects is the base when the fetcher recorded one.
func resolveHref(href string, page crawl.Page, item crawl.WorkItem) string {
	if href == "" {
		return ""
	}
	base := page.FinalURL
	if base == "" {
		base = page.URL
	}
	if base == "" {
		base = item.URL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
