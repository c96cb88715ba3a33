package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// openGraphStrategy reads OpenGraph meta tags. It runs when no JSON-LD node
// matched; og:title is the minimum it needs to yield a record.
type openGraphStrategy struct{}

func (s *openGraphStrategy) name() string { return "opengraph" }

func (s *openGraphStrategy) extract(doc *goquery.Document, _ crawl.Page, _ crawl.WorkItem, now time.Time) *crawl.Record {
	title := metaProperty(doc, "og:title")
	if title == "" {
		return nil
	}
	record := &crawl.Record{Title: title}
	record.Author = firstNonEmpty(
		metaProperty(doc, "article:author"),
		metaName(doc, "author"),
	)
	record.Category = metaProperty(doc, "article:section")
	if raw := firstNonEmpty(
		metaProperty(doc, "article:published_time"),
		metaProperty(doc, "og:updated_time"),
	); raw != "" {
		record.Published = parseWhen(raw, now)
	}
	return record
}

func metaProperty(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First()
	return strings.TrimSpace(sel.AttrOr("content", ""))
}

func metaName(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`meta[name=%q]`, name)).First()
	return strings.TrimSpace(sel.AttrOr("content", ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
