// Package detector decides when a fetched page needs headless rendering.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// defaultKeywords mark JS-shell pages: noscript pleas and the mount points
// of common single-page-app frameworks.
var defaultKeywords = []string{
	"enable javascript",
	"requires javascript",
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
}

// Heuristic implements crawl.Detector with rule-based promotion signals:
// a suspiciously small body, JS-shell keywords, or missing landmark
// selectors that a fully rendered page would carry.
type Heuristic struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// NewHeuristic constructs a detector. Zero minBytes defaults to 2048; nil
// keywords default to the JS-shell marker list; no selectors disables the
// landmark check.
func NewHeuristic(minBytes int, selectors, keywords []string) *Heuristic {
	if minBytes <= 0 {
		minBytes = 2048
	}
	if keywords == nil {
		keywords = defaultKeywords
	}
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &Heuristic{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowerKeywords,
	}
}

// ShouldRender reports whether the page warrants a headless second fetch.
// Error pages and already-rendered pages are never promoted.
func (d *Heuristic) ShouldRender(page crawl.Page) bool {
	if d == nil {
		return false
	}
	if page.StatusCode != http.StatusOK || page.Rendered {
		return false
	}
	switch {
	case len(page.Body) == 0:
		return true
	case d.bodyBelowThreshold(page.Body):
		return true
	case d.containsKeywords(page.Body):
		return true
	default:
		return d.missingSelectors(page.Body)
	}
}

func (d *Heuristic) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *Heuristic) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if len(kw) == 0 {
			continue
		}
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *Heuristic) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
