package extract

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
	"github.com/quarrydata/marketplace-crawler/internal/normalize"
)

// Schema.org types accepted per entity kind. A node of the wrong type is
// ignored so the hinted kind always drives the match.
var kindTypes = map[crawl.EntityKind][]string{
	crawl.KindListing:  {"Product", "ImageObject", "VideoObject", "CreativeWork"},
	crawl.KindProfile:  {"Person", "ProfilePage"},
	crawl.KindCategory: {"CollectionPage", "ItemList"},
}

// jsonLDStrategy reads script[type="application/ld+json"] blocks. Broken
// blocks are skipped individually; one bad block never hides its siblings.
type jsonLDStrategy struct{}

func (s *jsonLDStrategy) name() string { return "jsonld" }

func (s *jsonLDStrategy) extract(doc *goquery.Document, _ crawl.Page, item crawl.WorkItem, now time.Time) *crawl.Record {
	var nodes []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(sel.Text()), &v); err != nil {
			return
		}
		flattenNodes(v, &nodes)
	})

	for _, node := range nodes {
		if !typeMatches(item.Kind, node["@type"]) {
			continue
		}
		title := nameOf(node["name"])
		if title == "" {
			continue
		}
		record := &crawl.Record{Title: title}
		switch item.Kind {
		case crawl.KindListing:
			creator := node["creator"]
			if creator == nil {
				creator = node["author"]
			}
			record.Author = nameOf(creator)
			record.AuthorURL = urlOf(creator)
			record.Category = nameOf(firstPresent(node, "category", "genre"))
			record.Views = counterOf(node, "WatchAction", "ViewAction")
			record.Downloads = counterOf(node, "DownloadAction")
			if raw := stringOf(firstPresent(node, "datePublished", "dateCreated", "uploadDate")); raw != "" {
				record.Published = parseWhen(raw, now)
			}
		case crawl.KindCategory:
			count := firstPresent(node, "numberOfItems")
			if count == nil {
				if main, ok := node["mainEntity"].(map[string]any); ok {
					count = main["numberOfItems"]
				}
			}
			record.Assets = countQuantity(count)
		}
		return record
	}
	return nil
}

// flattenNodes collects every object in the block, descending through
// top-level arrays and @graph containers one level at a time.
func flattenNodes(v any, out *[]map[string]any) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			flattenNodes(item, out)
		}
	case map[string]any:
		*out = append(*out, t)
		if graph, ok := t["@graph"]; ok {
			flattenNodes(graph, out)
		}
	}
}

func typeMatches(kind crawl.EntityKind, v any) bool {
	accepted := kindTypes[kind]
	for _, nodeType := range typesOf(v) {
		for _, want := range accepted {
			if strings.EqualFold(nodeType, want) {
				return true
			}
		}
	}
	return false
}

// typesOf reads @type, which schema.org allows as a string or a list.
func typesOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{strings.TrimPrefix(t, "https://schema.org/")}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, typesOf(item)...)
		}
		return out
	}
	return nil
}

// nameOf resolves a value that may be a plain string, an object with a name
// field, or a list of either.
func nameOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s, ok := t["name"].(string); ok {
			return strings.TrimSpace(s)
		}
	case []any:
		for _, item := range t {
			if s := nameOf(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func urlOf(v any) string {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t["url"].(string); ok {
			return strings.TrimSpace(s)
		}
	case []any:
		for _, item := range t {
			if s := urlOf(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstPresent(node map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := node[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// counterOf scans interactionStatistic entries for an interaction type
// containing one of the verbs and returns its count.
func counterOf(node map[string]any, verbs ...string) normalize.Quantity {
	stats, ok := node["interactionStatistic"]
	if !ok {
		return normalize.Quantity{}
	}
	entries, ok := stats.([]any)
	if !ok {
		entries = []any{stats}
	}
	for _, entry := range entries {
		counter, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		action := actionOf(counter["interactionType"])
		for _, verb := range verbs {
			if strings.Contains(action, verb) {
				return countQuantity(counter["userInteractionCount"])
			}
		}
	}
	return normalize.Quantity{}
}

func actionOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["@type"].(string); ok {
			return s
		}
	}
	return ""
}

// countQuantity converts a JSON count into a Quantity. Numbers keep their
// decimal rendering as Raw; strings go through the normalizer.
func countQuantity(v any) normalize.Quantity {
	switch t := v.(type) {
	case float64:
		return normalize.Quantity{
			Raw:   strconv.FormatFloat(t, 'f', -1, 64),
			Value: int64(t),
			Valid: true,
		}
	case string:
		return normalize.ParseQuantity(t)
	}
	return normalize.Quantity{}
}
