package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// workItemKindOrder fixes the kind iteration so WorkItems is deterministic.
var workItemKindOrder = []crawl.EntityKind{
	crawl.KindListing,
	crawl.KindProfile,
	crawl.KindCategory,
}

// Index is the classified output of one sitemap pass.
type Index struct {
	ByKind    map[crawl.EntityKind][]string
	HelpCount int
	Discarded int
	Source    string
}

// Total counts the crawlable URLs across kinds.
func (ix Index) Total() int {
	total := 0
	for _, urls := range ix.ByKind {
		total += len(urls)
	}
	return total
}

// WorkItems flattens the index into the orchestrator's input, listing URLs
// first, then profiles, then categories.
func (ix Index) WorkItems() []crawl.WorkItem {
	items := make([]crawl.WorkItem, 0, ix.Total())
	for _, kind := range workItemKindOrder {
		for _, u := range ix.ByKind[kind] {
			items = append(items, crawl.WorkItem{URL: u, Kind: kind})
		}
	}
	return items
}

// Indexer fetches sitemaps through the shared politeness gate and builds an
// Index. A sitemapindex document is flattened one level: each child urlset
// is fetched in turn, and a failing child drops only its own URLs.
type Indexer struct {
	fetcher    crawl.Fetcher
	classifier *Classifier
	primary    string
	fallback   string
	logger     *zap.Logger
}

// NewIndexer builds an Indexer. The fallback URL may be empty.
func NewIndexer(fetcher crawl.Fetcher, classifier *Classifier, primary, fallback string, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		fetcher:    fetcher,
		classifier: classifier,
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
	}
}

// Index fetches the primary sitemap, falling back to the configured backup.
// Both failing yields an empty index with no error: an unreachable sitemap
// means "nothing to do", not a broken run. Cancellation still surfaces.
func (i *Indexer) Index(ctx context.Context) (Index, error) {
	urls, source, err := i.discover(ctx)
	if err != nil {
		return Index{}, err
	}

	index := Index{
		ByKind: make(map[crawl.EntityKind][]string),
		Source: source,
	}
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		kind, verdict := i.classifier.Classify(raw)
		switch verdict {
		case VerdictWork:
			index.ByKind[kind] = append(index.ByKind[kind], raw)
		case VerdictHelp:
			index.HelpCount++
		default:
			index.Discarded++
		}
	}

	i.logger.Info("sitemap indexed",
		zap.String("source", source),
		zap.Int("listings", len(index.ByKind[crawl.KindListing])),
		zap.Int("profiles", len(index.ByKind[crawl.KindProfile])),
		zap.Int("categories", len(index.ByKind[crawl.KindCategory])),
		zap.Int("help", index.HelpCount),
		zap.Int("discarded", index.Discarded),
	)
	return index, nil
}

// discover returns the raw URL list and which sitemap produced it.
func (i *Indexer) discover(ctx context.Context) ([]string, string, error) {
	urls, err := i.loadSitemap(ctx, i.primary)
	if err == nil {
		return urls, i.primary, nil
	}
	if ctx.Err() != nil {
		return nil, "", fmt.Errorf("sitemap discovery canceled: %w", ctx.Err())
	}
	i.logger.Warn("primary sitemap failed",
		zap.String("url", i.primary), zap.Error(err))

	if i.fallback != "" {
		urls, fbErr := i.loadSitemap(ctx, i.fallback)
		if fbErr == nil {
			return urls, i.fallback, nil
		}
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("sitemap discovery canceled: %w", ctx.Err())
		}
		i.logger.Warn("fallback sitemap failed",
			zap.String("url", i.fallback), zap.Error(fbErr))
	}

	i.logger.Warn("no sitemap reachable, proceeding with empty work set")
	return nil, "", nil
}

func (i *Indexer) loadSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	doc, err := i.fetchDocument(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	if children := locValues(doc, "//sitemap/loc"); len(children) > 0 {
		var all []string
		for _, child := range children {
			childDoc, childErr := i.fetchDocument(ctx, child)
			if childErr != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("fetch child sitemap: %w", ctx.Err())
				}
				i.logger.Warn("child sitemap failed, skipping",
					zap.String("url", child), zap.Error(childErr))
				continue
			}
			all = append(all, locValues(childDoc, "//url/loc")...)
		}
		return all, nil
	}
	return locValues(doc, "//url/loc"), nil
}

func (i *Indexer) fetchDocument(ctx context.Context, sitemapURL string) (*xmlquery.Node, error) {
	page, err := i.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	return doc, nil
}

func locValues(doc *xmlquery.Node, query string) []string {
	nodes := xmlquery.Find(doc, query)
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if text := strings.TrimSpace(node.InnerText()); text != "" {
			out = append(out, text)
		}
	}
	return out
}
