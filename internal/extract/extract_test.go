package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

var anchor = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubHasher struct{ err error }

func (h stubHasher) Hash(data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return fmt.Sprintf("hash-%d", len(data)), nil
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	return New(Config{}, stubHasher{}, fixedClock{now: anchor}, zap.NewNop())
}

func listingPage(body string) (crawl.Page, crawl.WorkItem) {
	page := crawl.Page{
		URL:       "https://example.com/photo/forest-1",
		FinalURL:  "https://example.com/photo/forest-1",
		Body:      []byte(body),
		FetchedAt: anchor,
	}
	item := crawl.WorkItem{URL: "https://example.com/photo/forest-1", Kind: crawl.KindListing}
	return page, item
}

const productJSONLD = `<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Product",
  "name": "Mountain Vector Pack",
  "creator": {"@type": "Person", "name": "Jane Doe", "url": "https://example.com/author/jane"},
  "category": "Nature",
  "datePublished": "2024-11-05",
  "interactionStatistic": [
    {"@type": "InteractionCounter", "interactionType": "https://schema.org/WatchAction", "userInteractionCount": 19800},
    {"@type": "InteractionCounter", "interactionType": {"@type": "DownloadAction"}, "userInteractionCount": "2.4K"}
  ]
}
</script>`

func TestJSONLDWinsOverLaterStrategies(t *testing.T) {
	t.Parallel()

	body := `<html><head>` + productJSONLD +
		`<meta property="og:title" content="OG Title"></head>` +
		`<body><h1>DOM Title</h1></body></html>`
	page, item := listingPage(body)

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Mountain Vector Pack", record.Title)
	require.Equal(t, "Jane Doe", record.Author)
	require.Equal(t, "https://example.com/author/jane", record.AuthorURL)
	require.Equal(t, "Nature", record.Category)

	require.True(t, record.Views.Valid)
	require.EqualValues(t, 19800, record.Views.Value)
	require.True(t, record.Downloads.Valid)
	require.EqualValues(t, 2400, record.Downloads.Value)

	require.True(t, record.Published.Valid)
	require.Equal(t, time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC), record.Published.Value)

	require.Equal(t, item.URL, record.URL)
	require.Equal(t, crawl.KindListing, record.Kind)
	require.Equal(t, anchor, record.FetchedAt)
	require.Equal(t, fmt.Sprintf("hash-%d", len(body)), record.ContentHash)
}

func TestJSONLDGraphContainer(t *testing.T) {
	t.Parallel()

	body := `<html><head><script type="application/ld+json">
{"@context": "https://schema.org", "@graph": [
  {"@type": "WebSite", "name": "Example Marketplace"},
  {"@type": "ImageObject", "name": "Sunset Photo", "author": "Bob"}
]}
</script></head><body></body></html>`
	page, item := listingPage(body)

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Sunset Photo", record.Title)
	require.Equal(t, "Bob", record.Author)
}

func TestBrokenJSONLDBlockDoesNotHideSiblings(t *testing.T) {
	t.Parallel()

	body := `<html><head>
<script type="application/ld+json">{not json at all</script>
<script type="application/ld+json">{"@type": "Product", "name": "Second Block"}</script>
</head><body></body></html>`
	page, item := listingPage(body)

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Second Block", record.Title)
}

func TestKindHintGatesJSONLDNodeType(t *testing.T) {
	t.Parallel()

	// A Product node on a profile-hinted page must not match; the OpenGraph
	// strategy picks the page up instead.
	body := `<html><head>
<script type="application/ld+json">{"@type": "Product", "name": "Wrong Kind"}</script>
<meta property="og:title" content="Jane Doe Portfolio">
</head><body></body></html>`
	page := crawl.Page{URL: "https://example.com/author/jane", Body: []byte(body), FetchedAt: anchor}
	item := crawl.WorkItem{URL: "https://example.com/author/jane", Kind: crawl.KindProfile}

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Jane Doe Portfolio", record.Title)
}

func TestOpenGraphRecord(t *testing.T) {
	t.Parallel()

	body := `<html><head>
<meta property="og:title" content="Autumn Icons">
<meta property="article:author" content="Jane Doe">
<meta property="article:section" content="Icons">
<meta property="article:published_time" content="2024-12-01T10:30:00Z">
</head><body></body></html>`
	page, item := listingPage(body)

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Autumn Icons", record.Title)
	require.Equal(t, "Jane Doe", record.Author)
	require.Equal(t, "Icons", record.Category)
	require.True(t, record.Published.Valid)
	require.Equal(t, time.Date(2024, 12, 1, 10, 30, 0, 0, time.UTC), record.Published.Value)
}

func TestDOMListingRecord(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<h1>Forest Photo</h1>
<div class="author-info"><a href="/author/bob">Bob</a></div>
<ul class="breadcrumbs"><li><a href="/">Home</a></li><li><a href="/photo/category/nature">Nature</a></li></ul>
<div class="stats"><span class="views">19.8K Views</span><span class="downloads">1,204 Downloads</span></div>
<time datetime="2024-10-02">October 2, 2024</time>
</body></html>`
	page, item := listingPage(body)

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Forest Photo", record.Title)
	require.Equal(t, "Bob", record.Author)
	require.Equal(t, "https://example.com/author/bob", record.AuthorURL, "relative href resolved against the page")
	require.Equal(t, "Nature", record.Category)
	require.EqualValues(t, 19800, record.Views.Value)
	require.EqualValues(t, 1204, record.Downloads.Value)
	require.True(t, record.Published.Valid)
	require.Equal(t, time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC), record.Published.Value, "datetime attribute preferred over display text")
}

func TestDOMRelativeDateAnchorsToFetchTime(t *testing.T) {
	t.Parallel()

	body := `<html><body><h1>Old Upload</h1><time>3 months ago</time></body></html>`
	page, item := listingPage(body)

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.True(t, record.Published.Valid)
	require.Equal(t, anchor.Add(-90*24*time.Hour), record.Published.Value)
	require.Equal(t, "3 months ago", record.Published.Raw)
}

func TestDOMProfileRecord(t *testing.T) {
	t.Parallel()

	body := `<html><body><h1>Jane Doe</h1>
<div class="stats"><span class="assets">128 Assets</span><span class="views">1.2M Views</span></div>
</body></html>`
	page := crawl.Page{URL: "https://example.com/author/jane", Body: []byte(body), FetchedAt: anchor}
	item := crawl.WorkItem{URL: "https://example.com/author/jane", Kind: crawl.KindProfile}

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Jane Doe", record.Title)
	require.EqualValues(t, 128, record.Assets.Value)
	require.EqualValues(t, 1_200_000, record.Views.Value)
}

func TestCategoryAssetsFromItemList(t *testing.T) {
	t.Parallel()

	body := `<html><head><script type="application/ld+json">
{"@type": "CollectionPage", "name": "Nature Vectors", "mainEntity": {"@type": "ItemList", "numberOfItems": 5200}}
</script></head><body></body></html>`
	page := crawl.Page{URL: "https://example.com/vector/category/nature", Body: []byte(body), FetchedAt: anchor}
	item := crawl.WorkItem{URL: "https://example.com/vector/category/nature", Kind: crawl.KindCategory}

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Nature Vectors", record.Title)
	require.True(t, record.Assets.Valid)
	require.EqualValues(t, 5200, record.Assets.Value)
}

func TestUnrecognizedMarkupYieldsNil(t *testing.T) {
	t.Parallel()

	page, item := listingPage(`<html><body><p>nothing useful here</p></body></html>`)
	require.Nil(t, newTestExtractor(t).Extract(context.Background(), page, item))
}

func TestEmptyBodyYieldsNil(t *testing.T) {
	t.Parallel()

	page, item := listingPage("")
	require.Nil(t, newTestExtractor(t).Extract(context.Background(), page, item))
}

func TestHashFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	extractor := New(Config{}, stubHasher{err: errors.New("digest backend down")}, fixedClock{now: anchor}, zap.NewNop())
	page, item := listingPage(`<html><body><h1>Still Extracted</h1></body></html>`)

	record := extractor.Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Empty(t, record.ContentHash)
}

func TestMissingFetchTimeFallsBackToClock(t *testing.T) {
	t.Parallel()

	page, item := listingPage(`<html><body><h1>Untimed</h1></body></html>`)
	page.FetchedAt = time.Time{}

	record := newTestExtractor(t).Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, anchor, record.FetchedAt)
}

func TestCustomSelectorsReplaceDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Selectors: map[crawl.EntityKind]SelectorSet{
		crawl.KindListing: {Title: ".product-name"},
	}}
	extractor := New(cfg, stubHasher{}, fixedClock{now: anchor}, zap.NewNop())

	page, item := listingPage(`<html><body><h1>Ignored</h1><div class="product-name">Chair Render</div></body></html>`)
	record := extractor.Extract(context.Background(), page, item)
	require.NotNil(t, record)
	require.Equal(t, "Chair Render", record.Title)
}
