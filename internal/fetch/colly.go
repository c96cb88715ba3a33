package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// CollyConfig controls the HTTP transport behavior of a single attempt.
type CollyConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// CollyFetcher performs one HTTP GET per Fetch call using a Colly collector.
// It carries no retry or pacing logic; the Gate wrapper owns those, along
// with robots.txt enforcement, so the collector skips its own robots check.
type CollyFetcher struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

// NewColly builds a CollyFetcher.
func NewColly(cfg CollyConfig) *CollyFetcher {
	c := colly.NewCollector(
		colly.Async(false),
		// Retried attempts revisit the same URL.
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &CollyFetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Non-2xx statuses are returned as
// *StatusError so the retry classifier can separate 429/5xx from other 4xx.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (crawl.Page, error) {
	var (
		page     crawl.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(url, start, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return crawl.Page{}, err
	}
	if fetchErr != nil {
		return crawl.Page{}, fetchErr
	}
	return page, nil
}

func (f *CollyFetcher) buildCollector(url string, start time.Time, page *crawl.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		*page = crawl.Page{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			FetchedAt:  start.UTC(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = &StatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		*fetchErr = fmt.Errorf("fetch %s: %w", url, err)
	})

	return collector
}

// runCollector drives one Visit while honoring the caller's context. When
// the visit fails, the typed error captured by OnError wins over the plain
// error Visit returns, so status codes stay classifiable upstream.
func (f *CollyFetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			if *fetchErr != nil {
				return *fetchErr
			}
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
