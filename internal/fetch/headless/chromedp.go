// Package headless renders JavaScript-dependent pages with Chrome over the
// DevTools protocol. Rendering is a second-chance fetch: the orchestrator
// promotes a page here only when the plain HTTP body looks like a JS shell.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// ErrDisabled indicates rendering has been turned off via configuration.
var ErrDisabled = errors.New("headless rendering disabled")

// Config controls the renderer.
type Config struct {
	MaxParallel int
	UserAgent   string
	Timeout     time.Duration
	DomainQPS   float64
}

// Renderer implements crawl.Renderer using chromedp. Browser tabs are
// bounded by a slot channel and paced per host so rendered fetches do not
// multiply load on the remote site.
type Renderer struct {
	cfg            Config
	logger         *zap.Logger
	allocator      context.Context
	allocCancel    context.CancelFunc
	sem            chan struct{}
	domainLimiters sync.Map
}

// New creates a Renderer. The browser process is not launched until the
// first Render call.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sem:         make(chan struct{}, cfg.MaxParallel),
	}, nil
}

// Close tears down the browser allocator.
func (r *Renderer) Close(context.Context) error {
	if r == nil {
		return nil
	}
	r.allocCancel()
	return nil
}

// Render navigates with JavaScript enabled and returns the settled DOM.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawl.Page, error) {
	if r == nil {
		return crawl.Page{}, ErrDisabled
	}
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return crawl.Page{}, err
	}
	defer release()

	if waitErr := r.waitDomainBudget(ctx, rawURL); waitErr != nil {
		return crawl.Page{}, fmt.Errorf("render rate limit: %w", waitErr)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.allocator)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.runChromedp(taskCtx, rawURL)
	if err != nil {
		return crawl.Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	return crawl.Page{
		URL:        rawURL,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
		FetchedAt:  start.UTC(),
	}, nil
}

func (r *Renderer) runChromedp(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		r.userAgentAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Let late XHR-driven DOM writes settle before snapshotting.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (r *Renderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *Renderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait domain limiter: %w", err)
	}
	return nil
}

// forwardCancel propagates the caller's cancellation into the chromedp task
// context, which is derived from the allocator rather than the caller.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.Mutex
	once    sync.Once
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

// captureEvent records the main document response. Only the first document
// response counts; subresource and XHR responses are ignored.
func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.status = int(resp.Response.Status)
		m.url = resp.Response.URL
		for key, value := range resp.Response.Headers {
			switch v := value.(type) {
			case string:
				m.headers.Add(key, v)
			case []string:
				for _, entry := range v {
					m.headers.Add(key, entry)
				}
			case []any:
				for _, entry := range v {
					m.headers.Add(key, fmt.Sprint(entry))
				}
			default:
				m.headers.Add(key, fmt.Sprint(v))
			}
		}
	})
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	responseURL := m.url
	switch {
	case responseURL != "":
	case finalURL != "":
		responseURL = finalURL
	default:
		responseURL = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, cloneHeader(m.headers), responseURL
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
