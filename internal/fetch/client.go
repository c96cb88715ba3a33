package fetch

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
	"github.com/quarrydata/marketplace-crawler/internal/retry"
)

// Limiter releases one caller at a time into the network, spacing releases.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Gate is the politeness pipeline around a single-attempt transport. Each
// Fetch consults robots.txt, takes one rate slot for the whole attempt
// chain, then runs the transport under the retry policy. Spacing between
// retries of one item comes from the policy's backoff, not the limiter.
type Gate struct {
	transport crawl.Fetcher
	limiter   Limiter
	robots    RobotsPolicy
	policy    retry.Policy
	logger    *zap.Logger
}

// NewGate wires the pipeline. A nil robots policy allows everything and a
// policy without a classifier gets the fetch taxonomy.
func NewGate(transport crawl.Fetcher, limiter Limiter, robots RobotsPolicy, policy retry.Policy, logger *zap.Logger) *Gate {
	if robots == nil {
		robots = &allowAllPolicy{}
	}
	if policy.Retryable == nil {
		policy.Retryable = Retryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		transport: transport,
		limiter:   limiter,
		robots:    robots,
		policy:    policy,
		logger:    logger,
	}
}

// Fetch retrieves one URL or returns the terminal failure wrapped with the
// URL. The policy hands back the final attempt's error unchanged, so the
// original stays reachable through errors.Is/As; the returned page carries
// the attempt count even then, so callers can account for the retries the
// chain consumed.
func (g *Gate) Fetch(ctx context.Context, rawURL string) (crawl.Page, error) {
	if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" || u.Host == "" {
		return crawl.Page{}, fmt.Errorf("fetch %s: %w", rawURL, ErrMalformedURL)
	}
	if !g.robots.Allowed(ctx, rawURL) {
		return crawl.Page{}, fmt.Errorf("fetch %s: %w", rawURL, ErrRobotsDisallowed)
	}
	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx); err != nil {
			return crawl.Page{}, fmt.Errorf("acquire rate slot for %s: %w", rawURL, err)
		}
	}

	var page crawl.Page
	attempts := 0
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		fetched, fetchErr := g.transport.Fetch(ctx, rawURL)
		if fetchErr != nil {
			return fetchErr
		}
		page = fetched
		return nil
	})
	if err != nil {
		return crawl.Page{URL: rawURL, Attempts: attempts}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	page.Attempts = attempts
	g.logger.Debug("page fetched",
		zap.String("url", rawURL),
		zap.Int("status", page.StatusCode),
		zap.Int("attempts", attempts),
		zap.Duration("duration", page.Duration),
	)
	return page, nil
}
