// Package fetch retrieves pages through the politeness gate: robots.txt,
// request spacing, and bounded retries wrap a single-attempt HTTP transport.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// ErrRobotsDisallowed marks a URL the site's robots.txt forbids for our
// user agent. It is terminal for the item, never retried.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// ErrMalformedURL marks a work item whose URL is not an absolute URL with a
// host. It is terminal for the item, never retried.
var ErrMalformedURL = errors.New("malformed url")

// StatusError reports a non-success HTTP status for a fetched URL.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Retryable classifies a fetch failure by category. Timeouts, connection
// drops, 429 and 5xx responses are transient; other 4xx responses, robots
// denials, malformed URLs, and caller cancellation are terminal. Unknown
// transport errors classify as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRobotsDisallowed) || errors.Is(err, ErrMalformedURL) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return statusErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	return true
}

// FailureKind maps a terminal fetch error onto the outcome taxonomy recorded
// in metrics and run history.
func FailureKind(err error) crawl.FailureKind {
	switch {
	case err == nil:
		return crawl.FailureNone
	case errors.Is(err, ErrRobotsDisallowed):
		return crawl.FailureClient
	case Retryable(err):
		return crawl.FailureTransient
	default:
		return crawl.FailureClient
	}
}
