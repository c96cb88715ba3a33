package headless

import (
	"context"
	"errors"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// Noop satisfies crawl.Renderer when rendering is disabled. Render always
// errors, which the orchestrator treats as "keep the plain page".
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render reports that no renderer is configured.
func (Noop) Render(context.Context, string) (crawl.Page, error) {
	return crawl.Page{}, errors.New("headless renderer not configured")
}

// Close is a no-op.
func (Noop) Close(context.Context) error { return nil }
