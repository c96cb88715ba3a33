package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRequiresParallelism(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: 0}, zap.NewNop())
	require.ErrorIs(t, err, ErrDisabled)

	r, err := New(Config{MaxParallel: 2}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close(context.Background()) //nolint:errcheck
	require.Equal(t, 2, cap(r.sem))
	require.Equal(t, 45*time.Second, r.cfg.Timeout, "timeout defaults when unset")
}

func TestAcquireSlotHonorsContext(t *testing.T) {
	t.Parallel()

	r, err := New(Config{MaxParallel: 1}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close(context.Background()) //nolint:errcheck

	release, err := r.acquireSlot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.acquireSlot(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := r.acquireSlot(context.Background())
	require.NoError(t, err)
	release2()
}

func TestWaitDomainBudget(t *testing.T) {
	t.Parallel()

	r, err := New(Config{MaxParallel: 1, DomainQPS: 1000}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close(context.Background()) //nolint:errcheck

	require.NoError(t, r.waitDomainBudget(context.Background(), "https://example.com/vector/a"))
	require.Error(t, r.waitDomainBudget(context.Background(), "http://%zz invalid"))

	unpaced, err := New(Config{MaxParallel: 1}, zap.NewNop())
	require.NoError(t, err)
	defer unpaced.Close(context.Background()) //nolint:errcheck
	require.NoError(t, unpaced.waitDomainBudget(context.Background(), "ignored when qps is zero"))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	// A later document response must not overwrite the first.
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 500,
			URL:    "https://example.com/late",
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 204, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/rendered", url)

	empty := newResponseMeta()
	status, _, url = empty.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	status, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://req", url)
}

func TestResponseMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeXHR,
		Response: &network.Response{Status: 500, URL: "https://example.com/api"},
	})
	status, _, _ := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status, "XHR responses must not set document status")
}

func TestCloneHeaderIsolatesCaller(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	require.Len(t, src["X-Test"], 2, "source header must not be mutated")
	require.Nil(t, cloneHeader(nil))
}

func TestNoopRendererAlwaysErrors(t *testing.T) {
	t.Parallel()

	noop := NewNoop()
	_, err := noop.Render(context.Background(), "https://example.com/vector/a")
	require.Error(t, err)
	require.NoError(t, noop.Close(context.Background()))
}
