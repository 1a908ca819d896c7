package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

func TestNewHeadlessFetcher(t *testing.T) {
	t.Parallel()

	t.Run("rejects negative parallelism", func(t *testing.T) {
		t.Parallel()
		_, err := NewHeadlessFetcher(HeadlessConfig{MaxParallel: -1}, nil)
		require.Error(t, err)
	})

	t.Run("builds and closes", func(t *testing.T) {
		t.Parallel()
		f, err := NewHeadlessFetcher(HeadlessConfig{MaxParallel: 2, ProxyURL: "http://proxy.example.com:8080"}, nil)
		require.NoError(t, err)
		f.Close()
	})
}

func TestHeadlessFetcher_SlotLimiter(t *testing.T) {
	t.Parallel()

	f, err := NewHeadlessFetcher(HeadlessConfig{MaxParallel: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	require.NoError(t, f.acquire(context.Background()))

	blocked, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.acquire(blocked)
	require.Error(t, err)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
	f.release()
}

func TestClassifyHeadlessError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want crawler.FetchErrorKind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: crawler.FetchKindTimeout},
		{name: "chrome timeout", err: errors.New("page load error net::ERR_TIMED_OUT"), want: crawler.FetchKindTimeout},
		{name: "refused", err: errors.New("page load error net::ERR_CONNECTION_REFUSED"), want: crawler.FetchKindConnection},
		{name: "dns", err: errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), want: crawler.FetchKindConnection},
		{name: "proxy", err: errors.New("page load error net::ERR_PROXY_CONNECTION_FAILED"), want: crawler.FetchKindConnection},
		{name: "anything else", err: errors.New("chromedp run: target crashed"), want: crawler.FetchKindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fe := classifyHeadlessError("https://site.test/x", tt.err)
			assert.Equal(t, tt.want, fe.Kind)
		})
	}
}

func TestResponseMeta(t *testing.T) {
	t.Parallel()

	t.Run("captures document responses", func(t *testing.T) {
		t.Parallel()
		meta := newResponseMeta()
		meta.captureEvent(&network.EventResponseReceived{
			Type: network.ResourceTypeDocument,
			Response: &network.Response{
				Status: 403,
				URL:    "https://site.test/autos",
				Headers: network.Headers{
					"Content-Type": "text/html",
				},
			},
		})

		status, headers, url := meta.snapshot("https://req.test", "")
		assert.Equal(t, 403, status)
		assert.Equal(t, "https://site.test/autos", url)
		assert.Equal(t, "text/html", headers.Get("Content-Type"))
	})

	t.Run("ignores subresource responses", func(t *testing.T) {
		t.Parallel()
		meta := newResponseMeta()
		meta.captureEvent(&network.EventResponseReceived{
			Type:     network.ResourceTypeImage,
			Response: &network.Response{Status: 500},
		})

		status, _, url := meta.snapshot("https://req.test", "https://final.test")
		assert.Equal(t, 200, status)
		assert.Equal(t, "https://final.test", url)
	})

	t.Run("falls back to the request url", func(t *testing.T) {
		t.Parallel()
		meta := newResponseMeta()
		status, _, url := meta.snapshot("https://req.test", "")
		assert.Equal(t, 200, status)
		assert.Equal(t, "https://req.test", url)
	})
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("X-Csrf-Token", "tok")
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/xhtml+xml")

	out := toNetworkHeaders(h)
	assert.Equal(t, "tok", out["X-Csrf-Token"])
	assert.Equal(t, "text/html, application/xhtml+xml", out["Accept"])
}
