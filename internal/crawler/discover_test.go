package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageDiscoverer_Discover(t *testing.T) {
	t.Parallel()

	t.Run("returns items from the listing page", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			assert.Equal(t, "https://site.test/autos?page=2", req.URL)
			return FetchResponse{Body: []byte("listing"), StatusCode: 200}, nil
		}}
		extractor := &stubExtractor{
			items: func([]byte) ([]WorkItem, error) {
				return []WorkItem{
					{Identifier: "1", SourceURL: "https://site.test/autos/1"},
					{Identifier: "2", SourceURL: "https://site.test/autos/2"},
				}, nil
			},
		}
		retry := NewRetryPolicy(1, time.Millisecond, nil, nil)
		d := NewPageDiscoverer(fetcher, retry, nil, extractor, nil, nil)

		items := d.Discover(context.Background(), 2)
		require.Len(t, items, 2)
		assert.Equal(t, "1", items[0].Identifier)
	})

	t.Run("total fetch failure yields no items", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			return FetchResponse{}, &FetchError{Kind: FetchKindTimeout, URL: req.URL}
		}}
		retry := NewRetryPolicy(2, time.Millisecond, nil, nil)
		recordSleeps(retry)
		d := NewPageDiscoverer(fetcher, retry, nil, &stubExtractor{}, nil, nil)

		items := d.Discover(context.Background(), 1)
		assert.Empty(t, items)
		assert.Len(t, fetcher.requests(), 2)
	})

	t.Run("extraction failure yields no items", func(t *testing.T) {
		t.Parallel()
		extractor := &stubExtractor{
			items: func([]byte) ([]WorkItem, error) {
				return nil, errors.New("listings region not found")
			},
		}
		retry := NewRetryPolicy(1, time.Millisecond, nil, nil)
		d := NewPageDiscoverer(&stubFetcher{}, retry, nil, extractor, nil, nil)

		assert.Empty(t, d.Discover(context.Background(), 1))
	})

	t.Run("rotated proxy is used on the next attempt", func(t *testing.T) {
		t.Parallel()
		pool, err := NewProxyPool([]string{
			"http://proxy-a.example.com:8080",
			"http://proxy-b.example.com:8080",
		})
		require.NoError(t, err)

		attempt := 0
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			attempt++
			if attempt == 1 {
				return FetchResponse{}, &FetchError{Kind: FetchKindHTTPStatus, Status: 403, URL: req.URL}
			}
			return FetchResponse{Body: []byte("listing")}, nil
		}}
		extractor := &stubExtractor{
			items: func([]byte) ([]WorkItem, error) {
				return []WorkItem{{Identifier: "1", SourceURL: "https://site.test/autos/1"}}, nil
			},
		}
		retry := NewRetryPolicy(3, time.Millisecond, pool, nil)
		recordSleeps(retry)
		d := NewPageDiscoverer(fetcher, retry, pool, extractor, nil, nil)

		items := d.Discover(context.Background(), 1)
		require.Len(t, items, 1)

		reqs := fetcher.requests()
		require.Len(t, reqs, 2)
		require.NotNil(t, reqs[0].Proxy)
		require.NotNil(t, reqs[1].Proxy)
		assert.Equal(t, 0, reqs[0].Proxy.Index)
		assert.Equal(t, 1, reqs[1].Proxy.Index)
	})

	t.Run("page urls come from the extractor", func(t *testing.T) {
		t.Parallel()
		extractor := &stubExtractor{
			pageURL: func(page int) string {
				return fmt.Sprintf("https://site.test/catalog/%d", page)
			},
		}
		fetcher := &stubFetcher{}
		retry := NewRetryPolicy(1, time.Millisecond, nil, nil)
		d := NewPageDiscoverer(fetcher, retry, nil, extractor, nil, nil)

		d.Discover(context.Background(), 7)
		require.Len(t, fetcher.urls(), 1)
		assert.Equal(t, "https://site.test/catalog/7", fetcher.urls()[0])
	})
}
