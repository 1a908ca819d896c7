package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher scripts fetch outcomes per request and records every request it
// saw. Shared by the worker, discoverer, and scheduler tests.
type stubFetcher struct {
	mu    sync.Mutex
	calls []FetchRequest
	fn    func(req FetchRequest) (FetchResponse, error)
}

func (f *stubFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn == nil {
		return FetchResponse{URL: req.URL, StatusCode: 200}, nil
	}
	return f.fn(req)
}

func (f *stubFetcher) requests() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FetchRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *stubFetcher) urls() []string {
	reqs := f.requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.URL
	}
	return out
}

// stubExtractor backs every Extractor method with an optional function.
type stubExtractor struct {
	pageURL   func(page int) string
	items     func(listHTML []byte) ([]WorkItem, error)
	fields    func(detailHTML []byte) (map[string]string, error)
	token     func(detailHTML []byte) string
	sup       func(item WorkItem, token string) (FetchRequest, bool)
	supFields func(body []byte) (map[string]string, error)
}

func (e *stubExtractor) PageURL(page int) string {
	if e.pageURL == nil {
		return fmt.Sprintf("https://site.test/autos?page=%d", page)
	}
	return e.pageURL(page)
}

func (e *stubExtractor) Items(listHTML []byte) ([]WorkItem, error) {
	if e.items == nil {
		return nil, nil
	}
	return e.items(listHTML)
}

func (e *stubExtractor) Fields(detailHTML []byte) (map[string]string, error) {
	if e.fields == nil {
		return map[string]string{}, nil
	}
	return e.fields(detailHTML)
}

func (e *stubExtractor) Token(detailHTML []byte) string {
	if e.token == nil {
		return ""
	}
	return e.token(detailHTML)
}

func (e *stubExtractor) Supplementary(item WorkItem, token string) (FetchRequest, bool) {
	if e.sup == nil {
		return FetchRequest{}, false
	}
	return e.sup(item, token)
}

func (e *stubExtractor) SupplementaryFields(body []byte) (map[string]string, error) {
	if e.supFields == nil {
		return map[string]string{}, nil
	}
	return e.supFields(body)
}

func newTestWorker(fetcher Fetcher, extractor Extractor) *ItemWorker {
	retry := NewRetryPolicy(1, time.Millisecond, nil, nil)
	return NewItemWorker(fetcher, retry, nil, extractor, nil, nil, nil)
}

func TestItemWorker_Process(t *testing.T) {
	t.Parallel()

	item := WorkItem{
		Identifier: "9912345",
		SourceURL:  "https://site.test/autos/9912345",
		Discovery:  map[string]bool{"is_featured": true},
	}

	t.Run("full record with supplementary", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			switch req.URL {
			case item.SourceURL:
				return FetchResponse{Body: []byte("<html>detail</html>")}, nil
			case "https://site.test/autos/9912345/show_phones":
				assert.Equal(t, "tok-123", req.Headers.Get("X-CSRF-Token"))
				return FetchResponse{Body: []byte(`{"phones":["+994501112233"]}`)}, nil
			default:
				return FetchResponse{}, &FetchError{Kind: FetchKindOther, URL: req.URL}
			}
		}}
		extractor := &stubExtractor{
			fields: func([]byte) (map[string]string, error) {
				return map[string]string{"make": "BMW", "model": "X5"}, nil
			},
			token: func([]byte) string { return "tok-123" },
			sup: func(it WorkItem, token string) (FetchRequest, bool) {
				if token == "" {
					return FetchRequest{}, false
				}
				h := http.Header{}
				h.Set("X-CSRF-Token", token)
				return FetchRequest{URL: it.SourceURL + "/show_phones", Headers: h}, true
			},
			supFields: func([]byte) (map[string]string, error) {
				return map[string]string{"phones": "+994501112233"}, nil
			},
		}

		rec, err := newTestWorker(fetcher, extractor).Process(context.Background(), item)
		require.NoError(t, err)
		assert.Equal(t, "9912345", rec.Identifier)
		assert.Equal(t, item.SourceURL, rec.SourceURL)
		assert.Equal(t, "BMW", rec.Fields["make"])
		assert.Equal(t, "+994501112233", rec.Supplementary["phones"])
		assert.True(t, rec.Discovery["is_featured"])
		assert.False(t, rec.FetchedAt.IsZero())
		assert.Len(t, fetcher.requests(), 2)
	})

	t.Run("detail fetch failure is terminal", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			return FetchResponse{}, &FetchError{Kind: FetchKindHTTPStatus, Status: 500, URL: req.URL}
		}}

		rec, err := newTestWorker(fetcher, &stubExtractor{}).Process(context.Background(), item)
		require.Error(t, err)
		pe, ok := AsProcessError(err)
		require.True(t, ok)
		assert.Equal(t, ProcessKindDetailFetchFailed, pe.Kind)
		assert.Equal(t, "9912345", pe.Identifier)
		assert.Empty(t, rec.Identifier)

		fe, ok := AsFetchError(err)
		require.True(t, ok)
		assert.Equal(t, 500, fe.Status)
	})

	t.Run("parse failure keeps a partial record", func(t *testing.T) {
		t.Parallel()
		extractor := &stubExtractor{
			fields: func([]byte) (map[string]string, error) {
				return nil, errors.New("details table missing")
			},
		}

		rec, err := newTestWorker(&stubFetcher{}, extractor).Process(context.Background(), item)
		require.Error(t, err)
		pe, ok := AsProcessError(err)
		require.True(t, ok)
		assert.Equal(t, ProcessKindParseFailed, pe.Kind)
		assert.Equal(t, "9912345", rec.Identifier)
		assert.NotNil(t, rec.Fields)
		assert.Empty(t, rec.Fields)
	})

	t.Run("supplementary failure keeps the record without it", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			if req.URL == item.SourceURL {
				return FetchResponse{Body: []byte("detail")}, nil
			}
			return FetchResponse{}, &FetchError{Kind: FetchKindTimeout, URL: req.URL}
		}}
		extractor := &stubExtractor{
			fields: func([]byte) (map[string]string, error) {
				return map[string]string{"make": "Kia"}, nil
			},
			token: func([]byte) string { return "tok-123" },
			sup: func(it WorkItem, string) (FetchRequest, bool) {
				return FetchRequest{URL: it.SourceURL + "/show_phones"}, true
			},
		}

		rec, err := newTestWorker(fetcher, extractor).Process(context.Background(), item)
		require.Error(t, err)
		pe, ok := AsProcessError(err)
		require.True(t, ok)
		assert.Equal(t, ProcessKindSupplementaryFailed, pe.Kind)
		assert.Equal(t, "Kia", rec.Fields["make"])
		assert.Nil(t, rec.Supplementary)
	})

	t.Run("parse failure wins over supplementary failure", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{fn: func(req FetchRequest) (FetchResponse, error) {
			if req.URL == item.SourceURL {
				return FetchResponse{Body: []byte("detail")}, nil
			}
			return FetchResponse{}, &FetchError{Kind: FetchKindTimeout, URL: req.URL}
		}}
		extractor := &stubExtractor{
			fields: func([]byte) (map[string]string, error) {
				return nil, errors.New("bad html")
			},
			sup: func(it WorkItem, string) (FetchRequest, bool) {
				return FetchRequest{URL: it.SourceURL + "/show_phones"}, true
			},
		}

		_, err := newTestWorker(fetcher, extractor).Process(context.Background(), item)
		pe, ok := AsProcessError(err)
		require.True(t, ok)
		assert.Equal(t, ProcessKindParseFailed, pe.Kind)
	})

	t.Run("no token skips the supplementary fetch", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{}
		extractor := &stubExtractor{
			fields: func([]byte) (map[string]string, error) {
				return map[string]string{"make": "Lada"}, nil
			},
			sup: func(WorkItem, string) (FetchRequest, bool) {
				return FetchRequest{}, false
			},
		}

		rec, err := newTestWorker(fetcher, extractor).Process(context.Background(), item)
		require.NoError(t, err)
		assert.Nil(t, rec.Supplementary)
		assert.Len(t, fetcher.requests(), 1)
	})
}
