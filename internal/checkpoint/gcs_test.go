package checkpoint

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

func newTestGCSStore(t *testing.T, handler http.Handler) *GCSStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcs.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewGCSStore(client, "crawl-bucket", "checkpoints/crawl.json", nil)
	require.NoError(t, err)
	return store
}

func TestGCSStore_Save(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var uploaded string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/crawl-bucket/o")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		uploaded = string(body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"name": "checkpoints/crawl.json"}`))
	})

	store := newTestGCSStore(t, handler)
	state := crawler.CrawlState{
		Version:              crawler.StateVersion,
		CompletedPages:       []int{1},
		CompletedIdentifiers: []string{"101"},
	}
	require.NoError(t, store.Save(context.Background(), state))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, uploaded, `"completed_pages":[1]`)
	assert.Contains(t, uploaded, `"completed_identifiers":["101"]`)
}

func TestGCSStore_Load(t *testing.T) {
	t.Parallel()

	state := crawler.CrawlState{
		Version:              crawler.StateVersion,
		CompletedPages:       []int{1, 2},
		CompletedIdentifiers: []string{"101"},
		PendingItems: []crawler.WorkItem{
			{Identifier: "102", SourceURL: "https://site.test/autos/102"},
		},
	}
	payload, err := json.Marshal(state)
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write(payload)
			return
		}
		http.NotFound(w, r)
	})

	store := newTestGCSStore(t, handler)
	got, resumed := store.Load(context.Background())
	require.True(t, resumed)
	assert.Equal(t, []int{1, 2}, got.CompletedPages)
	require.Len(t, got.PendingItems, 1)
	assert.Equal(t, "102", got.PendingItems[0].Identifier)
}

func TestGCSStore_LoadMissingObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 404, "message": "not found"}}`, http.StatusNotFound)
	})

	store := newTestGCSStore(t, handler)
	_, resumed := store.Load(context.Background())
	assert.False(t, resumed)
}

func TestGCSStore_LoadToleratesCorruption(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{torn"))
	})

	store := newTestGCSStore(t, handler)
	_, resumed := store.Load(context.Background())
	assert.False(t, resumed)
}

func TestGCSStore_Clear(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var deletes []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			mu.Lock()
			deletes = append(deletes, r.URL.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{}"))
			return
		}
		http.NotFound(w, r)
	})

	store := newTestGCSStore(t, handler)
	require.NoError(t, store.Clear(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deletes, 1)
	assert.True(t, strings.Contains(deletes[0], "crawl-bucket"))
}

func TestNewGCSStore_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewGCSStore(nil, "bucket", "object", nil)
	require.Error(t, err)

	client := &gcs.Client{}
	_, err = NewGCSStore(client, "", "object", nil)
	require.Error(t, err)
	_, err = NewGCSStore(client, "bucket", "", nil)
	require.Error(t, err)
}
