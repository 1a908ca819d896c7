package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

func sampleState() crawler.CrawlState {
	return crawler.CrawlState{
		Version:              crawler.StateVersion,
		CompletedPages:       []int{1, 2},
		CompletedIdentifiers: []string{"101", "102"},
		PendingItems: []crawler.WorkItem{
			{Identifier: "103", SourceURL: "https://site.test/autos/103"},
		},
		Records: []crawler.Record{
			{
				Identifier: "101",
				SourceURL:  "https://site.test/autos/101",
				Fields:     map[string]string{"make": "BMW"},
				FetchedAt:  time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
			},
		},
		SavedAt: time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "crawl.json")
	store, err := NewFileStore(path, nil)
	require.NoError(t, err)

	// Nothing saved yet.
	_, resumed := store.Load(context.Background())
	assert.False(t, resumed)

	want := sampleState()
	require.NoError(t, store.Save(context.Background(), want))

	got, resumed := store.Load(context.Background())
	require.True(t, resumed)
	assert.Equal(t, want.CompletedPages, got.CompletedPages)
	assert.Equal(t, want.CompletedIdentifiers, got.CompletedIdentifiers)
	require.Len(t, got.PendingItems, 1)
	assert.Equal(t, "103", got.PendingItems[0].Identifier)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "BMW", got.Records[0].Fields["make"])
	assert.True(t, want.SavedAt.Equal(got.SavedAt))

	require.NoError(t, store.Clear(context.Background()))
	_, resumed = store.Load(context.Background())
	assert.False(t, resumed)

	// Clearing again is fine.
	require.NoError(t, store.Clear(context.Background()))
}

func TestFileStore_SaveReplacesPrevious(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawl.json")
	store, err := NewFileStore(path, nil)
	require.NoError(t, err)

	first := sampleState()
	require.NoError(t, store.Save(context.Background(), first))

	second := first
	second.CompletedPages = []int{1, 2, 3}
	require.NoError(t, store.Save(context.Background(), second))

	got, resumed := store.Load(context.Background())
	require.True(t, resumed)
	assert.Equal(t, []int{1, 2, 3}, got.CompletedPages)
}

func TestFileStore_LoadToleratesCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawl.json")
	store, err := NewFileStore(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, resumed := store.Load(context.Background())
	assert.False(t, resumed)
}

func TestFileStore_LoadIgnoresAbandonedTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "crawl.json")
	store, err := NewFileStore(path, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), sampleState()))

	// A crash between temp write and rename leaves a stray temp file behind;
	// the real checkpoint stays intact.
	stray := filepath.Join(dir, "crawl.json.tmp-crashed")
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o600))

	got, resumed := store.Load(context.Background())
	require.True(t, resumed)
	assert.Equal(t, []int{1, 2}, got.CompletedPages)
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("  ", nil)
	require.Error(t, err)
}
