package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

func sampleRecords() []crawler.Record {
	fetched := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	return []crawler.Record{
		{
			Identifier:    "8206104",
			SourceURL:     "https://turbo.az/autos/8206104-kia-sorento",
			Fields:        map[string]string{"make": "Kia", "year": "2021"},
			Supplementary: map[string]string{"phones": "+994505555555"},
			Discovery:     map[string]bool{"has_credit": true},
			FetchedAt:     fetched,
		},
		{
			Identifier: "8211407",
			SourceURL:  "https://turbo.az/autos/8211407-hyundai-elantra",
			Fields:     map[string]string{"make": "Hyundai"},
			FetchedAt:  fetched,
		},
	}
}

func TestCSVStoreWritesUnionHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listings.csv")
	s, err := NewCSV(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), sampleRecords()))
	require.NoError(t, s.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"listing_id", "source_url", "fetched_at",
		"has_credit", "make", "phones", "year",
	}, rows[0])
	assert.Equal(t, []string{
		"8206104", "https://turbo.az/autos/8206104-kia-sorento", "2026-08-21T10:00:00Z",
		"true", "Kia", "+994505555555", "2021",
	}, rows[1])
	assert.Equal(t, []string{
		"8211407", "https://turbo.az/autos/8211407-hyundai-elantra", "2026-08-21T10:00:00Z",
		"", "Hyundai", "", "",
	}, rows[2])
}

func TestCSVStoreReplacesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listings.csv")
	s, err := NewCSV(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), sampleRecords()))
	require.NoError(t, s.Store(context.Background(), sampleRecords()[:1]))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "8206104", rows[1][0])
}

func TestNewCSVRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV("")
	require.Error(t, err)
}

func TestJSONLStoreRoundTrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exports", "listings.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), sampleRecords()))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first crawler.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "8206104", first.Identifier)
	assert.Equal(t, "Kia", first.Fields["make"])
	assert.Equal(t, "+994505555555", first.Supplementary["phones"])
	assert.True(t, first.Discovery["has_credit"])

	var second crawler.Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "8211407", second.Identifier)
	assert.Empty(t, second.Supplementary)
}

func TestJSONLStoreEmptySet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listings.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNoopSink(t *testing.T) {
	t.Parallel()

	var s Noop
	require.NoError(t, s.Store(context.Background(), sampleRecords()))
	require.NoError(t, s.Close())
}
