package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// Identity columns every export starts with; the data columns after them are
// derived from the records themselves.
var csvIdentityColumns = []string{"listing_id", "source_url", "fetched_at"}

// CSV writes the full record set to one file per Store call. The header is
// the union of keys across all records, so a field present on any record
// gets a column and records missing it get an empty cell.
type CSV struct {
	path string
}

var _ crawler.Sink = (*CSV)(nil)

// NewCSV builds a sink writing to path, creating parent directories as
// needed.
func NewCSV(path string) (*CSV, error) {
	if path == "" {
		return nil, fmt.Errorf("csv sink path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv sink dir: %w", err)
		}
	}
	return &CSV{path: path}, nil
}

// Store rewrites the file with the given records.
func (s *CSV) Store(_ context.Context, records []crawler.Record) error {
	columns := dataColumns(records)

	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}

	w := csv.NewWriter(file)
	header := append(append([]string(nil), csvIdentityColumns...), columns...)
	if err := w.Write(header); err != nil {
		file.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		row := make([]string, 0, len(header))
		row = append(row, record.Identifier, record.SourceURL, record.FetchedAt.Format(time.RFC3339))
		for _, column := range columns {
			row = append(row, cellValue(record, column))
		}
		if err := w.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("write csv row %s: %w", record.Identifier, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close csv file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is finalized inside Store.
func (s *CSV) Close() error {
	return nil
}

func dataColumns(records []crawler.Record) []string {
	seen := make(map[string]struct{})
	for _, record := range records {
		for key := range record.Fields {
			seen[key] = struct{}{}
		}
		for key := range record.Supplementary {
			seen[key] = struct{}{}
		}
		for key := range record.Discovery {
			seen[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

func cellValue(record crawler.Record, column string) string {
	if v, ok := record.Supplementary[column]; ok {
		return v
	}
	if v, ok := record.Fields[column]; ok {
		return v
	}
	if v, ok := record.Discovery[column]; ok {
		return strconv.FormatBool(v)
	}
	return ""
}
