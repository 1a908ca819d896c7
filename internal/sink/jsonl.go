package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// JSONL writes one JSON document per record per line. Like the CSV sink it
// rewrites the whole file per Store call; the engine hands over the complete
// record set, including records carried forward from a resumed run.
type JSONL struct {
	path string
}

var _ crawler.Sink = (*JSONL)(nil)

// NewJSONL builds a sink writing to path, creating parent directories as
// needed.
func NewJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl sink path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create jsonl sink dir: %w", err)
		}
	}
	return &JSONL{path: path}, nil
}

// Store rewrites the file with the given records.
func (s *JSONL) Store(_ context.Context, records []crawler.Record) error {
	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create jsonl file: %w", err)
	}

	enc := json.NewEncoder(file)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			file.Close()
			return fmt.Errorf("encode record %s: %w", record.Identifier, err)
		}
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close jsonl file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is finalized inside Store.
func (s *JSONL) Close() error {
	return nil
}

// Noop discards everything. Useful while developing against the live site.
type Noop struct{}

var _ crawler.Sink = Noop{}

// Store drops the records.
func (Noop) Store(context.Context, []crawler.Record) error {
	return nil
}

// Close does nothing.
func (Noop) Close() error {
	return nil
}
