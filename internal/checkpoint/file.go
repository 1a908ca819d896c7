// Package checkpoint persists crawl state between runs so an interrupted
// crawl can resume without repeating finished work.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// FileStore keeps the checkpoint as one JSON file. Saves go through a temp
// file in the same directory followed by a rename, so a crash mid-write
// leaves either the previous checkpoint or the new one, never a torn file.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore prepares a file-backed store at the given path, creating the
// parent directory when needed.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Save writes the state atomically.
func (s *FileStore) Save(_ context.Context, state crawler.CrawlState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("write temp checkpoint: %w", writeErr)
		}
		return fmt.Errorf("close temp checkpoint: %w", closeErr)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("promote checkpoint: %w", err)
	}
	return nil
}

// Load reads the saved state. A missing, unreadable, or corrupt file means a
// fresh start, never an error; corruption is logged so operators can tell a
// fresh run apart from a discarded checkpoint.
func (s *FileStore) Load(_ context.Context) (crawler.CrawlState, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting fresh",
				zap.String("path", s.path),
				zap.Error(err))
		}
		return crawler.CrawlState{}, false
	}

	var state crawler.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh",
			zap.String("path", s.path),
			zap.Error(err))
		return crawler.CrawlState{}, false
	}
	if state.Empty() {
		return crawler.CrawlState{}, false
	}
	return state, true
}

// Clear removes the checkpoint. A checkpoint that is already gone is fine.
func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
