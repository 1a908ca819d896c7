package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// GCSStore keeps the checkpoint as one object in a GCS bucket. Object writes
// in GCS are already atomic, so no temp-and-rename dance is needed.
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
	logger *zap.Logger
}

// NewGCSStore wires a bucket-backed store. Authentication comes from
// Application Default Credentials on the client.
func NewGCSStore(client *storage.Client, bucket, object string, logger *zap.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSStore{client: client, bucket: bucket, object: object, logger: logger}, nil
}

// Save uploads the state, replacing the previous checkpoint object.
func (s *GCSStore) Save(ctx context.Context, state crawler.CrawlState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	wc := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			s.logger.Warn("close checkpoint writer after write failure",
				zap.Error(closeErr))
		}
		return fmt.Errorf("write checkpoint object: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close checkpoint writer: %w", err)
	}
	return nil
}

// Load reads the saved state. Missing objects and undecodable payloads both
// mean a fresh start.
func (s *GCSStore) Load(ctx context.Context) (crawler.CrawlState, bool) {
	rc, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Warn("checkpoint object unreadable, starting fresh",
				zap.String("object", s.object),
				zap.Error(err))
		}
		return crawler.CrawlState{}, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		s.logger.Warn("checkpoint object read failed, starting fresh",
			zap.String("object", s.object),
			zap.Error(err))
		return crawler.CrawlState{}, false
	}

	var state crawler.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("checkpoint object corrupt, starting fresh",
			zap.String("object", s.object),
			zap.Error(err))
		return crawler.CrawlState{}, false
	}
	if state.Empty() {
		return crawler.CrawlState{}, false
	}
	return state, true
}

// Clear deletes the checkpoint object, tolerating one that is already gone.
func (s *GCSStore) Clear(ctx context.Context) error {
	err := s.client.Bucket(s.bucket).Object(s.object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete checkpoint object: %w", err)
	}
	return nil
}
