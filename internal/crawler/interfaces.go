package crawler

import (
	"context"
	"time"
)

// Fetcher performs one HTTP round trip. No retries at this layer; failures
// come back as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Extractor is the site adapter seam. The engine never touches markup
// directly: it learns page URLs, work items, detail fields, and the optional
// token-gated supplementary request through this interface.
type Extractor interface {
	// PageURL builds the listing page URL for a 1-based page index.
	PageURL(page int) string
	// Items extracts the work items from a listing page body.
	Items(listHTML []byte) ([]WorkItem, error)
	// Fields extracts the flat field map from a detail page body. Missing
	// keys are absent from the map, never empty strings.
	Fields(detailHTML []byte) (map[string]string, error)
	// Token returns the short-lived token embedded in the detail page, or ""
	// when none was found.
	Token(detailHTML []byte) string
	// Supplementary builds the token-gated second request for an item. ok is
	// false when no supplementary fetch applies (including a missing token).
	Supplementary(item WorkItem, token string) (req FetchRequest, ok bool)
	// SupplementaryFields parses the supplementary response body.
	SupplementaryFields(body []byte) (map[string]string, error)
}

// CheckpointStore durably snapshots and rehydrates crawl state. Load never
// fails: a missing or corrupt checkpoint yields an empty state and
// resumed=false so recovery is never blocked by damaged data.
type CheckpointStore interface {
	Save(ctx context.Context, state CrawlState) error
	Load(ctx context.Context) (state CrawlState, resumed bool)
	Clear(ctx context.Context) error
}

// Sink consumes completed records. Store must be idempotent per record
// identifier; the engine may hand it the same record again on a resumed run.
type Sink interface {
	Store(ctx context.Context, records []Record) error
	Close() error
}

// Publisher pushes crawl events (record completions, run summaries) to a
// broker. Failures are reported but never fail the run.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock used outside tests.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time {
	return time.Now()
}
