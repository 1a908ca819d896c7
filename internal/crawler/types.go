// Package crawler implements the resumable crawl engine: page discovery,
// item workers, retry and proxy rotation, and checkpointed scheduling.
package crawler

import (
	"net/http"
	"time"
)

// Phase represents where the scheduler currently is in a run.
type Phase string

// Scheduler phases in execution order; the last two are terminal.
const (
	PhaseInit        Phase = "init"
	PhaseDiscovering Phase = "discovering_pages"
	PhaseDrafting    Phase = "drafting_queue"
	PhaseDraining    Phase = "draining_queue"
	PhaseCompleted   Phase = "completed"
	PhaseInterrupted Phase = "interrupted"
)

// WorkItem is one discovered listing: its identifier, the detail page URL,
// and the badge flags harvested from the listing card. Immutable once
// created.
type WorkItem struct {
	Identifier string          `json:"identifier"`
	SourceURL  string          `json:"source_url"`
	Discovery  map[string]bool `json:"discovery,omitempty"`
}

// Record is the resolved form of one work item. Fields holds whatever the
// extractor found on the detail page; a key that was not found is absent, not
// empty. Supplementary holds fields recovered by the token-gated second
// fetch.
type Record struct {
	Identifier    string            `json:"identifier"`
	SourceURL     string            `json:"source_url"`
	Fields        map[string]string `json:"fields"`
	Supplementary map[string]string `json:"supplementary,omitempty"`
	Discovery     map[string]bool   `json:"discovery,omitempty"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// CrawlState is the unit of durable checkpointing. The checkpoint format
// evolves by adding fields only, so a snapshot written by one build stays
// readable by the next.
type CrawlState struct {
	Version              int        `json:"version"`
	CompletedPages       []int      `json:"completed_pages"`
	CompletedIdentifiers []string   `json:"completed_identifiers"`
	PendingItems         []WorkItem `json:"pending_items"`
	Records              []Record   `json:"records"`
	SavedAt              time.Time  `json:"saved_at"`
}

// StateVersion is written into every checkpoint.
const StateVersion = 1

// Empty reports whether the state carries no progress at all.
func (s CrawlState) Empty() bool {
	return len(s.CompletedPages) == 0 &&
		len(s.CompletedIdentifiers) == 0 &&
		len(s.PendingItems) == 0 &&
		len(s.Records) == 0
}

// RunResult is what a scheduler run ends with. Status is PhaseCompleted or
// PhaseInterrupted; the counters cover this run only, not prior resumed
// progress.
type RunResult struct {
	RunID           string
	Status          Phase
	State           CrawlState
	PagesDiscovered int
	ItemsCompleted  int
	ItemsPending    int
	ItemsFailed     int
}

// StatusSnapshot is the scheduler's externally observable progress, served by
// the status API.
type StatusSnapshot struct {
	RunID          string    `json:"run_id"`
	Phase          Phase     `json:"phase"`
	PagesCompleted int       `json:"pages_completed"`
	ItemsCompleted int       `json:"items_completed"`
	ItemsPending   int       `json:"items_pending"`
	Records        int       `json:"records"`
	StartedAt      time.Time `json:"started_at"`
}

// FetchRequest captures everything needed for one HTTP round trip.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Proxy   *ProxyEndpoint
}

// FetchResponse is the result of a successful single-shot fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
