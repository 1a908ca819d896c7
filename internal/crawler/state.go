package crawler

import (
	"sort"
	"sync"
	"time"
)

// runState owns the mutable crawl collections. All mutation goes through its
// methods under one mutex with narrow critical sections; workers never touch
// the collections directly. Checkpointing is snapshot-then-write: Snapshot
// copies under the lock, serialization happens outside it.
type runState struct {
	mu             sync.Mutex
	completedPages map[int]struct{}
	completedIDs   map[string]struct{}
	pending        []WorkItem
	pendingIDs     map[string]struct{}
	records        []Record
}

func newRunState(from CrawlState) *runState {
	s := &runState{
		completedPages: make(map[int]struct{}, len(from.CompletedPages)),
		completedIDs:   make(map[string]struct{}, len(from.CompletedIdentifiers)),
		pendingIDs:     make(map[string]struct{}, len(from.PendingItems)),
	}
	for _, p := range from.CompletedPages {
		s.completedPages[p] = struct{}{}
	}
	for _, id := range from.CompletedIdentifiers {
		s.completedIDs[id] = struct{}{}
	}
	for _, it := range from.PendingItems {
		if _, dup := s.pendingIDs[it.Identifier]; dup {
			continue
		}
		s.pending = append(s.pending, it)
		s.pendingIDs[it.Identifier] = struct{}{}
	}
	s.records = append(s.records, from.Records...)
	return s
}

// pageCompleted reports whether the page was already discovered.
func (s *runState) pageCompleted(page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completedPages[page]
	return ok
}

// markPageCompleted records a finished discovery pass for the page.
func (s *runState) markPageCompleted(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedPages[page] = struct{}{}
}

// mergePending appends items that are neither completed nor already pending
// and returns how many were added.
func (s *runState) mergePending(items []WorkItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, it := range items {
		if it.Identifier == "" {
			continue
		}
		if _, done := s.completedIDs[it.Identifier]; done {
			continue
		}
		if _, queued := s.pendingIDs[it.Identifier]; queued {
			continue
		}
		s.pending = append(s.pending, it)
		s.pendingIDs[it.Identifier] = struct{}{}
		added++
	}
	return added
}

// draftQueue drops pending entries whose identifier is already completed (a
// checkpoint written mid-batch can hold both) and returns a copy of the queue
// in order.
func (s *runState) draftQueue() []WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, it := range s.pending {
		if _, done := s.completedIDs[it.Identifier]; done {
			delete(s.pendingIDs, it.Identifier)
			continue
		}
		kept = append(kept, it)
	}
	s.pending = kept
	out := make([]WorkItem, len(s.pending))
	copy(out, s.pending)
	return out
}

// completeItem moves one item from pending to completed and appends its
// record. The removal and the completion happen under one lock so no snapshot
// can see the identifier on both sides.
func (s *runState) completeItem(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.pending {
		if it.Identifier == rec.Identifier {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	delete(s.pendingIDs, rec.Identifier)
	s.completedIDs[rec.Identifier] = struct{}{}
	s.records = append(s.records, rec)
}

// counts returns (completed pages, completed items, pending, records).
func (s *runState) counts() (int, int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completedPages), len(s.completedIDs), len(s.pending), len(s.records)
}

// snapshot copies the state into its serializable form. Pages and
// identifiers come out sorted so checkpoints are stable across runs.
func (s *runState) snapshot(now time.Time) CrawlState {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := make([]int, 0, len(s.completedPages))
	for p := range s.completedPages {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	ids := make([]string, 0, len(s.completedIDs))
	for id := range s.completedIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pending := make([]WorkItem, len(s.pending))
	copy(pending, s.pending)
	records := make([]Record, len(s.records))
	copy(records, s.records)

	return CrawlState{
		Version:              StateVersion,
		CompletedPages:       pages,
		CompletedIdentifiers: ids,
		PendingItems:         pending,
		Records:              records,
		SavedAt:              now,
	}
}
