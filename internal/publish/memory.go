package publish

import (
	"context"
	"sync"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// Memory stores published events for inspection. It is used by tests and by
// dry runs that want the event stream without a broker.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

// Event captures one publish call.
type Event struct {
	Key     string
	Payload any
}

var _ crawler.Publisher = (*Memory)(nil)

// NewMemory returns an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event.
func (p *Memory) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Key: key, Payload: payload})
	return nil
}

// Events returns a copy of the recorded publishes.
func (p *Memory) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close does nothing.
func (p *Memory) Close() error {
	return nil
}
