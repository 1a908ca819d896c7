// Package publish pushes crawl events to a broker. The engine emits one
// record_completed event per resolved item and one run_summary per run;
// publish failures are reported to the caller but never fail a crawl.
package publish

import (
	"context"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// Noop drops every event. It is the default when no broker is configured.
type Noop struct{}

var _ crawler.Publisher = Noop{}

// Publish discards the event.
func (Noop) Publish(context.Context, string, any) error {
	return nil
}

// Close does nothing.
func (Noop) Close() error {
	return nil
}
