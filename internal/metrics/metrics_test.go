package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Helpers must be safe to call before Init.
	IncPageDiscovered()
	IncItemCompleted()
	IncItemFailed("detail_fetch_failed")
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if pagesDiscoveredTotal == nil || itemsCompletedTotal == nil || itemsFailedTotal == nil ||
		retryAttemptsTotal == nil || proxyRotationsTotal == nil || checkpointSavesTotal == nil ||
		fetchDurationSeconds == nil || activeWorkers == nil || pendingItems == nil ||
		recordsPublishedTotal == nil || httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	IncPageDiscovered()
	if val := testutil.ToFloat64(pagesDiscoveredTotal); val != 1 {
		t.Errorf("expected pagesDiscoveredTotal to be 1, got %f", val)
	}

	IncItemFailed("detail_fetch_failed")
	if val := testutil.ToFloat64(itemsFailedTotal.WithLabelValues("detail_fetch_failed")); val != 1 {
		t.Errorf("expected itemsFailedTotal to be 1, got %f", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != 1 {
		t.Errorf("expected activeWorkers to be 1, got %f", val)
	}

	SetPendingItems(7)
	if val := testutil.ToFloat64(pendingItems); val != 7 {
		t.Errorf("expected pendingItems to be 7, got %f", val)
	}

	IncRecordPublished("ok")
	if val := testutil.ToFloat64(recordsPublishedTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("expected recordsPublishedTotal to be 1, got %f", val)
	}

	ObserveFetchDuration("http", 120*time.Millisecond)
	if val := testutil.CollectAndCount(fetchDurationSeconds); val <= 0 {
		t.Errorf("expected fetchDurationSeconds to be observed, got %d", val)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	if Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
