package crawler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mehdiyevf/turbocrawl/internal/metrics"
)

// PageDiscoverer turns a page index into work items: one paced, retried fetch
// of the listing page, then extraction of the regular-listings cards. It
// never fails the run; a page that cannot be fetched or parsed yields an
// empty slice and an error log, and the configured page range alone decides
// when discovery ends.
type PageDiscoverer struct {
	fetcher   Fetcher
	retry     *RetryPolicy
	pool      *ProxyPool
	extractor Extractor
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewPageDiscoverer wires a discoverer. limiter may be nil to disable pacing.
func NewPageDiscoverer(
	fetcher Fetcher,
	retry *RetryPolicy,
	pool *ProxyPool,
	extractor Extractor,
	limiter *rate.Limiter,
	logger *zap.Logger,
) *PageDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageDiscoverer{
		fetcher:   fetcher,
		retry:     retry,
		pool:      pool,
		extractor: extractor,
		limiter:   limiter,
		logger:    logger,
	}
}

// Discover fetches one listing page and returns its work items. Empty on any
// total failure.
func (d *PageDiscoverer) Discover(ctx context.Context, page int) []WorkItem {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil
		}
	}

	pageURL := d.extractor.PageURL(page)
	resp, err := d.retry.Execute(ctx, func(ctx context.Context) (FetchResponse, error) {
		req := FetchRequest{URL: pageURL}
		if ep, ok := d.pool.Current(); ok {
			req.Proxy = &ep
		}
		return d.fetcher.Fetch(ctx, req)
	})
	if err != nil {
		d.logger.Error("page discovery failed",
			zap.Int("page", page),
			zap.String("url", pageURL),
			zap.Error(err))
		return nil
	}

	items, err := d.extractor.Items(resp.Body)
	if err != nil {
		d.logger.Error("page extraction failed",
			zap.Int("page", page),
			zap.String("url", pageURL),
			zap.Error(err))
		return nil
	}

	metrics.IncPageDiscovered()
	d.logger.Info("page discovered",
		zap.Int("page", page),
		zap.Int("items", len(items)))
	return items
}
