package crawler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ItemWorker resolves one work item into a record: detail page fetch, field
// extraction, and the optional token-gated supplementary fetch.
type ItemWorker struct {
	fetcher   Fetcher
	retry     *RetryPolicy
	pool      *ProxyPool
	extractor Extractor
	limiter   *rate.Limiter
	clock     Clock
	logger    *zap.Logger
}

// NewItemWorker wires a worker. limiter may be nil to disable pacing.
func NewItemWorker(
	fetcher Fetcher,
	retry *RetryPolicy,
	pool *ProxyPool,
	extractor Extractor,
	limiter *rate.Limiter,
	clock Clock,
	logger *zap.Logger,
) *ItemWorker {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemWorker{
		fetcher:   fetcher,
		retry:     retry,
		pool:      pool,
		extractor: extractor,
		limiter:   limiter,
		clock:     clock,
		logger:    logger,
	}
}

// Process resolves one item. The error is a *ProcessError: kind
// detail_fetch_failed comes with no record and leaves the item pending for a
// later run; parse_failed and supplementary_fetch_failed accompany a usable,
// degraded record.
func (w *ItemWorker) Process(ctx context.Context, item WorkItem) (Record, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return Record{}, &ProcessError{Kind: ProcessKindDetailFetchFailed, Identifier: item.Identifier, Err: err}
		}
	}

	resp, err := w.retry.Execute(ctx, func(ctx context.Context) (FetchResponse, error) {
		req := FetchRequest{URL: item.SourceURL}
		if ep, ok := w.pool.Current(); ok {
			req.Proxy = &ep
		}
		return w.fetcher.Fetch(ctx, req)
	})
	if err != nil {
		return Record{}, &ProcessError{Kind: ProcessKindDetailFetchFailed, Identifier: item.Identifier, Err: err}
	}

	rec := Record{
		Identifier: item.Identifier,
		SourceURL:  item.SourceURL,
		Discovery:  item.Discovery,
		FetchedAt:  w.clock.Now(),
	}

	var procErr *ProcessError
	fields, err := w.extractor.Fields(resp.Body)
	if err != nil {
		procErr = &ProcessError{Kind: ProcessKindParseFailed, Identifier: item.Identifier, Err: err}
		w.logger.Warn("detail parse failed, keeping partial record",
			zap.String("identifier", item.Identifier),
			zap.Error(err))
	}
	if fields == nil {
		fields = map[string]string{}
	}
	rec.Fields = fields

	token := w.extractor.Token(resp.Body)
	if supReq, ok := w.extractor.Supplementary(item, token); ok {
		sup, supErr := w.fetchSupplementary(ctx, supReq)
		if supErr != nil {
			if procErr == nil {
				procErr = &ProcessError{Kind: ProcessKindSupplementaryFailed, Identifier: item.Identifier, Err: supErr}
			}
			w.logger.Warn("supplementary fetch failed, record kept without it",
				zap.String("identifier", item.Identifier),
				zap.Error(supErr))
		} else {
			rec.Supplementary = sup
		}
	} else {
		w.logger.Debug("supplementary fetch skipped",
			zap.String("identifier", item.Identifier),
			zap.Bool("token_found", token != ""))
	}

	if procErr != nil {
		return rec, procErr
	}
	return rec, nil
}

func (w *ItemWorker) fetchSupplementary(ctx context.Context, supReq FetchRequest) (map[string]string, error) {
	resp, err := w.retry.Execute(ctx, func(ctx context.Context) (FetchResponse, error) {
		req := supReq
		if ep, ok := w.pool.Current(); ok {
			req.Proxy = &ep
		}
		return w.fetcher.Fetch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return w.extractor.SupplementaryFields(resp.Body)
}
