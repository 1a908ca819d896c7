package crawler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/metrics"
)

// RetryPolicy wraps fetch calls with bounded retries, exponential backoff,
// and proxy rotation on ban-shaped failures. Each Execute call is its own
// small state machine: attempt k either succeeds, moves to attempt k+1 after
// a delay, or exhausts.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	pool        *ProxyPool
	logger      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy. maxAttempts below 1 is treated as 1.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, pool *ProxyPool, logger *zap.Logger) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		pool:        pool,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Backoff returns the delay applied before the given 1-based attempt: zero
// before the first, baseDelay*2^(k-2) before attempt k.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.baseDelay * time.Duration(1<<uint(attempt-2))
}

// Execute runs fn up to maxAttempts times and returns the first success or
// the last failure. fn must consult the proxy pool on every call so that a
// rotation between attempts takes effect. When the context ends during a
// backoff sleep the last failure is returned; the caller keeps the item
// pending and a later run retries it.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) (FetchResponse, error)) (FetchResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
				p.logger.Debug("retry abandoned, context done",
					zap.Int("attempt", attempt),
					zap.Error(lastErr))
				return FetchResponse{}, lastErr
			}
			metrics.IncRetryAttempt()
		}

		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < p.maxAttempts && rotationWorthy(err) {
			p.pool.Rotate()
			metrics.IncProxyRotation()
			if next, ok := p.pool.Current(); ok {
				p.logger.Debug("rotated proxy",
					zap.String("proxy", next.Redacted()),
					zap.Error(err))
			}
		}
	}
	return FetchResponse{}, lastErr
}

// rotationWorthy reports whether the failure suggests the acting network
// identity is blocked or throttled: 403, 429, timeouts, and connection
// failures rotate; other HTTP statuses (404, 500, ...) do not.
func rotationWorthy(err error) bool {
	fe, ok := AsFetchError(err)
	if !ok {
		return false
	}
	switch fe.Kind {
	case FetchKindTimeout, FetchKindConnection:
		return true
	case FetchKindHTTPStatus:
		return fe.Status == http.StatusForbidden || fe.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
