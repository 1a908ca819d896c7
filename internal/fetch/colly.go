package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
	"github.com/mehdiyevf/turbocrawl/internal/metrics"
)

// CollyFetcher runs fetches through gocolly collectors. One base collector is
// kept per proxy endpoint because a collector's backend transport carries its
// proxy; per-request clones then hold the response hooks.
type CollyFetcher struct {
	cfg    Config
	ua     *uaRing
	logger *zap.Logger

	mu    sync.Mutex
	bases map[string]*colly.Collector
}

// NewCollyFetcher builds the backend.
func NewCollyFetcher(cfg Config, logger *zap.Logger) *CollyFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollyFetcher{
		cfg:    cfg,
		ua:     newUARing(cfg.UserAgents),
		logger: logger,
		bases:  make(map[string]*colly.Collector),
	}
}

// Fetch performs one GET through a collector clone.
func (f *CollyFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	collector := f.baseFor(req.Proxy).Clone()
	collector.UserAgent = f.ua.next()
	collector.IgnoreRobotsTxt = true
	// Clones share the visit store; retries of the same URL must not trip the
	// already-visited guard.
	collector.AllowURLRevisit = true

	start := time.Now()
	var (
		result   crawler.FetchResponse
		status   int
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	visitErr := f.runCollector(ctx, collector, req.URL)
	if visitErr != nil {
		if errors.Is(visitErr, context.Canceled) || errors.Is(visitErr, context.DeadlineExceeded) {
			return crawler.FetchResponse{}, classifyTransportError(req.URL, visitErr)
		}
		// The visit finished, so the error callbacks have run and status is
		// safe to read.
		if status >= 400 {
			return crawler.FetchResponse{}, statusError(req.URL, status)
		}
		return crawler.FetchResponse{}, classifyTransportError(req.URL, visitErr)
	}
	if fetchErr != nil {
		if status >= 400 {
			return crawler.FetchResponse{}, statusError(req.URL, status)
		}
		return crawler.FetchResponse{}, classifyTransportError(req.URL, fetchErr)
	}
	if result.StatusCode == 0 {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind: crawler.FetchKindOther,
			URL:  req.URL,
			Err:  fmt.Errorf("no response captured"),
		}
	}

	body, err := decodeBody(result.Headers.Get("Content-Encoding"), result.Body)
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchKindOther, URL: req.URL, Err: err}
	}
	result.Body = body

	metrics.ObserveFetchDuration("colly", result.Duration)
	return result, nil
}

func (f *CollyFetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
		return nil
	}
}

// baseFor returns the collector bound to the endpoint's transport, building
// it on first use.
func (f *CollyFetcher) baseFor(proxy *crawler.ProxyEndpoint) *colly.Collector {
	key := ""
	if proxy != nil && proxy.URL != nil {
		key = proxy.URL.String()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.bases[key]; ok {
		return c
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newTransport(f.cfg.InsecureTLS)
	if key != "" {
		transport.Proxy = http.ProxyURL(proxy.URL)
		f.logger.Debug("built proxied collector", zap.String("proxy", proxy.Redacted()))
	}
	c.WithTransport(transport)
	// Clones share this collector's backend, so the timeout set here covers
	// every request made through them.
	c.SetRequestTimeout(f.cfg.timeout())
	f.bases[key] = c
	return c
}
