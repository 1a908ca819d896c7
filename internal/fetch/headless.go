package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
	"github.com/mehdiyevf/turbocrawl/internal/metrics"
)

// HeadlessConfig controls the browser-backed fetcher.
type HeadlessConfig struct {
	Config

	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel int
	// NavigationTimeout bounds one page load.
	NavigationTimeout time.Duration
	// ProxyURL routes the whole browser through one proxy. Chrome pins its
	// proxy at launch, so this backend cannot rotate per request.
	ProxyURL string
}

// HeadlessFetcher renders pages in headless Chrome via chromedp. It is the
// fallback for listings that assemble their markup with JavaScript.
type HeadlessFetcher struct {
	cfg         HeadlessConfig
	ua          *uaRing
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	proxyWarn   sync.Once
}

// NewHeadlessFetcher creates the browser allocator.
func NewHeadlessFetcher(cfg HeadlessConfig, logger *zap.Logger) (*HeadlessFetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.InsecureTLS {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessFetcher{
		cfg:         cfg,
		ua:          newUARing(cfg.UserAgents),
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close tears down the browser allocator.
func (f *HeadlessFetcher) Close() {
	f.allocCancel()
}

// Fetch navigates a fresh tab and returns the rendered DOM.
func (f *HeadlessFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if req.Proxy != nil {
		f.proxyWarn.Do(func() {
			f.logger.Warn("headless backend pins its proxy at launch, per-request rotation has no effect")
		})
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, classifyTransportError(req.URL, err)
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, req)
	if err != nil {
		return crawler.FetchResponse{}, classifyHeadlessError(req.URL, err)
	}

	status, headers, responseURL := meta.snapshot(req.URL, finalURL)
	if status >= 400 {
		return crawler.FetchResponse{}, statusError(req.URL, status)
	}

	duration := time.Since(start)
	metrics.ObserveFetchDuration("headless", duration)
	return crawler.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   duration,
	}, nil
}

func (f *HeadlessFetcher) render(ctx context.Context, req crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.setupAction(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *HeadlessFetcher) setupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.ua.next()).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *HeadlessFetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *HeadlessFetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// classifyHeadlessError maps chromedp failures onto the closed kinds. Chrome
// reports network failures as net::ERR_* strings.
func classifyHeadlessError(url string, err error) *crawler.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &crawler.FetchError{Kind: crawler.FetchKindTimeout, URL: url, Err: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR_TIMED_OUT"):
		return &crawler.FetchError{Kind: crawler.FetchKindTimeout, URL: url, Err: err}
	case strings.Contains(msg, "net::ERR_NAME_NOT_RESOLVED"),
		strings.Contains(msg, "net::ERR_CONNECTION"),
		strings.Contains(msg, "net::ERR_PROXY"),
		strings.Contains(msg, "net::ERR_ADDRESS_UNREACHABLE"):
		return &crawler.FetchError{Kind: crawler.FetchKindConnection, URL: url, Err: err}
	default:
		return &crawler.FetchError{Kind: crawler.FetchKindOther, URL: url, Err: err}
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// snapshot returns the captured document response, falling back to the final
// or requested URL and a 200 status when Chrome never surfaced the event.
func (m *responseMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(headers http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range headers {
		if len(values) == 1 {
			out[key] = values[0]
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
