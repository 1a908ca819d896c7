package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
	"github.com/mehdiyevf/turbocrawl/internal/metrics"
)

// HTTPFetcher is the plain net/http backend. It keeps one client per proxy
// endpoint so connection pools survive across requests even while the retry
// layer rotates proxies.
type HTTPFetcher struct {
	cfg    Config
	ua     *uaRing
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPFetcher builds the backend.
func NewHTTPFetcher(cfg Config, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		cfg:     cfg,
		ua:      newUARing(cfg.UserAgents),
		logger:  logger,
		clients: make(map[string]*http.Client),
	}
}

// Fetch performs one GET. The attempt either yields a 2xx response body or a
// classified *crawler.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchKindOther, URL: req.URL, Err: err}
	}
	f.applyHeaders(httpReq, req.Headers)

	resp, err := f.client(req.Proxy).Do(httpReq)
	if err != nil {
		return crawler.FetchResponse{}, classifyTransportError(req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return crawler.FetchResponse{}, statusError(req.URL, resp.StatusCode)
	}

	maxBytes := f.cfg.maxBodyBytes()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return crawler.FetchResponse{}, classifyTransportError(req.URL, err)
	}
	if int64(len(raw)) > maxBytes {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind: crawler.FetchKindOther,
			URL:  req.URL,
			Err:  fmt.Errorf("body exceeds %d bytes", maxBytes),
		}
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchKindOther, URL: req.URL, Err: err}
	}

	duration := time.Since(start)
	metrics.ObserveFetchDuration("http", duration)
	return crawler.FetchResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   duration,
	}, nil
}

func (f *HTTPFetcher) applyHeaders(httpReq *http.Request, headers http.Header) {
	httpReq.Header.Set("User-Agent", f.ua.next())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "az,en;q=0.8,ru;q=0.6")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for key, values := range headers {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
}

// client returns the cached client for the endpoint, building it on first
// use. The empty key holds the direct, proxyless client.
func (f *HTTPFetcher) client(proxy *crawler.ProxyEndpoint) *http.Client {
	key := ""
	if proxy != nil && proxy.URL != nil {
		key = proxy.URL.String()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c
	}

	transport := newTransport(f.cfg.InsecureTLS)
	if key != "" {
		transport.Proxy = http.ProxyURL(proxy.URL)
		f.logger.Debug("built proxied http client", zap.String("proxy", proxy.Redacted()))
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   f.cfg.timeout(),
	}
	f.clients[key] = c
	return c
}

// newTransport builds the pooled transport both HTTP-level backends share.
func newTransport(insecureTLS bool) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecureTLS,
		},
	}
}
