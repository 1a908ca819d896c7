package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ProxyEndpoint is one upstream proxy. Credentials stay structured inside the
// URL and are only assembled into a connection string at dial time; logs get
// the redacted form.
type ProxyEndpoint struct {
	URL   *url.URL
	Index int
}

// Redacted renders the endpoint with its password masked.
func (e ProxyEndpoint) Redacted() string {
	if e.URL == nil {
		return ""
	}
	return e.URL.Redacted()
}

// ProxyPool holds an ordered set of proxy endpoints and the rotation cursor.
// Rotation is plain round-robin, triggered externally by the retry policy;
// there is no health tracking. Safe for concurrent use.
type ProxyPool struct {
	mu        sync.Mutex
	endpoints []ProxyEndpoint
	cursor    int
}

// NewProxyPool parses the configured endpoint URLs into a pool. An empty list
// yields a valid pool that reports no current endpoint.
func NewProxyPool(rawURLs []string) (*ProxyPool, error) {
	endpoints := make([]ProxyEndpoint, 0, len(rawURLs))
	for i, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy endpoint %d: %w", i, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy endpoint %d needs scheme and host", i)
		}
		endpoints = append(endpoints, ProxyEndpoint{URL: u, Index: len(endpoints)})
	}
	return &ProxyPool{endpoints: endpoints}, nil
}

// Size returns the number of configured endpoints. A nil pool has size zero.
func (p *ProxyPool) Size() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Current returns the endpoint under the cursor, or ok=false for a nil or
// empty pool.
func (p *ProxyPool) Current() (ProxyEndpoint, bool) {
	if p == nil {
		return ProxyEndpoint{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.endpoints) == 0 {
		return ProxyEndpoint{}, false
	}
	return p.endpoints[p.cursor], true
}

// Rotate advances the cursor modulo pool size. No-op for nil pools and pools
// of size <= 1.
func (p *ProxyPool) Rotate() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.endpoints) <= 1 {
		return
	}
	p.cursor = (p.cursor + 1) % len(p.endpoints)
}
