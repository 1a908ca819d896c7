// Package fetch provides the HTTP fetch backends. Every backend performs a
// single request attempt and classifies its failure into one of the closed
// crawler.FetchError kinds; retrying and proxy rotation live above, in the
// crawler package.
package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

// DefaultUserAgent is used when no user agent list is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Config carries the knobs shared by the fetch backends.
type Config struct {
	// UserAgents is rotated round-robin across requests.
	UserAgents []string
	// Timeout bounds one whole request, connect to last body byte.
	Timeout time.Duration
	// InsecureTLS skips certificate verification. Needed when the configured
	// proxies intercept TLS with their own certificates.
	InsecureTLS bool
	// MaxBodyBytes rejects response bodies larger than this. Zero means the
	// 10 MiB default.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 10 << 20

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 15 * time.Second
}

func (c Config) maxBodyBytes() int64 {
	if c.MaxBodyBytes > 0 {
		return c.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// uaRing hands out user agents round-robin. Safe for concurrent use.
type uaRing struct {
	agents []string
	n      atomic.Uint64
}

func newUARing(agents []string) *uaRing {
	kept := make([]string, 0, len(agents))
	for _, a := range agents {
		if s := strings.TrimSpace(a); s != "" {
			kept = append(kept, s)
		}
	}
	return &uaRing{agents: kept}
}

func (r *uaRing) next() string {
	if len(r.agents) == 0 {
		return DefaultUserAgent
	}
	idx := r.n.Add(1) - 1
	return r.agents[idx%uint64(len(r.agents))]
}

// classifyTransportError maps a transport-level failure onto the closed error
// kinds: timeouts stay timeouts, other network failures count as connection
// errors, anything else (TLS validation, malformed responses) is other.
func classifyTransportError(url string, err error) *crawler.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &crawler.FetchError{Kind: crawler.FetchKindTimeout, URL: url, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return &crawler.FetchError{Kind: crawler.FetchKindTimeout, URL: url, Err: err}
		}
		return &crawler.FetchError{Kind: crawler.FetchKindConnection, URL: url, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &crawler.FetchError{Kind: crawler.FetchKindConnection, URL: url, Err: err}
	}
	return &crawler.FetchError{Kind: crawler.FetchKindOther, URL: url, Err: err}
}

// statusError turns a non-2xx response into its FetchError.
func statusError(url string, status int) *crawler.FetchError {
	return &crawler.FetchError{Kind: crawler.FetchKindHTTPStatus, Status: status, URL: url}
}

// decodeBody reverses the Content-Encoding the server applied. Unknown
// encodings pass through untouched.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		return out, nil
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		out, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("deflate decode: %w", err)
		}
		return out, nil
	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli decode: %w", err)
		}
		return out, nil
	default:
		return body, nil
	}
}
