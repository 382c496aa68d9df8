// Package httpcache provides HTTP response caching with thundering herd prevention.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/localfs"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/null"

	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
)

// UserAgent is the browser User-Agent string sent by all fetchers.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBody bounds how much of a response is read into memory.
const maxBody = 4 << 20

// Cacher allows external cache implementations for sharing across packages.
type Cacher interface {
	GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), ttl ...time.Duration) ([]byte, error)
	TTL() time.Duration
}

// Cache wraps sfcache for HTTP response caching.
type Cache struct {
	*sfcache.TieredCache[string, []byte]

	ttl time.Duration
}

// New creates a new Cache with disk persistence under the user cache directory.
func New(ttl time.Duration) (*Cache, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return NewWithPath(ttl, filepath.Join(cacheDir, "visitorid"))
}

// NewNull creates a Cache with no persistence (all gets miss, all sets discard).
func NewNull() *Cache {
	tc, err := sfcache.NewTiered[string, []byte](null.New[string, []byte]())
	if err != nil {
		panic("sfcache.NewTiered with null store: " + err.Error())
	}
	return &Cache{TieredCache: tc, ttl: 0}
}

// NewWithPath creates a new Cache with disk persistence at the specified path.
func NewWithPath(ttl time.Duration, cachePath string) (*Cache, error) {
	if err := os.MkdirAll(cachePath, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	persist, err := localfs.New[string, []byte]("visitorid", cachePath)
	if err != nil {
		return nil, fmt.Errorf("create persistence layer: %w", err)
	}

	tc, err := sfcache.NewTiered[string, []byte](persist, sfcache.TTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &Cache{TieredCache: tc, ttl: ttl}, nil
}

// TTL returns the default TTL for cache entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// URLToKey converts a URL to a cache key using SHA256 hash.
func URLToKey(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(hash[:])
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d fetching %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// Fetch performs a single request through the cache. Failures are not cached
// and are not retried.
func Fetch(ctx context.Context, cache Cacher, client *http.Client, req *http.Request, key string, ttl time.Duration, logger *slog.Logger) ([]byte, error) {
	return cached(ctx, cache, key, ttl, logger, func(ctx context.Context) ([]byte, error) {
		return doFetch(ctx, client, req)
	})
}

// FetchWithRetry is Fetch with one retry on transient failures.
func FetchWithRetry(ctx context.Context, cache Cacher, client *http.Client, req *http.Request, key string, ttl time.Duration, logger *slog.Logger) ([]byte, error) {
	return cached(ctx, cache, key, ttl, logger, func(ctx context.Context) ([]byte, error) {
		return retry.DoWithData(
			func() ([]byte, error) {
				return doFetch(ctx, client, req)
			},
			retry.Context(ctx),
			retry.Attempts(2),                     // single retry
			retry.Delay(200*time.Millisecond),     // delay before retry
			retry.MaxJitter(100*time.Millisecond), // small jitter
			retry.RetryIf(IsRetryable),            // only retry transient errors
			retry.OnRetry(func(n uint, err error) {
				if logger != nil {
					logger.DebugContext(ctx, "retrying HTTP request", "attempt", n+1, "url", req.URL.String(), "error", err)
				}
			}),
		)
	})
}

func cached(ctx context.Context, cache Cacher, key string, ttl time.Duration, logger *slog.Logger, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if cache == nil || key == "" {
		metrics.CacheLookups.WithLabelValues("bypass").Inc()
		return fetch(ctx)
	}
	if ttl <= 0 {
		ttl = cache.TTL()
	}

	var wasFetched bool
	data, err := cache.GetSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		wasFetched = true
		return fetch(ctx)
	}, ttl)

	if wasFetched {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	} else if err == nil {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		if logger != nil {
			logger.DebugContext(ctx, "cache hit", "key", key)
		}
	}
	return data, err
}

func doFetch(ctx context.Context, client *http.Client, req *http.Request) ([]byte, error) {
	req = req.Clone(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best effort cleanup

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // body is informational only
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: req.URL.String(), Body: string(body)}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// IsRetryable returns true for transient errors that should be retried.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false // 4xx errors are permanent; 429 is surfaced to the caller
		}
	}
	// Network errors, timeouts, etc. are retryable
	return true
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
