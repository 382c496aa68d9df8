// Package search finds candidate LinkedIn profiles through web search engines.
//
// Engines implement Searcher and report errors. NewBackend wraps a Searcher
// into a Backend, which is what the resolver drives: a Backend never fails,
// it logs the problem and returns no candidates.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/codeGROOVE-dev/visitorid/pkg/httpcache"
)

// DefaultCacheTTL is how long raw search responses are cached.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Result is a single web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher performs raw web searches.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// engine holds what every HTTP search engine needs.
type engine struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	logger     *slog.Logger
	cacheTTL   time.Duration
}

// EngineOption configures an engine.
type EngineOption func(*engine)

// WithCache sets a cache for storing raw search responses.
func WithCache(cache httpcache.Cacher, ttl time.Duration) EngineOption {
	return func(e *engine) {
		e.cache = cache
		e.cacheTTL = ttl
	}
}

// WithLogger sets a logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *engine) { e.logger = logger }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *engine) { e.httpClient = client }
}

func newEngine(opts []EngineOption) engine {
	e := engine{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// get issues a cached GET request and decodes the JSON body into v.
func (e *engine) get(ctx context.Context, name, rawURL string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	if e.logger != nil {
		e.logger.DebugContext(ctx, "web search", "engine", name, "url", rawURL)
	}

	key := name + ":" + httpcache.URLToKey(rawURL)
	data, err := httpcache.Fetch(ctx, e.cache, e.httpClient, req, key, e.cacheTTL, e.logger)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}
