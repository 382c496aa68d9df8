package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// SearXNG implements Searcher against a SearXNG meta-search instance.
// With no engine set it aggregates every engine the instance has enabled;
// otherwise the query is pinned to a single upstream engine such as
// "google", "bing" or "duckduckgo".
type SearXNG struct {
	engine

	baseURL  string
	upstream string
}

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearXNG creates a client for the instance at baseURL.
// upstream selects a single engine; "" or "auto" aggregates.
func NewSearXNG(baseURL, upstream string, opts ...EngineOption) *SearXNG {
	if upstream == "auto" {
		upstream = ""
	}
	return &SearXNG{
		engine:   newEngine(opts),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		upstream: upstream,
	}
}

// Name returns the backend name for this instance, e.g. "searxng" or "searxng:bing".
func (s *SearXNG) Name() string {
	if s.upstream == "" {
		return "searxng"
	}
	return "searxng:" + s.upstream
}

// Search queries the SearXNG JSON API.
func (s *SearXNG) Search(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(s.baseURL + "/search")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	q.Set("safesearch", "0")
	if s.upstream != "" {
		q.Set("engines", s.upstream)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")

	var sr searxngResponse
	if err := s.get(ctx, s.Name(), u.String(), header, &sr); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(sr.Results))
	for _, r := range sr.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}
