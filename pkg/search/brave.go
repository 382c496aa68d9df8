package search

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// braveEndpoint is the Brave Search web endpoint.
const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave implements Searcher using the Brave Search API.
// Free tier: 2,000 queries/month, 1 query/second.
// Get an API key at https://api.search.brave.com/
type Brave struct {
	engine

	apiKey string
}

// braveResponse represents the Brave Search API response.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// NewBrave creates a new Brave Search API client.
// apiKey is your Brave Search API subscription token.
func NewBrave(apiKey string, opts ...EngineOption) *Brave {
	return &Brave{engine: newEngine(opts), apiKey: apiKey}
}

// LoadBraveAPIKey loads the Brave API key from multiple sources (in priority order):
// 1. BRAVE_API_KEY environment variable
// 2. ~/.brave file (first line, trimmed)
//
// Returns empty string if no key is found.
func LoadBraveAPIKey() string {
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		return key
	}

	if home, err := os.UserHomeDir(); err == nil {
		if data, err := os.ReadFile(filepath.Join(home, ".brave")); err == nil {
			if key, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n"); key != "" {
				return strings.TrimSpace(key)
			}
		}
	}

	return ""
}

// Search performs a web search using the Brave Search API.
func (b *Brave) Search(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(braveEndpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(MaxResults))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("X-Subscription-Token", b.apiKey)

	var br braveResponse
	if err := b.get(ctx, "brave", u.String(), header, &br); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	return results, nil
}
