package search

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const serpAPIEndpoint = "https://serpapi.com/search.json"

// SerpAPI implements Searcher with the paid SerpAPI Google engine.
// It is meant as a last resort after the free engines are exhausted.
type SerpAPI struct {
	engine

	apiKey   string
	endpoint string
}

type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

// NewSerpAPI creates a SerpAPI client.
func NewSerpAPI(apiKey string, opts ...EngineOption) *SerpAPI {
	return &SerpAPI{engine: newEngine(opts), apiKey: apiKey, endpoint: serpAPIEndpoint}
}

// Search runs a Google search through SerpAPI.
func (s *SerpAPI) Search(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("num", strconv.Itoa(MaxResults))
	q.Set("api_key", s.apiKey)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")

	var sr serpAPIResponse
	if err := s.get(ctx, "serpapi", u.String(), header, &sr); err != nil {
		return nil, err
	}
	if sr.Error != "" && len(sr.OrganicResults) == 0 {
		if strings.Contains(sr.Error, "hasn't returned any results") {
			return nil, nil
		}
		return nil, errors.New("serpapi: " + sr.Error)
	}

	results := make([]Result, 0, len(sr.OrganicResults))
	for _, r := range sr.OrganicResults {
		results = append(results, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}
