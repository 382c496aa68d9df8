package search

import (
	"context"
	"net/http"
	"net/url"
)

const duckDuckGoEndpoint = "https://api.duckduckgo.com/"

// DuckDuckGo implements Searcher with the keyless DuckDuckGo Instant Answer API.
// It rarely returns profile pages but costs nothing to ask.
type DuckDuckGo struct {
	engine

	endpoint string
}

type ddgTopic struct {
	FirstURL string     `json:"FirstURL"`
	Text     string     `json:"Text"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractURL   string     `json:"AbstractURL"`
	AbstractText  string     `json:"AbstractText"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// NewDuckDuckGo creates an Instant Answer client.
func NewDuckDuckGo(opts ...EngineOption) *DuckDuckGo {
	return &DuckDuckGo{engine: newEngine(opts), endpoint: duckDuckGoEndpoint}
}

// Search queries the Instant Answer API.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")

	var dr ddgResponse
	if err := d.get(ctx, "duckduckgo", u.String(), header, &dr); err != nil {
		return nil, err
	}

	var results []Result
	if dr.AbstractURL != "" {
		results = append(results, Result{Title: dr.Heading, URL: dr.AbstractURL, Snippet: dr.AbstractText})
	}
	var walk func([]ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if t.FirstURL != "" {
				results = append(results, Result{Title: t.Text, URL: t.FirstURL})
			}
			walk(t.Topics)
		}
	}
	walk(dr.RelatedTopics)
	return results, nil
}
