package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/visitorid/pkg/httpcache"
)

func jsonServer(t *testing.T, check func(r *http.Request), body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(body)); err != nil {
			t.Logf("write error: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearXNG(t *testing.T) {
	body := `{"results":[
		{"url":"https://www.linkedin.com/in/jane-doe","title":"Jane Doe - Acme | LinkedIn","content":"Engineer at Acme. Boston."},
		{"url":"https://example.com/jane","title":"Jane's blog","content":""}
	]}`

	tests := []struct {
		name       string
		upstream   string
		wantName   string
		wantEngine string
	}{
		{name: "aggregate", upstream: "", wantName: "searxng", wantEngine: ""},
		{name: "auto_is_aggregate", upstream: "auto", wantName: "searxng", wantEngine: ""},
		{name: "named_engine", upstream: "bing", wantName: "searxng:bing", wantEngine: "bing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := jsonServer(t, func(r *http.Request) {
				if r.URL.Path != "/search" {
					t.Errorf("path = %q, want /search", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("format") != "json" {
					t.Errorf("format = %q, want json", q.Get("format"))
				}
				if q.Get("engines") != tt.wantEngine {
					t.Errorf("engines = %q, want %q", q.Get("engines"), tt.wantEngine)
				}
			}, body)

			s := NewSearXNG(server.URL+"/", tt.upstream)
			if s.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.wantName)
			}

			got, err := s.Search(context.Background(), `"Jane Doe" site:linkedin.com/in`)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			want := []Result{
				{Title: "Jane Doe - Acme | LinkedIn", URL: "https://www.linkedin.com/in/jane-doe", Snippet: "Engineer at Acme. Boston."},
				{Title: "Jane's blog", URL: "https://example.com/jane"},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Search() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearXNGServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewSearXNG(server.URL, "").Search(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if code := httpcache.StatusCode(err); code != http.StatusBadGateway {
		t.Errorf("StatusCode() = %d, want %d", code, http.StatusBadGateway)
	}
}

func TestDuckDuckGo(t *testing.T) {
	body := `{
		"Heading":"Jane Doe",
		"AbstractURL":"https://www.linkedin.com/in/janedoe",
		"AbstractText":"Jane Doe is a software engineer.",
		"RelatedTopics":[
			{"FirstURL":"https://duckduckgo.com/Jane_Doe_(actor)","Text":"Jane Doe (actor)"},
			{"Name":"People","Topics":[{"FirstURL":"https://www.linkedin.com/in/jane-doe-2","Text":"Jane Doe - Globex"}]}
		]
	}`
	server := jsonServer(t, func(r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("expected format=json")
		}
		if r.URL.Query().Get("no_html") != "1" {
			t.Errorf("expected no_html=1")
		}
	}, body)

	d := NewDuckDuckGo()
	d.endpoint = server.URL + "/"

	got, err := d.Search(context.Background(), "Jane Doe linkedin")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []Result{
		{Title: "Jane Doe", URL: "https://www.linkedin.com/in/janedoe", Snippet: "Jane Doe is a software engineer."},
		{Title: "Jane Doe (actor)", URL: "https://duckduckgo.com/Jane_Doe_(actor)"},
		{Title: "Jane Doe - Globex", URL: "https://www.linkedin.com/in/jane-doe-2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}
}

func TestSerpAPI(t *testing.T) {
	t.Run("organic_results", func(t *testing.T) {
		server := jsonServer(t, func(r *http.Request) {
			q := r.URL.Query()
			if q.Get("engine") != "google" {
				t.Errorf("engine = %q, want google", q.Get("engine"))
			}
			if q.Get("api_key") != "paid-key" {
				t.Errorf("api_key = %q, want paid-key", q.Get("api_key"))
			}
			if q.Get("num") != "10" {
				t.Errorf("num = %q, want 10", q.Get("num"))
			}
		}, `{"organic_results":[{"title":"John Smith - Initech | LinkedIn","link":"https://www.linkedin.com/in/jsmith","snippet":"Austin, Texas"}]}`)

		s := NewSerpAPI("paid-key")
		s.endpoint = server.URL + "/search.json"

		got, err := s.Search(context.Background(), "John Smith Initech")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		want := []Result{{Title: "John Smith - Initech | LinkedIn", URL: "https://www.linkedin.com/in/jsmith", Snippet: "Austin, Texas"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Search() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no_results_is_not_an_error", func(t *testing.T) {
		server := jsonServer(t, nil, `{"error":"Google hasn't returned any results for this query."}`)
		s := NewSerpAPI("paid-key")
		s.endpoint = server.URL

		got, err := s.Search(context.Background(), "zzzz")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no results, got %d", len(got))
		}
	})

	t.Run("api_error", func(t *testing.T) {
		server := jsonServer(t, nil, `{"error":"Invalid API key."}`)
		s := NewSerpAPI("bad")
		s.endpoint = server.URL

		if _, err := s.Search(context.Background(), "x"); err == nil {
			t.Error("expected error for API error payload")
		}
	})
}

func TestEngineUsesCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`)) //nolint:errcheck // test
	}))
	defer server.Close()

	cache, err := httpcache.NewWithPath(time.Hour, t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath() error = %v", err)
	}

	s := NewSearXNG(server.URL, "", WithCache(cache, time.Hour))
	for range 3 {
		if _, err := s.Search(context.Background(), "same query"); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}
