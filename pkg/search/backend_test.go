package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
)

type fakeSearcher struct {
	err     error
	results []Result
	calls   atomic.Int32
}

func (f *fakeSearcher) Search(ctx context.Context, _ string) ([]Result, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.results, f.err
}

func TestBackendFiltersProfileURLs(t *testing.T) {
	s := &fakeSearcher{results: []Result{
		{Title: "Jane Doe - Acme | LinkedIn", URL: "https://www.linkedin.com/in/jane-doe", Snippet: "Boston"},
		{Title: "Jane on LinkedIn: a post", URL: "https://www.linkedin.com/posts/jane_hello", Snippet: "post"},
		{Title: "Acme", URL: "https://www.linkedin.com/company/acme"},
		{Title: "Jane Doe", URL: "https://linkedin.com/in/jdoe/", Snippet: ""},
	}}

	got := NewBackend("fake", s).Search(context.Background(), "Jane Doe")
	want := []profile.Candidate{
		{ProfileURL: "https://www.linkedin.com/in/jane-doe", Title: "Jane Doe - Acme | LinkedIn", DisplayText: "Jane Doe - Acme | LinkedIn Boston", Backend: "fake"},
		{ProfileURL: "https://linkedin.com/in/jdoe/", Title: "Jane Doe", DisplayText: "Jane Doe", Backend: "fake"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidatesCapsResults(t *testing.T) {
	var results []Result
	for i := range 15 {
		results = append(results, Result{Title: fmt.Sprint(i), URL: fmt.Sprintf("https://www.linkedin.com/in/user%d", i)})
	}
	got := Candidates("x", results)
	if len(got) != MaxResults {
		t.Fatalf("len = %d, want %d", len(got), MaxResults)
	}
	if got[9].ProfileURL != "https://www.linkedin.com/in/user9" {
		t.Errorf("last candidate = %q, want user9", got[9].ProfileURL)
	}
}

func TestBackendSwallowsErrors(t *testing.T) {
	s := &fakeSearcher{err: errors.New("upstream exploded")}
	got := NewBackend("broken", s).Search(context.Background(), "anything")
	if got != nil {
		t.Errorf("Search() = %v, want nil", got)
	}
	if s.calls.Load() != 1 {
		t.Errorf("searcher called %d times, want 1", s.calls.Load())
	}
}

func TestBackendBreakerOpens(t *testing.T) {
	s := &fakeSearcher{err: errors.New("503")}
	b := NewBackend("flaky", s, WithBreaker(BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Hour}))

	for range 5 {
		if got := b.Search(context.Background(), "q"); got != nil {
			t.Errorf("Search() = %v, want nil", got)
		}
	}
	if got := s.calls.Load(); got != 2 {
		t.Errorf("searcher called %d times, want 2 (breaker should open)", got)
	}
}

func TestBackendBreakerIgnoresCancellation(t *testing.T) {
	s := &fakeSearcher{results: []Result{{URL: "https://www.linkedin.com/in/ok"}}}
	b := NewBackend("cancelled", s, WithBreaker(BreakerSettings{ConsecutiveFailures: 1, Timeout: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		b.Search(ctx, "q")
	}

	if got := b.Search(context.Background(), "q"); len(got) != 1 {
		t.Errorf("Search() after cancellations = %d candidates, want 1", len(got))
	}
}

func TestBackendTimeout(t *testing.T) {
	block := searcherFunc(func(ctx context.Context, _ string) ([]Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b := NewBackend("slow", block, WithTimeout(20*time.Millisecond))

	start := time.Now()
	if got := b.Search(context.Background(), "q"); got != nil {
		t.Errorf("Search() = %v, want nil", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Search() took %v, expected timeout near 20ms", elapsed)
	}
}

func TestBackendRateLimit(t *testing.T) {
	s := &fakeSearcher{results: []Result{{URL: "https://www.linkedin.com/in/ok"}}}
	b := NewBackend("limited", s, WithRateLimit(0.001, 1))

	if got := b.Search(context.Background(), "q"); len(got) != 1 {
		t.Fatalf("first Search() = %d candidates, want 1", len(got))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := b.Search(ctx, "q"); got != nil {
		t.Errorf("second Search() = %v, want nil while rate limited", got)
	}
	if got := s.calls.Load(); got != 1 {
		t.Errorf("searcher called %d times, want 1", got)
	}
}

type searcherFunc func(ctx context.Context, query string) ([]Result, error)

func (f searcherFunc) Search(ctx context.Context, query string) ([]Result, error) { return f(ctx, query) }
