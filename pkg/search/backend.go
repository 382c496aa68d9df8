package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/visitorid/pkg/linkedin"
	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
)

// MaxResults bounds how many results are requested from and accepted per engine call.
const MaxResults = 10

// DefaultTimeout is the per-call deadline for a backend search.
const DefaultTimeout = 8 * time.Second

// Backend produces candidate profiles for a query. Search never fails:
// an engine error is logged and reported as no candidates.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string) []profile.Candidate
}

type backend struct {
	searcher Searcher
	limiter  *rate.Limiter
	logger   *slog.Logger
	breaker  *BreakerSettings
	name     string
	timeout  time.Duration
}

// BackendOption configures a Backend.
type BackendOption func(*backend)

// WithBreaker guards the backend with a circuit breaker.
func WithBreaker(s BreakerSettings) BackendOption {
	return func(b *backend) { b.breaker = &s }
}

// WithRateLimit limits calls to perSecond with the given burst.
// Callers wait for a token; an expired context counts as a failed call.
func WithRateLimit(perSecond float64, burst int) BackendOption {
	return func(b *backend) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) BackendOption {
	return func(b *backend) { b.timeout = d }
}

// WithBackendLogger sets the logger used to report swallowed failures.
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(b *backend) { b.logger = logger }
}

// NewBackend adapts a Searcher into a Backend.
func NewBackend(name string, s Searcher, opts ...BackendOption) Backend {
	b := &backend{
		name:     name,
		searcher: s,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.breaker != nil {
		b.searcher = newBreakerSearcher(name, b.searcher, *b.breaker, b.logger)
	}
	return b
}

func (b *backend) Name() string { return b.name }

func (b *backend) Search(ctx context.Context, query string) []profile.Candidate {
	start := time.Now()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	results, err := b.search(ctx, query)
	if err != nil {
		outcome := metrics.OutcomeError
		switch {
		case isBreakerRejection(err):
			outcome = metrics.OutcomeBreakerOpen
			b.logger.DebugContext(ctx, "search backend skipped, circuit open", "backend", b.name)
		case errors.Is(err, context.Canceled):
			outcome = metrics.OutcomeCanceled
			b.logger.DebugContext(ctx, "search canceled", "backend", b.name)
		default:
			b.logger.WarnContext(ctx, "search backend failed", "backend", b.name, "query", query, "error", err)
		}
		metrics.RecordSearch(b.name, outcome, time.Since(start), 0)
		return nil
	}

	candidates := Candidates(b.name, results)
	outcome := metrics.OutcomeOK
	if len(candidates) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	metrics.RecordSearch(b.name, outcome, time.Since(start), len(candidates))
	b.logger.DebugContext(ctx, "search backend results",
		"backend", b.name, "query", query, "results", len(results), "candidates", len(candidates))
	return candidates
}

func (b *backend) search(ctx context.Context, query string) ([]Result, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return b.searcher.Search(ctx, query)
}

// Candidates keeps the first MaxResults results that point at a profile page
// and converts them into candidates attributed to backend.
func Candidates(backend string, results []Result) []profile.Candidate {
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	var out []profile.Candidate
	for _, r := range results {
		if !linkedin.Match(r.URL) {
			continue
		}
		title := strings.TrimSpace(r.Title)
		out = append(out, profile.Candidate{
			ProfileURL:  strings.TrimSpace(r.URL),
			Title:       title,
			DisplayText: strings.TrimSpace(title + " " + strings.TrimSpace(r.Snippet)),
			Backend:     backend,
		})
	}
	return out
}
