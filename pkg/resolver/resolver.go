// Package resolver finds the LinkedIn profile that belongs to a visitor.
//
// Resolution is best-effort and never fails: a user supplied URL wins
// outright, otherwise planned queries are run against the configured search
// backends in priority order until a candidate scores above the acceptance
// threshold. Paid backends are only consulted after everything else came up
// empty. The whole attempt runs under a single time budget.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/visitorid/pkg/linkedin"
	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
	"github.com/codeGROOVE-dev/visitorid/pkg/org"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
	"github.com/codeGROOVE-dev/visitorid/pkg/query"
	"github.com/codeGROOVE-dev/visitorid/pkg/score"
	"github.com/codeGROOVE-dev/visitorid/pkg/search"
)

// Defaults for resolver options.
const (
	DefaultTimeout     = 25 * time.Second
	DefaultPaidQueries = 2
)

// Request describes the person to resolve.
type Request struct {
	Name       profile.PersonName
	OrgHint    string
	ProfileURL string
	Location   profile.LocationHint
}

// Resolver drives query planning, search and scoring.
type Resolver struct {
	scorer      *score.Scorer
	logger      *slog.Logger
	backends    []search.Backend
	paid        []search.Backend
	timeout     time.Duration
	paidQueries int
	parallel    bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBackends sets the free backends in priority order. Aggregating backends should come first.
func WithBackends(b ...search.Backend) Option {
	return func(r *Resolver) { r.backends = b }
}

// WithPaidBackends sets the backends used as a last resort.
func WithPaidBackends(b ...search.Backend) Option {
	return func(r *Resolver) { r.paid = b }
}

// WithScorer replaces the default scorer.
func WithScorer(s *score.Scorer) Option {
	return func(r *Resolver) { r.scorer = s }
}

// WithLogger sets a logger for the resolver.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithTimeout bounds a whole resolution attempt. Zero disables the budget.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithParallel queries all backends for a query at once.
// Results are still considered in backend priority order.
func WithParallel(enabled bool) Option {
	return func(r *Resolver) { r.parallel = enabled }
}

// WithPaidQueryLimit sets how many of the most specific queries go to paid backends.
func WithPaidQueryLimit(n int) Option {
	return func(r *Resolver) { r.paidQueries = n }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		logger:      slog.Default(),
		timeout:     DefaultTimeout,
		paidQueries: DefaultPaidQueries,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scorer == nil {
		r.scorer = score.Default()
	}
	return r
}

// Resolve looks up the profile for req. It never returns an error;
// a missing or unconvincing match is reported with Found set to false.
func (r *Resolver) Resolve(ctx context.Context, req Request) profile.Resolved {
	start := time.Now()
	res := r.resolve(ctx, req)
	metrics.RecordResolution(res.Source, time.Since(start))
	return res
}

func (r *Resolver) resolve(ctx context.Context, req Request) profile.Resolved {
	if req.ProfileURL != "" {
		if u, ok := linkedin.Normalize(req.ProfileURL); ok {
			r.logger.InfoContext(ctx, "using user supplied profile", "url", u)
			return profile.Resolved{URL: u, Source: profile.SourceUserProvided, Found: true}
		}
		r.logger.DebugContext(ctx, "ignoring invalid user supplied profile url", "url", req.ProfileURL)
	}

	name := req.Name.Normalize()
	if !name.Valid() {
		r.logger.DebugContext(ctx, "skipping resolution", "error", profile.ErrInvalidName)
		return profile.NotFound(profile.SourceNone)
	}
	req.Name = name

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	queries := query.Build(name, req.OrgHint)
	r.logger.DebugContext(ctx, "resolving profile",
		"name", name.Full(), "org", req.OrgHint, "queries", len(queries), "backends", len(r.backends))

	for _, q := range queries {
		if res, ok := r.searchQuery(ctx, q, req, r.backends); ok {
			return res
		}
		if ctx.Err() != nil {
			return r.exhausted(ctx, name)
		}
	}

	if len(r.paid) > 0 {
		for _, q := range query.Top(queries, r.paidQueries) {
			if res, ok := r.searchQuery(ctx, q, req, r.paid); ok {
				return res
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	return r.exhausted(ctx, name)
}

func (r *Resolver) exhausted(ctx context.Context, name profile.PersonName) profile.Resolved {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.WarnContext(ctx, "profile resolution budget exceeded", "name", name.Full(), "budget", r.timeout)
	} else {
		r.logger.InfoContext(ctx, "no confident profile match", "name", name.Full())
	}
	return profile.NotFound(profile.SourceExhausted)
}

func (r *Resolver) searchQuery(ctx context.Context, q query.Query, req Request, backends []search.Backend) (profile.Resolved, bool) {
	if len(backends) == 0 {
		return profile.Resolved{}, false
	}
	if r.parallel && len(backends) > 1 {
		return r.searchParallel(ctx, q, req, backends)
	}
	for _, b := range backends {
		if ctx.Err() != nil {
			return profile.Resolved{}, false
		}
		if res, ok := r.accept(ctx, b.Name(), q, b.Search(ctx, q.Text), req); ok {
			return res, true
		}
	}
	return profile.Resolved{}, false
}

// searchParallel runs every backend at once but inspects results in priority order,
// so a lower priority backend can never pre-empt a higher priority one still in flight.
func (r *Resolver) searchParallel(ctx context.Context, q query.Query, req Request, backends []search.Backend) (profile.Resolved, bool) {
	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		cancel()
		_ = g.Wait() //nolint:errcheck // backends never return errors
	}()

	results := make([]chan []profile.Candidate, len(backends))
	for i, b := range backends {
		ch := make(chan []profile.Candidate, 1)
		results[i] = ch
		g.Go(func() error {
			ch <- b.Search(ctx, q.Text)
			return nil
		})
	}

	for i, b := range backends {
		var cands []profile.Candidate
		select {
		case cands = <-results[i]:
		case <-ctx.Done():
			return profile.Resolved{}, false
		}
		if res, ok := r.accept(ctx, b.Name(), q, cands, req); ok {
			return res, true
		}
	}
	return profile.Resolved{}, false
}

func (r *Resolver) accept(ctx context.Context, backend string, q query.Query, cands []profile.Candidate, req Request) (profile.Resolved, bool) {
	if len(cands) == 0 {
		return profile.Resolved{}, false
	}
	best, ok := r.scorer.PickBest(cands, req.Name, req.OrgHint, req.Location)
	if !ok {
		r.logger.DebugContext(ctx, "no candidate above threshold",
			"backend", backend, "query", q.Text, "candidates", len(cands))
		return profile.Resolved{}, false
	}
	metrics.CandidateScores.Observe(float64(best.Score))

	url := best.ProfileURL
	if u, ok := linkedin.Normalize(url); ok {
		url = u
	}
	hl := headline(best.Title, req.Name)
	r.logger.InfoContext(ctx, "profile match accepted",
		"backend", backend, "query_rank", q.Rank, "url", url, "score", best.Score)

	return profile.Resolved{
		URL:                      url,
		Headline:                 hl,
		OrganizationFromHeadline: org.FromHeadline(hl),
		Source:                   backend,
		MatchScore:               best.Score,
		Found:                    true,
	}, true
}

func headline(title string, name profile.PersonName) string {
	if h := linkedin.HeadlineFromTitle(title, name.Full()); h != linkedin.HeadlineFromTitle(title, "") {
		return h
	}
	return linkedin.HeadlineFromTitle(title, name.Short())
}
