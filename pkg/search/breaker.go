package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
)

// BreakerSettings configures a per-backend circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit after this many failures in a row.
	ConsecutiveFailures uint32
	// Timeout is how long the circuit stays open before a trial request.
	Timeout time.Duration
	// Interval resets the closed-state counts; 0 never resets them.
	Interval time.Duration
}

// DefaultBreakerSettings returns settings suited to flaky free search engines.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		Timeout:             2 * time.Minute,
		Interval:            5 * time.Minute,
	}
}

// breakerSearcher wraps a Searcher with a circuit breaker.
type breakerSearcher struct {
	next Searcher
	cb   *gobreaker.CircuitBreaker[[]Result]
}

func newBreakerSearcher(name string, next Searcher, s BreakerSettings, logger *slog.Logger) *breakerSearcher {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[[]Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// A search abandoned by the caller says nothing about the engine's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("search backend circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &breakerSearcher{next: next, cb: cb}
}

func (b *breakerSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	return b.cb.Execute(func() ([]Result, error) {
		return b.next.Search(ctx, query)
	})
}

// isBreakerRejection reports whether err came from an open or saturated breaker.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
