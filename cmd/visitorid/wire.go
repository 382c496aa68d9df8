package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/visitorid/pkg/geo"
	"github.com/codeGROOVE-dev/visitorid/pkg/httpcache"
	"github.com/codeGROOVE-dev/visitorid/pkg/org"
	"github.com/codeGROOVE-dev/visitorid/pkg/resolver"
	"github.com/codeGROOVE-dev/visitorid/pkg/score"
	"github.com/codeGROOVE-dev/visitorid/pkg/search"
	"github.com/codeGROOVE-dev/visitorid/pkg/store"
	"github.com/codeGROOVE-dev/visitorid/pkg/textmatch"
)

// components are the long-lived services shared by the commands.
type components struct {
	cache    *httpcache.Cache
	store    store.DocumentStore
	geo      geo.Resolver
	resolver *resolver.Resolver
	orgs     *org.Extractor
	logger   *slog.Logger
	closers  []func() error
}

func (a *app) build(ctx context.Context) (*components, error) {
	c := &components{cache: a.httpCache(), logger: a.logger}
	c.closers = append(c.closers, c.cache.Close)

	st, err := a.openStore()
	if err != nil {
		c.close()
		return nil, err
	}
	c.store = st
	c.closers = append(c.closers, st.Close)

	c.geo = geo.NewIPInfo(a.cfg.Geo.Token,
		geo.WithCache(c.cache, a.cfg.Geo.CacheTTL),
		geo.WithLogger(a.logger),
		geo.WithTables(a.cfg.Lists))

	scorer, err := score.NewScorer(a.cfg.Scoring, a.cfg.Lists)
	if err != nil {
		c.close()
		return nil, err
	}
	free, paid := a.backends(c.cache)
	c.resolver = resolver.New(
		resolver.WithBackends(free...),
		resolver.WithPaidBackends(paid...),
		resolver.WithScorer(scorer),
		resolver.WithLogger(a.logger),
		resolver.WithTimeout(a.cfg.Resolver.Timeout),
		resolver.WithParallel(a.cfg.Resolver.Parallel),
		resolver.WithPaidQueryLimit(a.cfg.Resolver.PaidQueries),
	)
	c.orgs = org.New(textmatch.NewMatcher(a.cfg.Lists), a.cfg.Lists)

	a.logger.DebugContext(ctx, "components ready",
		"free_backends", len(free), "paid_backends", len(paid), "store", a.cfg.Store.Driver)
	return c, nil
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("failed to close", "error", err)
		}
	}
}

// httpCache opens the shared response cache, degrading to a null cache on failure.
func (a *app) httpCache() *httpcache.Cache {
	if a.cfg.Cache.Disabled {
		return httpcache.NewNull()
	}
	var (
		cache *httpcache.Cache
		err   error
	)
	if a.cfg.Cache.Path != "" {
		cache, err = httpcache.NewWithPath(a.cfg.Search.CacheTTL, a.cfg.Cache.Path)
	} else {
		cache, err = httpcache.New(a.cfg.Search.CacheTTL)
	}
	if err != nil {
		a.logger.Warn("failed to initialize cache", "error", err)
		return httpcache.NewNull()
	}
	return cache
}

func (a *app) openStore() (store.DocumentStore, error) {
	switch a.cfg.Store.Driver {
	case "badger":
		return store.OpenBadger(a.cfg.Store.Path, store.WithStoreLogger(a.logger))
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

// backends builds the free and paid search backends in query order.
func (a *app) backends(cache httpcache.Cacher) (free, paid []search.Backend) {
	sc := a.cfg.Search
	engineOpts := []search.EngineOption{search.WithCache(cache, sc.CacheTTL), search.WithLogger(a.logger)}
	backendOpts := []search.BackendOption{search.WithTimeout(sc.Timeout), search.WithBackendLogger(a.logger)}
	if sc.BreakerFailures > 0 {
		backendOpts = append(backendOpts, search.WithBreaker(sc.Breaker()))
	}
	if sc.RateLimit > 0 {
		backendOpts = append(backendOpts, search.WithRateLimit(sc.RateLimit, sc.RateBurst))
	}

	if sc.SearXNGURL != "" {
		for _, upstream := range sc.SearXNGEngines {
			sx := search.NewSearXNG(sc.SearXNGURL, upstream, engineOpts...)
			free = append(free, search.NewBackend(sx.Name(), sx, backendOpts...))
		}
	}
	if sc.BraveAPIKey != "" {
		free = append(free, search.NewBackend("brave", search.NewBrave(sc.BraveAPIKey, engineOpts...), backendOpts...))
	}
	if sc.DuckDuckGo {
		free = append(free, search.NewBackend("duckduckgo", search.NewDuckDuckGo(engineOpts...), backendOpts...))
	}
	if sc.SerpAPIKey != "" {
		paid = append(paid, search.NewBackend("serpapi", search.NewSerpAPI(sc.SerpAPIKey, engineOpts...), backendOpts...))
	}
	return free, paid
}
