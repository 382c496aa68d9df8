// Command visitorid tracks portfolio site visitors and matches registered
// visitors to public LinkedIn profiles.
//
// Usage:
//
//	visitorid serve --config visitorid.yaml
//	visitorid resolve --first Jane --last Doe --email jane@acme.com
//	visitorid domain gmial.com
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/visitorid/pkg/api"
	"github.com/codeGROOVE-dev/visitorid/pkg/config"
	"github.com/codeGROOVE-dev/visitorid/pkg/org"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
	"github.com/codeGROOVE-dev/visitorid/pkg/resolver"
	"github.com/codeGROOVE-dev/visitorid/pkg/textmatch"
	"github.com/codeGROOVE-dev/visitorid/pkg/visitor"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cfgPath string
	debug   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "visitorid",
		Short:         "Track site visitors and match them to public LinkedIn profiles",
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "YAML config file (default $"+config.PathEnvVar+")")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.AddCommand(a.serveCmd(), a.resolveCmd(), a.domainCmd())
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log, a.debug)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(c config.LogConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	sessions, err := visitor.NewSessions(ctx, c.store,
		visitor.WithLogger(a.logger), visitor.WithSessionExpiry(a.cfg.Session.Expiry))
	if err != nil {
		return err
	}
	vopts := []visitor.Option{visitor.WithLogger(a.logger)}
	if !a.cfg.Geo.Disabled {
		vopts = append(vopts, visitor.WithGeo(c.geo))
	}
	dedup, err := visitor.NewDeduplicator(ctx, c.store, sessions, vopts...)
	if err != nil {
		return err
	}
	ident := visitor.NewIdentifier(dedup, c.resolver, c.orgs, visitor.WithLogger(a.logger))

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.New(dedup, sessions, ident, c.geo, api.WithLogger(a.logger), api.WithRateLimit(a.cfg.Server.RateLimit)).Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", "addr", srv.Addr, "store", a.cfg.Store.Driver)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *app) resolveCmd() *cobra.Command {
	var (
		name     profile.PersonName
		loc      profile.LocationHint
		email    string
		orgHint  string
		url      string
		parallel bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find the LinkedIn profile for a person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if parallel {
				a.cfg.Resolver.Parallel = true
			}
			c, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer c.close()

			if orgHint == "" {
				orgHint = c.orgs.FromEmail(email)
			}
			res := c.resolver.Resolve(cmd.Context(), resolver.Request{
				Name:       name,
				OrgHint:    orgHint,
				ProfileURL: url,
				Location:   loc,
			})
			return outputJSON(struct {
				Organization        string `json:"organization,omitempty"`
				NotableOrganization string `json:"notable_organization,omitempty"`
				profile.Resolved
			}{
				Organization:        orgHint,
				NotableOrganization: c.orgs.NotableName(res.Headline, orgHint),
				Resolved:            res,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&name.First, "first", "", "first name")
	f.StringVar(&name.Middle, "middle", "", "middle name")
	f.StringVar(&name.Last, "last", "", "last name")
	f.StringVar(&email, "email", "", "email address, used to derive the organization")
	f.StringVar(&orgHint, "org", "", "organization (overrides the one derived from --email)")
	f.StringVar(&url, "url", "", "profile URL supplied by the person")
	f.StringVar(&loc.City, "city", "", "city hint")
	f.StringVar(&loc.Region, "region", "", "region hint")
	f.StringVar(&loc.Country, "country", "", "country hint")
	f.BoolVar(&parallel, "parallel", false, "query backends concurrently")
	return cmd
}

func (a *app) domainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domain <domain>",
		Short: "Explain how an email domain is classified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := strings.ToLower(strings.TrimPrefix(args[0], "@"))
			m := textmatch.NewMatcher(a.cfg.Lists)
			orgs := org.New(m, a.cfg.Lists)
			name := orgs.FromEmail("x@" + domain)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "domain:        %s\n", domain)
			fmt.Fprintf(out, "institutional: %t\n", m.IsInstitutional(domain))
			fmt.Fprintf(out, "personal:      %t\n", m.IsPersonalDomain(domain))
			fmt.Fprintf(out, "organization:  %s\n", name)
			fmt.Fprintf(out, "notable:       %t\n", orgs.IsNotable(name))
			return nil
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
