// Package config loads visitorid configuration from defaults, an optional
// YAML file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/codeGROOVE-dev/visitorid/pkg/lists"
	"github.com/codeGROOVE-dev/visitorid/pkg/score"
	"github.com/codeGROOVE-dev/visitorid/pkg/search"
)

const (
	// EnvPrefix prefixes every environment override: VISITORID_SEARCH_TIMEOUT -> search.timeout.
	EnvPrefix = "VISITORID_"
	// PathEnvVar names the config file when --config is not given.
	PathEnvVar = "VISITORID_CONFIG"
)

// Conventional variables that are read without the prefix.
var legacyEnv = map[string]string{
	"BRAVE_API_KEY":   "search.brave_api_key",
	"SERPAPI_API_KEY": "search.serpapi_api_key",
	"IPINFO_TOKEN":    "geo.token",
}

// sliceKeys are split on commas when they arrive as a single string from the environment.
var sliceKeys = []string{
	"search.searxng_engines",
	"lists.personal_domains",
	"lists.typo_domains",
	"lists.personal_providers",
	"lists.institutional_suffixes",
	"lists.notable_organizations",
	"lists.generic_countries",
}

// Config is the complete configuration.
type Config struct {
	Lists    lists.Tables   `koanf:"lists" yaml:"lists"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Store    StoreConfig    `koanf:"store" yaml:"store"`
	Cache    CacheConfig    `koanf:"cache" yaml:"cache"`
	Geo      GeoConfig      `koanf:"geo" yaml:"geo"`
	Search   SearchConfig   `koanf:"search" yaml:"search"`
	Resolver ResolverConfig `koanf:"resolver" yaml:"resolver"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Scoring  score.Weights  `koanf:"scoring" yaml:"scoring"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=text json"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr" validate:"required"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit    int           `koanf:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `koanf:"driver" yaml:"driver" validate:"oneof=memory badger"`
	// Path is the Badger directory; empty keeps Badger in memory.
	Path string `koanf:"path" yaml:"path"`
}

// CacheConfig controls the on-disk HTTP response cache.
type CacheConfig struct {
	Path     string `koanf:"path" yaml:"path"`
	Disabled bool   `koanf:"disabled" yaml:"disabled"`
}

// GeoConfig controls IP geolocation.
type GeoConfig struct {
	Token    string        `koanf:"token" yaml:"token"`
	CacheTTL time.Duration `koanf:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
	Disabled bool          `koanf:"disabled" yaml:"disabled"`
}

// SearchConfig configures the search backends.
type SearchConfig struct {
	SearXNGURL      string        `koanf:"searxng_url" yaml:"searxng_url" validate:"omitempty,url"`
	BraveAPIKey     string        `koanf:"brave_api_key" yaml:"brave_api_key"`
	SerpAPIKey      string        `koanf:"serpapi_api_key" yaml:"serpapi_api_key"`
	SearXNGEngines  []string      `koanf:"searxng_engines" yaml:"searxng_engines"`
	Timeout         time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	CacheTTL        time.Duration `koanf:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" yaml:"breaker_timeout" validate:"gte=0"`
	BreakerInterval time.Duration `koanf:"breaker_interval" yaml:"breaker_interval" validate:"gte=0"`
	RateLimit       float64       `koanf:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `koanf:"rate_burst" yaml:"rate_burst" validate:"gte=0"`
	// BreakerFailures trips a backend's circuit after this many consecutive failures; 0 disables the breaker.
	BreakerFailures uint32 `koanf:"breaker_failures" yaml:"breaker_failures"`
	DuckDuckGo      bool   `koanf:"duckduckgo" yaml:"duckduckgo"`
}

// Breaker returns the circuit breaker settings.
func (s SearchConfig) Breaker() search.BreakerSettings {
	return search.BreakerSettings{
		ConsecutiveFailures: s.BreakerFailures,
		Timeout:             s.BreakerTimeout,
		Interval:            s.BreakerInterval,
	}
}

// ResolverConfig configures profile resolution.
type ResolverConfig struct {
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
	PaidQueries int           `koanf:"paid_queries" yaml:"paid_queries" validate:"gte=0"`
	Parallel    bool          `koanf:"parallel" yaml:"parallel"`
}

// SessionConfig configures browsing sessions.
type SessionConfig struct {
	Expiry time.Duration `koanf:"expiry" yaml:"expiry" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	b := search.DefaultBreakerSettings()
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":8080", RateLimit: 60, ReadTimeout: 10 * time.Second, WriteTimeout: 45 * time.Second},
		Store:  StoreConfig{Driver: "memory"},
		Geo:    GeoConfig{CacheTTL: 30 * 24 * time.Hour},
		Search: SearchConfig{
			SearXNGURL:      "http://localhost:8888",
			SearXNGEngines:  []string{"auto", "bing", "duckduckgo", "google"},
			DuckDuckGo:      true,
			Timeout:         search.DefaultTimeout,
			CacheTTL:        search.DefaultCacheTTL,
			RateLimit:       1,
			RateBurst:       2,
			BreakerFailures: b.ConsecutiveFailures,
			BreakerTimeout:  b.Timeout,
			BreakerInterval: b.Interval,
		},
		Resolver: ResolverConfig{Timeout: 25 * time.Second, PaidQueries: 2},
		Session:  SessionConfig{Expiry: 24 * time.Hour},
		Scoring:  score.DefaultWeights(),
		Lists:    lists.Default(),
	}
}

// Load reads configuration. path names a YAML file; when empty, VISITORID_CONFIG
// is consulted and a missing file is not an error. A .env file in the working
// directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if cfg.Search.BraveAPIKey == "" {
		cfg.Search.BraveAPIKey = search.LoadBraveAPIKey()
	}
	cfg.Lists = cfg.Lists.Merge(lists.Default())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable to a config path, or "" to ignore it.
// The first underscore after the prefix separates the section from the key:
// VISITORID_SCORING_MIN_SCORE -> scoring.min_score.
func envKey(name string) string {
	if p, ok := legacyEnv[name]; ok {
		return p
	}
	if !strings.HasPrefix(name, EnvPrefix) || name == PathEnvVar {
		return ""
	}
	section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_")
	if !ok || key == "" {
		return ""
	}
	return section + "." + key
}

func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for p := range strings.SplitSeq(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks field constraints and the scoring weights.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if c.Search.SearXNGURL == "" && c.Search.BraveAPIKey == "" && !c.Search.DuckDuckGo && c.Search.SerpAPIKey == "" {
		return errors.New("no search backend configured")
	}
	return nil
}
