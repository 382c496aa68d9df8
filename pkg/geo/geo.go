// Package geo resolves IP addresses to approximate locations.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/codeGROOVE-dev/visitorid/pkg/httpcache"
	"github.com/codeGROOVE-dev/visitorid/pkg/lists"
	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
)

const (
	ipinfoEndpoint = "https://ipinfo.io"
	// DefaultCacheTTL is how long a lookup is reused.
	DefaultCacheTTL = 30 * 24 * time.Hour
	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 5 * time.Second

	unknown = "Unknown"
)

// ErrInvalidIP is returned for input that is not an IP address.
var ErrInvalidIP = errors.New("invalid ip address")

// LocationInfo is what is known about where an IP address is.
type LocationInfo struct {
	IP          string  `json:"ip"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	Postal      string  `json:"postal,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	Org         string  `json:"org,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	IsLocal     bool    `json:"is_local,omitempty"`
}

// Hint converts the location into a scoring hint. Local and unknown values are dropped.
func (l LocationInfo) Hint() profile.LocationHint {
	if l.IsLocal {
		return profile.LocationHint{}
	}
	known := func(s string) string {
		if strings.EqualFold(s, unknown) {
			return ""
		}
		return s
	}
	country := l.CountryName
	if country == "" {
		country = l.Country
	}
	return profile.LocationHint{City: known(l.City), Region: known(l.Region), Country: known(country)}
}

// Resolver looks up IP addresses.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (LocationInfo, error)
}

// IPInfo implements Resolver with the ipinfo.io API.
type IPInfo struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	logger     *slog.Logger
	tables     lists.Tables
	token      string
	endpoint   string
	cacheTTL   time.Duration
}

// Option configures an IPInfo client.
type Option func(*IPInfo)

// WithCache sets a cache for lookups.
func WithCache(cache httpcache.Cacher, ttl time.Duration) Option {
	return func(c *IPInfo) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *IPInfo) { c.logger = logger }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *IPInfo) { c.httpClient = client }
}

// WithTables sets the tables used for country names.
func WithTables(t lists.Tables) Option {
	return func(c *IPInfo) { c.tables = t }
}

// NewIPInfo creates a client. token may be empty for the keyless tier.
func NewIPInfo(token string, opts ...Option) *IPInfo {
	c := &IPInfo{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		tables:     lists.Default(),
		token:      token,
		endpoint:   ipinfoEndpoint,
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ipinfoResponse struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
	Org      string `json:"org"`
	Loc      string `json:"loc"`
	Bogon    bool   `json:"bogon"`
}

// Resolve looks up ip. Forwarded lists are reduced to their first entry and
// local addresses are answered without a network call. A 429 from the API is
// reported as profile.ErrRateLimited.
func (c *IPInfo) Resolve(ctx context.Context, ip string) (LocationInfo, error) {
	ip = FirstIP(ip)
	if IsLocal(ip) {
		metrics.GeoLookups.WithLabelValues("local").Inc()
		return Local(ip), nil
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return LocationInfo{}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+ip+"/json", http.NoBody)
	if err != nil {
		return LocationInfo{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	data, err := httpcache.FetchWithRetry(ctx, c.cache, c.httpClient, req, "ipinfo:"+ip, c.cacheTTL, c.logger)
	if err != nil {
		if httpcache.StatusCode(err) == http.StatusTooManyRequests {
			metrics.GeoLookups.WithLabelValues("rate_limited").Inc()
			c.logger.WarnContext(ctx, "ipinfo rate limit exceeded", "ip", ip)
			return LocationInfo{}, fmt.Errorf("ipinfo %s: %w", ip, profile.ErrRateLimited)
		}
		metrics.GeoLookups.WithLabelValues("error").Inc()
		return LocationInfo{}, fmt.Errorf("ipinfo %s: %w", ip, err)
	}

	var r ipinfoResponse
	if err := json.Unmarshal(data, &r); err != nil {
		metrics.GeoLookups.WithLabelValues("error").Inc()
		return LocationInfo{}, fmt.Errorf("ipinfo %s: decode: %w", ip, err)
	}
	if r.Bogon {
		metrics.GeoLookups.WithLabelValues("local").Inc()
		return Local(ip), nil
	}

	info := LocationInfo{
		IP:          ip,
		City:        orUnknown(r.City),
		Region:      orUnknown(r.Region),
		Country:     orUnknown(r.Country),
		CountryName: c.tables.CountryName(r.Country),
		Postal:      r.Postal,
		Timezone:    r.Timezone,
		Org:         orUnknown(r.Org),
	}
	if info.Timezone == "" {
		info.Timezone = "UTC"
	}
	info.Latitude, info.Longitude = parseLoc(r.Loc)

	metrics.GeoLookups.WithLabelValues("ok").Inc()
	c.logger.DebugContext(ctx, "ip located", "ip", ip, "city", info.City, "country", info.Country)
	return info, nil
}

// Local describes an address that cannot be geolocated.
func Local(ip string) LocationInfo {
	return LocationInfo{
		IP:          ip,
		IsLocal:     true,
		City:        "Local Development",
		Region:      "Development",
		Country:     "XX",
		CountryName: "Local",
		Org:         "Development Environment",
		Timezone:    "UTC",
	}
}

// FirstIP returns the first address of a comma-separated forwarded list.
func FirstIP(s string) string {
	first, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(first)
}

// IsLocal reports whether ip is empty, localhost, or a loopback, private,
// link-local or unspecified address.
func IsLocal(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" || strings.EqualFold(ip, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

func parseLoc(loc string) (lat, lon float64) {
	a, b, ok := strings.Cut(loc, ",")
	if !ok {
		return 0, 0
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0
	}
	return lat, lon
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
