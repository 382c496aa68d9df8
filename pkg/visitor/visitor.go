// Package visitor tracks site visits and collapses repeat visits into a single
// visitor record per fingerprint or session.
package visitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/visitorid/pkg/geo"
	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
	"github.com/codeGROOVE-dev/visitorid/pkg/store"
)

// Collection names.
const (
	VisitorsCollection = "visitors"
	SessionsCollection = "sessions"
)

// Track statuses.
const (
	StatusCreated  = "created"
	StatusExisting = "existing"
)

// ErrSessionRequired is returned when a visit carries no session id.
var ErrSessionRequired = errors.New("session id required")

// Visit is a single page view reported by a browser.
type Visit struct {
	SessionID   string
	Fingerprint string
	ServerIP    string
	ClientIP    string
	UserAgent   string
	Page        string
	Referrer    string
}

// TrackResult reports what Track did with a visit.
type TrackResult struct {
	Location  *geo.LocationInfo
	Status    string
	SessionID string
	VisitorID string
	IP        string
}

// Record is a stored visitor.
type Record struct {
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	IdentifiedAt *time.Time        `json:"identified_at,omitempty"`
	Geo          *geo.LocationInfo `json:"geo,omitempty"`
	LinkedIn     *profile.Resolved `json:"linkedin,omitempty"`
	Client
	ID                  string `json:"_id,omitempty"`
	SessionID           string `json:"session_id"`
	Fingerprint         string `json:"fingerprint,omitempty"`
	IP                  string `json:"ip_address"`
	ClientIP            string `json:"client_reported_ip,omitempty"`
	UserAgent           string `json:"user_agent_raw,omitempty"`
	Page                string `json:"page,omitempty"`
	Referrer            string `json:"referrer,omitempty"`
	FirstName           string `json:"first_name,omitempty"`
	MiddleName          string `json:"middle_name,omitempty"`
	LastName            string `json:"last_name,omitempty"`
	Email               string `json:"email,omitempty"`
	Organization        string `json:"organization,omitempty"`
	NotableOrganization string `json:"notable_organization,omitempty"`
	VisitCount          int    `json:"visit_count"`
}

type options struct {
	logger *slog.Logger
	geo    geo.Resolver
	now    func() time.Time
	expiry time.Duration
}

// Option configures the services in this package.
type Option func(*options)

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGeo sets the resolver used to locate new visitors.
func WithGeo(r geo.Resolver) Option {
	return func(o *options) { o.geo = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSessionExpiry sets how long a session stays valid after creation.
func WithSessionExpiry(d time.Duration) Option {
	return func(o *options) { o.expiry = d }
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		expiry: DefaultSessionExpiry,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Deduplicator decides whether a visit creates a new visitor record.
type Deduplicator struct {
	store    store.DocumentStore
	sessions *Sessions
	geo      geo.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeduplicator creates a Deduplicator and ensures the fingerprint index exists.
func NewDeduplicator(ctx context.Context, st store.DocumentStore, sessions *Sessions, opts ...Option) (*Deduplicator, error) {
	o := buildOptions(opts)
	if err := st.EnsureUniqueIndex(ctx, VisitorsCollection, "fingerprint"); err != nil {
		return nil, fmt.Errorf("fingerprint index: %w", err)
	}
	return &Deduplicator{
		store:    st,
		sessions: sessions,
		geo:      o.geo,
		logger:   o.logger,
		now:      o.now,
	}, nil
}

// Track records a visit. A known fingerprint or an already tracked session
// reports StatusExisting; otherwise a visitor record is created. Two first
// visits racing with the same fingerprint produce one record: the loser's
// insert is turned into an update of the winner's record.
func (d *Deduplicator) Track(ctx context.Context, v Visit) (TrackResult, error) {
	if v.SessionID == "" {
		return TrackResult{}, ErrSessionRequired
	}
	ip := EffectiveIP(v.ServerIP, v.ClientIP)
	res := TrackResult{SessionID: v.SessionID, IP: ip}

	sess, _, err := d.sessions.CreateOrGet(ctx, v.SessionID, ip, v.UserAgent)
	if err != nil {
		return TrackResult{}, err
	}
	if v.Page != "" {
		if err := d.sessions.addPage(ctx, v.SessionID, v.Page, false); err != nil {
			return TrackResult{}, err
		}
	}

	if v.Fingerprint != "" {
		doc, err := d.store.FindOne(ctx, VisitorsCollection, store.Filter{"fingerprint": v.Fingerprint})
		switch {
		case err == nil:
			return d.revisit(ctx, res, doc)
		case !errors.Is(err, store.ErrNotFound):
			return TrackResult{}, fmt.Errorf("find visitor: %w", err)
		}
	}

	if sess.IsTracked {
		d.logger.DebugContext(ctx, "session already tracked", "session", v.SessionID)
		res.Status = StatusExisting
		res.VisitorID = sess.VisitorID
		metrics.VisitorsTracked.WithLabelValues(StatusExisting).Inc()
		return res, nil
	}

	rec := d.newRecord(ctx, v, ip)
	doc, err := store.Encode(rec)
	if err != nil {
		return TrackResult{}, err
	}
	id, err := d.store.InsertOne(ctx, VisitorsCollection, doc)
	if errors.Is(err, store.ErrDuplicateKey) && v.Fingerprint != "" {
		d.logger.DebugContext(ctx, "concurrent first visit, updating existing record", "fingerprint", v.Fingerprint)
		existing, err := d.store.FindOne(ctx, VisitorsCollection, store.Filter{"fingerprint": v.Fingerprint})
		if err != nil {
			return TrackResult{}, fmt.Errorf("find visitor after conflict: %w", err)
		}
		return d.revisit(ctx, res, existing)
	}
	if err != nil {
		return TrackResult{}, fmt.Errorf("insert visitor: %w", err)
	}

	if err := d.sessions.MarkTracked(ctx, v.SessionID, id); err != nil {
		return TrackResult{}, err
	}
	d.logger.InfoContext(ctx, "new visitor tracked", "session", v.SessionID, "visitor", id, "ip", ip)
	metrics.VisitorsTracked.WithLabelValues(StatusCreated).Inc()

	res.Status = StatusCreated
	res.VisitorID = id
	res.Location = rec.Geo
	return res, nil
}

// revisit bumps an existing record and ties the session to it.
func (d *Deduplicator) revisit(ctx context.Context, res TrackResult, doc store.Document) (TrackResult, error) {
	id := doc.ID()
	err := d.store.UpdateOne(ctx, VisitorsCollection, store.Filter{store.IDField: id}, store.Update{
		Set: map[string]any{"last_seen": d.now()},
		Inc: map[string]int64{"visit_count": 1},
	})
	if err != nil {
		return TrackResult{}, fmt.Errorf("update visitor: %w", err)
	}
	if err := d.sessions.MarkTracked(ctx, res.SessionID, id); err != nil {
		return TrackResult{}, err
	}

	var rec Record
	if err := store.Decode(doc, &rec); err != nil {
		return TrackResult{}, err
	}
	metrics.VisitorsTracked.WithLabelValues(StatusExisting).Inc()
	res.Status = StatusExisting
	res.VisitorID = id
	res.Location = rec.Geo
	return res, nil
}

func (d *Deduplicator) newRecord(ctx context.Context, v Visit, ip string) Record {
	now := d.now()
	rec := Record{
		SessionID:   v.SessionID,
		Fingerprint: v.Fingerprint,
		IP:          ip,
		ClientIP:    v.ClientIP,
		UserAgent:   v.UserAgent,
		Client:      ParseUserAgent(v.UserAgent),
		Page:        v.Page,
		Referrer:    v.Referrer,
		FirstSeen:   now,
		LastSeen:    now,
		VisitCount:  1,
	}
	if rec.Referrer == "" {
		rec.Referrer = "direct"
	}
	if d.geo == nil {
		return rec
	}
	loc, err := d.geo.Resolve(ctx, ip)
	if err != nil {
		d.logger.WarnContext(ctx, "geolocation failed", "ip", ip, "error", err)
		return rec
	}
	rec.Geo = &loc
	return rec
}

// Find returns the visitor record with id.
func (d *Deduplicator) Find(ctx context.Context, id string) (Record, error) {
	doc, err := d.store.FindOne(ctx, VisitorsCollection, store.Filter{store.IDField: id})
	if err != nil {
		return Record{}, fmt.Errorf("find visitor %s: %w", id, err)
	}
	var rec Record
	if err := store.Decode(doc, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
