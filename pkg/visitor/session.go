package visitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/visitorid/pkg/store"
)

// DefaultSessionExpiry is how long a session stays valid after creation.
const DefaultSessionExpiry = 24 * time.Hour

// Session is a browsing session.
type Session struct {
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	TrackedAt    *time.Time `json:"tracked_at,omitempty"`
	ID           string     `json:"_id,omitempty"`
	SessionID    string     `json:"session_id"`
	IP           string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent,omitempty"`
	VisitorID    string     `json:"visitor_id,omitempty"`
	PagesVisited []string   `json:"pages_visited"`
	PageViews    int        `json:"page_views"`
	IsTracked    bool       `json:"is_tracked"`
}

// Sessions stores sessions in the sessions collection.
type Sessions struct {
	store  store.DocumentStore
	logger *slog.Logger
	now    func() time.Time
	expiry time.Duration
}

// NewSessions creates the session service and ensures session ids are unique.
func NewSessions(ctx context.Context, st store.DocumentStore, opts ...Option) (*Sessions, error) {
	o := buildOptions(opts)
	if err := st.EnsureUniqueIndex(ctx, SessionsCollection, "session_id"); err != nil {
		return nil, fmt.Errorf("session index: %w", err)
	}
	return &Sessions{store: st, logger: o.logger, now: o.now, expiry: o.expiry}, nil
}

func (s *Sessions) get(ctx context.Context, id string) (Session, error) {
	doc, err := s.store.FindOne(ctx, SessionsCollection, store.Filter{"session_id": id})
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := store.Decode(doc, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Sessions) live(sess Session) bool {
	return s.now().Before(sess.CreatedAt.Add(s.expiry))
}

// Validate returns the session if it exists and has not expired.
func (s *Sessions) Validate(ctx context.Context, id string) (Session, bool, error) {
	if id == "" {
		return Session{}, false, ErrSessionRequired
	}
	sess, err := s.get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("validate session: %w", err)
	}
	return sess, s.live(sess), nil
}

// CreateOrGet returns the live session with id, counting a page view, or
// creates it. The bool reports whether the session is new. An expired session
// is reset in place and reported as new.
func (s *Sessions) CreateOrGet(ctx context.Context, id, ip, userAgent string) (Session, bool, error) {
	if id == "" {
		return Session{}, false, ErrSessionRequired
	}
	now := s.now()

	sess, err := s.get(ctx, id)
	switch {
	case err == nil && s.live(sess):
		return s.touch(ctx, sess)
	case err == nil:
		return s.reset(ctx, id, ip, userAgent)
	case !errors.Is(err, store.ErrNotFound):
		return Session{}, false, fmt.Errorf("get session: %w", err)
	}

	sess = Session{
		SessionID:    id,
		IP:           ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		PageViews:    1,
		PagesVisited: []string{},
	}
	doc, err := store.Encode(sess)
	if err != nil {
		return Session{}, false, err
	}
	sess.ID, err = s.store.InsertOne(ctx, SessionsCollection, doc)
	if errors.Is(err, store.ErrDuplicateKey) {
		// Another request created it first.
		existing, err := s.get(ctx, id)
		if err != nil {
			return Session{}, false, fmt.Errorf("get session after conflict: %w", err)
		}
		return s.touch(ctx, existing)
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("create session: %w", err)
	}
	s.logger.InfoContext(ctx, "new session created", "session", id)
	return sess, true, nil
}

func (s *Sessions) touch(ctx context.Context, sess Session) (Session, bool, error) {
	now := s.now()
	err := s.store.UpdateOne(ctx, SessionsCollection, store.Filter{"session_id": sess.SessionID}, store.Update{
		Set: map[string]any{"last_activity": now},
		Inc: map[string]int64{"page_views": 1},
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("touch session: %w", err)
	}
	sess.LastActivity = now
	sess.PageViews++
	return sess, false, nil
}

func (s *Sessions) reset(ctx context.Context, id, ip, userAgent string) (Session, bool, error) {
	now := s.now()
	err := s.store.UpdateOne(ctx, SessionsCollection, store.Filter{"session_id": id}, store.Update{
		Set: map[string]any{
			"ip_address":    ip,
			"user_agent":    userAgent,
			"created_at":    now,
			"last_activity": now,
			"page_views":    1,
			"pages_visited": []string{},
			"is_tracked":    false,
			"tracked_at":    nil,
			"visitor_id":    nil,
		},
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("reset session: %w", err)
	}
	s.logger.InfoContext(ctx, "expired session restarted", "session", id)
	sess, err := s.get(ctx, id)
	if err != nil {
		return Session{}, false, fmt.Errorf("get session: %w", err)
	}
	return sess, true, nil
}

// ShouldTrack reports whether the session has not yet produced a visitor record.
func (s *Sessions) ShouldTrack(ctx context.Context, id string) (bool, error) {
	sess, err := s.get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	return !sess.IsTracked, nil
}

// MarkTracked ties the session to a visitor record.
func (s *Sessions) MarkTracked(ctx context.Context, id, visitorID string) error {
	err := s.store.UpdateOne(ctx, SessionsCollection, store.Filter{"session_id": id}, store.Update{
		Set: map[string]any{
			"is_tracked": true,
			"tracked_at": s.now(),
			"visitor_id": visitorID,
		},
	})
	if err != nil {
		return fmt.Errorf("mark session tracked: %w", err)
	}
	return nil
}

// AddPageVisit records a page view. Unknown sessions are ignored.
func (s *Sessions) AddPageVisit(ctx context.Context, id, page string) error {
	if id == "" {
		return ErrSessionRequired
	}
	return s.addPage(ctx, id, page, true)
}

func (s *Sessions) addPage(ctx context.Context, id, page string, count bool) error {
	u := store.Update{
		Set:      map[string]any{"last_activity": s.now()},
		AddToSet: map[string]any{"pages_visited": page},
	}
	if count {
		u.Inc = map[string]int64{"page_views": 1}
	}
	err := s.store.UpdateOne(ctx, SessionsCollection, store.Filter{"session_id": id}, u)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.DebugContext(ctx, "page visit for unknown session", "session", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("add page visit: %w", err)
	}
	return nil
}
