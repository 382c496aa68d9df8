// Package api exposes visit tracking, identification, sessions and geolocation over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeGROOVE-dev/visitorid/pkg/geo"
	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
	"github.com/codeGROOVE-dev/visitorid/pkg/visitor"
)

const maxRequestBody = 64 << 10

// Server serves the HTTP API.
type Server struct {
	dedup      *visitor.Deduplicator
	sessions   *visitor.Sessions
	identifier *visitor.Identifier
	geo        geo.Resolver
	logger     *slog.Logger
	validate   *validator.Validate
	rateLimit  int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimit limits each client IP to n API requests per minute. 0 disables limiting.
func WithRateLimit(n int) Option {
	return func(s *Server) { s.rateLimit = n }
}

// New creates a Server.
func New(dedup *visitor.Deduplicator, sessions *visitor.Sessions, identifier *visitor.Identifier, g geo.Resolver, opts ...Option) *Server {
	s := &Server{
		dedup:      dedup,
		sessions:   sessions,
		identifier: identifier,
		geo:        g,
		logger:     slog.Default(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return ClientIP(r), nil }),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "too many requests")
				}),
			))
		}
		r.Post("/visitors/track", s.track)
		r.Post("/visitors/identify", s.identify)
		r.Post("/session/validate", s.validateSession)
		r.Post("/session/track-page", s.trackPage)
		r.Get("/geo/my-ip", s.myIP)
		r.Post("/geo/lookup", s.lookup)
	})
	return r
}

// instrument records request counts and latency by route pattern.
func (*Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}

type trackRequest struct {
	SessionID   string `json:"session_id" validate:"max=128"`
	Fingerprint string `json:"fingerprint" validate:"max=256"`
	ClientIP    string `json:"client_ip" validate:"max=256"`
	Page        string `json:"page" validate:"max=512"`
	Referrer    string `json:"referrer" validate:"max=2048"`
}

func (t trackRequest) visit(r *http.Request) visitor.Visit {
	if t.SessionID == "" {
		t.SessionID = uuid.NewString()
	}
	return visitor.Visit{
		SessionID:   t.SessionID,
		Fingerprint: t.Fingerprint,
		ServerIP:    ClientIP(r),
		ClientIP:    t.ClientIP,
		UserAgent:   r.UserAgent(),
		Page:        t.Page,
		Referrer:    t.Referrer,
	}
}

type location struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type trackResponse struct {
	Location  *location `json:"location,omitempty"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id"`
	VisitorID string    `json:"visitor_id"`
	IP        string    `json:"ip"`
}

func (s *Server) track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.dedup.Track(r.Context(), req.visit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := trackResponse{Status: res.Status, SessionID: res.SessionID, VisitorID: res.VisitorID, IP: res.IP}
	if res.Location != nil {
		resp.Location = &location{City: res.Location.City, Country: res.Location.CountryName}
	}
	writeJSON(w, http.StatusOK, resp)
}

type identifyRequest struct {
	FirstName  string `json:"first_name" validate:"required,max=50"`
	MiddleName string `json:"middle_name" validate:"max=50"`
	LastName   string `json:"last_name" validate:"required,max=50"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
	ProfileURL string `json:"linkedin_url" validate:"max=512"`
	trackRequest
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.identifier.Identify(r.Context(), visitor.Identification{
		Visit:      req.visit(r),
		Name:       profile.PersonName{First: req.FirstName, Middle: req.MiddleName, Last: req.LastName},
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		ProfileURL: req.ProfileURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

type sessionRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	Page      string `json:"page" validate:"max=512"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	PageViews int    `json:"page_views"`
	Valid     bool   `json:"valid"`
	IsNew     bool   `json:"is_new"`
	IsTracked bool   `json:"is_tracked"`
}

func (s *Server) validateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, isNew, err := s.sessions.CreateOrGet(r.Context(), req.SessionID, ClientIP(r), r.UserAgent())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: req.SessionID,
		PageViews: sess.PageViews,
		Valid:     true,
		IsNew:     isNew,
		IsTracked: sess.IsTracked,
	})
}

func (s *Server) trackPage(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	page := req.Page
	if page == "" {
		page = "unknown"
	}
	if err := s.sessions.AddPageVisit(r.Context(), req.SessionID, page); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) myIP(w http.ResponseWriter, r *http.Request) {
	s.locate(w, r, ClientIP(r))
}

type lookupRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.locate(w, r, req.IP)
}

func (s *Server) locate(w http.ResponseWriter, r *http.Request, ip string) {
	loc, err := s.geo.Resolve(r.Context(), ip)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// decode reads and validates a JSON body, writing a 400 response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, visitor.ErrSessionRequired), errors.Is(err, profile.ErrInvalidName), errors.Is(err, geo.ErrInvalidIP):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, profile.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "upstream rate limit exceeded")
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ClientIP returns the first X-Forwarded-For entry, or the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := geo.FirstIP(xff); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
