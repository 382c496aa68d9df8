package visitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/visitorid/pkg/geo"
	"github.com/codeGROOVE-dev/visitorid/pkg/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGeo struct {
	err   error
	calls atomic.Int32
}

func (f *fakeGeo) Resolve(_ context.Context, ip string) (geo.LocationInfo, error) {
	f.calls.Add(1)
	if f.err != nil {
		return geo.LocationInfo{}, f.err
	}
	return geo.LocationInfo{IP: ip, City: "Tempe", Region: "Arizona", Country: "US", CountryName: "United States"}, nil
}

func stores(t *testing.T) map[string]store.DocumentStore {
	t.Helper()
	b, err := store.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() }) //nolint:errcheck // test cleanup
	return map[string]store.DocumentStore{"memory": store.NewMemory(), "badger": b}
}

func newDeduplicator(t *testing.T, st store.DocumentStore, opts ...Option) (*Deduplicator, *Sessions) {
	t.Helper()
	ctx := context.Background()
	sessions, err := NewSessions(ctx, st, opts...)
	if err != nil {
		t.Fatalf("NewSessions() error = %v", err)
	}
	d, err := NewDeduplicator(ctx, st, sessions, opts...)
	if err != nil {
		t.Fatalf("NewDeduplicator() error = %v", err)
	}
	return d, sessions
}

func track(ctx context.Context, t *testing.T, d *Deduplicator, v Visit) TrackResult {
	t.Helper()
	res, err := d.Track(ctx, v)
	if err != nil {
		t.Fatalf("Track(%+v) error = %v", v, err)
	}
	return res
}

func find(ctx context.Context, t *testing.T, d *Deduplicator, id string) Record {
	t.Helper()
	rec, err := d.Find(ctx, id)
	if err != nil {
		t.Fatalf("Find(%s) error = %v", id, err)
	}
	return rec
}

func TestTrackRequiresSession(t *testing.T) {
	d, _ := newDeduplicator(t, store.NewMemory())
	if _, err := d.Track(context.Background(), Visit{Fingerprint: "fp"}); !errors.Is(err, ErrSessionRequired) {
		t.Errorf("Track() error = %v, want ErrSessionRequired", err)
	}
}

func TestTrackNewVisitor(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := &fakeGeo{}
			clk := newClock()
			d, sessions := newDeduplicator(t, st, WithGeo(g), WithClock(clk.Now))

			res := track(ctx, t, d, Visit{
				SessionID:   "s1",
				Fingerprint: "fp1",
				ServerIP:    "127.0.0.1",
				ClientIP:    "8.8.8.8",
				UserAgent:   "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:50.0) Gecko/20100101 Firefox/50.0",
				Page:        "/projects",
			})
			if res.Status != StatusCreated || res.IP != "8.8.8.8" {
				t.Errorf("Track() = %+v, want created for 8.8.8.8", res)
			}
			if res.Location == nil || res.Location.City != "Tempe" {
				t.Errorf("Track() location = %+v, want Tempe", res.Location)
			}

			rec := find(ctx, t, d, res.VisitorID)
			if rec.Fingerprint != "fp1" || rec.Browser != "Firefox" || rec.Device != DeviceDesktop {
				t.Errorf("record client = %q %q %q, want fp1 Firefox desktop", rec.Fingerprint, rec.Browser, rec.Device)
			}
			if rec.Referrer != "direct" || rec.VisitCount != 1 {
				t.Errorf("record referrer = %q, visit_count = %d; want direct and 1", rec.Referrer, rec.VisitCount)
			}
			if !rec.FirstSeen.Equal(clk.Now()) {
				t.Errorf("first_seen = %v, want %v", rec.FirstSeen, clk.Now())
			}

			sess, ok, err := sessions.Validate(ctx, "s1")
			if err != nil || !ok {
				t.Fatalf("Validate() = %v, %v; want session", ok, err)
			}
			if !sess.IsTracked || sess.VisitorID != res.VisitorID || sess.PageViews != 1 {
				t.Errorf("session = %+v, want tracked for %s with 1 view", sess, res.VisitorID)
			}
			if diff := cmp.Diff([]string{"/projects"}, sess.PagesVisited); diff != "" {
				t.Errorf("pages_visited mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrackKnownFingerprint(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := &fakeGeo{}
			clk := newClock()
			d, sessions := newDeduplicator(t, st, WithGeo(g), WithClock(clk.Now))

			first := track(ctx, t, d, Visit{SessionID: "s1", Fingerprint: "fp", ServerIP: "8.8.8.8"})

			clk.Advance(time.Hour)
			// A different browser session with the same fingerprint.
			second := track(ctx, t, d, Visit{SessionID: "s2", Fingerprint: "fp", ServerIP: "8.8.8.8"})
			if second.Status != StatusExisting || second.VisitorID != first.VisitorID {
				t.Errorf("second Track() = %+v, want existing %s", second, first.VisitorID)
			}
			if n := g.calls.Load(); n != 1 {
				t.Errorf("geolocation calls = %d, want 1 (new records only)", n)
			}

			rec := find(ctx, t, d, first.VisitorID)
			if rec.VisitCount != 2 || !rec.LastSeen.Equal(clk.Now()) {
				t.Errorf("record visit_count = %d, last_seen = %v; want 2 at %v", rec.VisitCount, rec.LastSeen, clk.Now())
			}

			tracked, err := sessions.ShouldTrack(ctx, "s2")
			if err != nil {
				t.Fatalf("ShouldTrack() error = %v", err)
			}
			if tracked {
				t.Error("ShouldTrack(s2) = true after the fingerprint matched")
			}
		})
	}
}

func TestTrackSessionDedup(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d, _ := newDeduplicator(t, st)

			first := track(ctx, t, d, Visit{SessionID: "s1", ServerIP: "8.8.8.8"})
			if first.Status != StatusCreated {
				t.Errorf("first Track() status = %s, want %s", first.Status, StatusCreated)
			}
			second := track(ctx, t, d, Visit{SessionID: "s1", ServerIP: "8.8.8.8", Page: "/about"})
			if second.Status != StatusExisting || second.VisitorID != first.VisitorID {
				t.Errorf("second Track() = %+v, want existing %s", second, first.VisitorID)
			}
		})
	}
}

func TestTrackGeoFailureIsBestEffort(t *testing.T) {
	d, _ := newDeduplicator(t, store.NewMemory(), WithGeo(&fakeGeo{err: errors.New("boom")}))
	res := track(context.Background(), t, d, Visit{SessionID: "s", ServerIP: "8.8.8.8"})
	if res.Status != StatusCreated || res.Location != nil {
		t.Errorf("Track() = %+v, want created without location", res)
	}
}

func TestTrackConcurrentFirstVisits(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d, _ := newDeduplicator(t, st)

			const workers = 12
			results := make([]TrackResult, workers)
			errs := make([]error, workers)
			var wg sync.WaitGroup
			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i], errs[i] = d.Track(ctx, Visit{
						SessionID:   fmt.Sprintf("session-%d", i),
						Fingerprint: "shared",
						ServerIP:    "8.8.8.8",
					})
				}()
			}
			wg.Wait()

			created := 0
			ids := make(map[string]bool)
			for i := range workers {
				if errs[i] != nil {
					t.Fatalf("worker %d: Track() error = %v", i, errs[i])
				}
				if results[i].Status == StatusCreated {
					created++
				}
				ids[results[i].VisitorID] = true
			}
			if created != 1 || len(ids) != 1 {
				t.Errorf("created = %d across %d visitor ids, want 1 and 1", created, len(ids))
			}

			if rec := find(ctx, t, d, results[0].VisitorID); rec.VisitCount != workers {
				t.Errorf("visit_count = %d, want %d", rec.VisitCount, workers)
			}
		})
	}
}

func TestEffectiveIP(t *testing.T) {
	tests := []struct {
		server, client, want string
	}{
		{"", "", "127.0.0.1"},
		{"9.9.9.9", "8.8.8.8", "9.9.9.9"},
		{"127.0.0.1", "8.8.8.8, 1.1.1.1", "8.8.8.8"},
		{"203.0.113.7, 10.0.0.1", "", "203.0.113.7"},
		{"::1", "127.0.0.1", "::1"},
		{"10.0.0.5", "", "10.0.0.5"},
		{"", "localhost", "127.0.0.1"},
	}
	for _, tt := range tests {
		if got := EffectiveIP(tt.server, tt.client); got != tt.want {
			t.Errorf("EffectiveIP(%q, %q) = %q, want %q", tt.server, tt.client, got, tt.want)
		}
	}
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want Client
	}{
		{
			name: "desktop firefox",
			ua:   "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:50.0) Gecko/20100101 Firefox/50.0",
			want: Client{Browser: "Firefox", BrowserVersion: "50.0", OS: "Ubuntu", Device: DeviceDesktop},
		},
		{
			name: "googlebot",
			ua:   "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			want: Client{Browser: "Googlebot", BrowserVersion: "2.1", Device: DeviceBot, Bot: true},
		},
		{name: "empty", ua: "", want: Client{}},
		{name: "unknown", ua: "unknown", want: Client{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserAgent(tt.ua)
			if tt.want.OS == "" {
				got.OS = ""
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseUserAgent() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if mobile := ParseUserAgent("Mozilla/5.0 (Android 7.0; Mobile; rv:60.0) Gecko/60.0 Firefox/60.0"); mobile.Device != DeviceMobile {
		t.Errorf("mobile device = %q, want %q", mobile.Device, DeviceMobile)
	}
}
