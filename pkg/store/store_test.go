package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func implementations(t *testing.T) map[string]func(t *testing.T) DocumentStore {
	t.Helper()
	return map[string]func(t *testing.T) DocumentStore{
		"memory": func(t *testing.T) DocumentStore {
			t.Helper()
			return NewMemory()
		},
		"badger": func(t *testing.T) DocumentStore {
			t.Helper()
			s, err := OpenBadger("")
			if err != nil {
				t.Fatalf("OpenBadger() error = %v", err)
			}
			t.Cleanup(func() { _ = s.Close() }) //nolint:errcheck // test cleanup
			return s
		},
	}
}

// number normalizes numeric fields: the memory store keeps Go ints, Badger round-trips through JSON.
func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return -1
	}
}

func mustInsert(ctx context.Context, t *testing.T, s DocumentStore, collection string, doc Document) string {
	t.Helper()
	id, err := s.InsertOne(ctx, collection, doc)
	if err != nil {
		t.Fatalf("InsertOne(%s, %v) error = %v", collection, doc, err)
	}
	return id
}

func mustFind(ctx context.Context, t *testing.T, s DocumentStore, collection string, f Filter) Document {
	t.Helper()
	doc, err := s.FindOne(ctx, collection, f)
	if err != nil {
		t.Fatalf("FindOne(%s, %v) error = %v", collection, f, err)
	}
	return doc
}

func mustUpdate(ctx context.Context, t *testing.T, s DocumentStore, collection string, f Filter, u Update) {
	t.Helper()
	if err := s.UpdateOne(ctx, collection, f, u); err != nil {
		t.Fatalf("UpdateOne(%s, %v) error = %v", collection, f, err)
	}
}

func TestInsertAndFind(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			id := mustInsert(ctx, t, s, "visitors", Document{"session_id": "s1", "visit_count": 1})
			if id == "" {
				t.Fatal("InsertOne() returned an empty id")
			}

			got := mustFind(ctx, t, s, "visitors", Filter{IDField: id})
			if got.ID() != id || got["session_id"] != "s1" || number(got["visit_count"]) != 1 {
				t.Errorf("FindOne(by id) = %v, want id %s, session s1, visit_count 1", got, id)
			}

			if got := mustFind(ctx, t, s, "visitors", Filter{"session_id": "s1"}); got.ID() != id {
				t.Errorf("FindOne(by field) id = %s, want %s", got.ID(), id)
			}

			if _, err := s.FindOne(ctx, "visitors", Filter{"session_id": "nope"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("FindOne(missing) error = %v, want ErrNotFound", err)
			}
			if _, err := s.FindOne(ctx, "sessions", Filter{"session_id": "s1"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("FindOne(other collection) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestInsertExplicitIDTwice(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			mustInsert(ctx, t, s, "c", Document{IDField: "fixed"})
			if _, err := s.InsertOne(ctx, "c", Document{IDField: "fixed"}); !errors.Is(err, ErrDuplicateKey) {
				t.Errorf("second InsertOne() error = %v, want ErrDuplicateKey", err)
			}
		})
	}
}

func TestUniqueIndex(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for range 2 {
				if err := s.EnsureUniqueIndex(ctx, "visitors", "fingerprint"); err != nil {
					t.Fatalf("EnsureUniqueIndex() error = %v", err)
				}
			}

			first := mustInsert(ctx, t, s, "visitors", Document{"fingerprint": "fp-1"})
			if _, err := s.InsertOne(ctx, "visitors", Document{"fingerprint": "fp-1"}); !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("duplicate InsertOne() error = %v, want ErrDuplicateKey", err)
			}

			// Sparse: documents without the field never collide.
			mustInsert(ctx, t, s, "visitors", Document{"session_id": "a"})
			mustInsert(ctx, t, s, "visitors", Document{"session_id": "b", "fingerprint": ""})
			mustInsert(ctx, t, s, "visitors", Document{"session_id": "c", "fingerprint": ""})

			second := mustInsert(ctx, t, s, "visitors", Document{"fingerprint": "fp-2"})
			err := s.UpdateOne(ctx, "visitors", Filter{IDField: second}, Update{Set: map[string]any{"fingerprint": "fp-1"}})
			if !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("UpdateOne(to taken value) error = %v, want ErrDuplicateKey", err)
			}

			// Moving a value frees the old one.
			mustUpdate(ctx, t, s, "visitors", Filter{IDField: first}, Update{Set: map[string]any{"fingerprint": "fp-3"}})
			mustUpdate(ctx, t, s, "visitors", Filter{IDField: second}, Update{Set: map[string]any{"fingerprint": "fp-1"}})

			if got := mustFind(ctx, t, s, "visitors", Filter{"fingerprint": "fp-1"}); got.ID() != second {
				t.Errorf("fp-1 owner = %s, want %s", got.ID(), second)
			}
		})
	}
}

func TestEnsureUniqueIndexRejectsExistingDuplicates(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for range 2 {
				mustInsert(ctx, t, s, "sessions", Document{"session_id": "dup"})
			}
			if err := s.EnsureUniqueIndex(ctx, "sessions", "session_id"); !errors.Is(err, ErrDuplicateKey) {
				t.Errorf("EnsureUniqueIndex() error = %v, want ErrDuplicateKey", err)
			}
		})
	}
}

func TestUpdateOperators(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			id := mustInsert(ctx, t, s, "sessions", Document{"session_id": "s", "page_views": 0})

			now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			for _, page := range []string{"/", "/about", "/"} {
				mustUpdate(ctx, t, s, "sessions", Filter{"session_id": "s"}, Update{
					Set:      map[string]any{"last_activity": now},
					Inc:      map[string]int64{"page_views": 1},
					AddToSet: map[string]any{"pages_visited": page},
				})
			}
			mustUpdate(ctx, t, s, "sessions", Filter{IDField: id}, Update{Inc: map[string]int64{"fresh": 2}})

			type session struct {
				LastActivity time.Time `json:"last_activity"`
				SessionID    string    `json:"session_id"`
				Pages        []string  `json:"pages_visited"`
				PageViews    int       `json:"page_views"`
				Fresh        int       `json:"fresh"`
			}
			var got session
			if err := Decode(mustFind(ctx, t, s, "sessions", Filter{IDField: id}), &got); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			want := session{LastActivity: now, SessionID: "s", Pages: []string{"/", "/about"}, PageViews: 3, Fresh: 2}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("session mismatch (-want +got):\n%s", diff)
			}

			err := s.UpdateOne(ctx, "sessions", Filter{"session_id": "missing"}, Update{Inc: map[string]int64{"page_views": 1}})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("UpdateOne(missing) error = %v, want ErrNotFound", err)
			}
			if err := s.UpdateOne(ctx, "sessions", Filter{IDField: id}, Update{Inc: map[string]int64{"session_id": 1}}); err == nil {
				t.Error("UpdateOne() incrementing a string field succeeded")
			}
		})
	}
}

func TestUpdateCannotChangeID(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			id := mustInsert(ctx, t, s, "c", Document{"a": 1})
			mustUpdate(ctx, t, s, "c", Filter{IDField: id}, Update{Set: map[string]any{IDField: "other", "a": 2}})

			if doc := mustFind(ctx, t, s, "c", Filter{IDField: id}); number(doc["a"]) != 2 {
				t.Errorf("a = %v, want 2", doc["a"])
			}
		})
	}
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			id := mustInsert(ctx, t, s, "c", Document{"a": "x"})

			doc := mustFind(ctx, t, s, "c", Filter{IDField: id})
			doc["a"] = "mutated"

			if doc := mustFind(ctx, t, s, "c", Filter{IDField: id}); doc["a"] != "x" {
				t.Errorf("a = %v after mutating a returned copy, want x", doc["a"])
			}
		})
	}
}

func TestConcurrentDuplicateInserts(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			if err := s.EnsureUniqueIndex(ctx, "visitors", "fingerprint"); err != nil {
				t.Fatalf("EnsureUniqueIndex() error = %v", err)
			}

			const workers = 16
			var wg sync.WaitGroup
			var mu sync.Mutex
			var created, duplicates int
			var unexpected []error

			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.InsertOne(ctx, "visitors", Document{"fingerprint": "same", "worker": i})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						created++
					case errors.Is(err, ErrDuplicateKey):
						duplicates++
					default:
						unexpected = append(unexpected, err)
					}
				}()
			}
			wg.Wait()

			if len(unexpected) > 0 {
				t.Fatalf("unexpected insert errors: %v", unexpected)
			}
			if created != 1 || duplicates != workers-1 {
				t.Errorf("created = %d, duplicates = %d; want 1 and %d", created, duplicates, workers-1)
			}
		})
	}
}

func TestBadgerPersistsIndexes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	if err := s.EnsureUniqueIndex(ctx, "visitors", "fingerprint"); err != nil {
		t.Fatalf("EnsureUniqueIndex() error = %v", err)
	}
	mustInsert(ctx, t, s, "visitors", Document{"fingerprint": "fp"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close() //nolint:errcheck // test cleanup

	if _, err := s.InsertOne(ctx, "visitors", Document{"fingerprint": "fp"}); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("InsertOne() after reopen error = %v, want ErrDuplicateKey", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	type rec struct {
		ID    string   `json:"_id,omitempty"`
		Name  string   `json:"name"`
		Tags  []string `json:"tags"`
		Count int      `json:"count"`
	}
	in := rec{Name: "n", Tags: []string{"a"}, Count: 3}
	doc, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, ok := doc[IDField]; ok {
		t.Errorf("Encode() kept an empty %s", IDField)
	}

	var back rec
	if err := Decode(doc, &back); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := Encode(map[string]any{"bad": func() {}}); err == nil {
		t.Error("Encode() of a func succeeded")
	}
}
