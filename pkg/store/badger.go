package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/visitorid/pkg/metrics"
)

// Key layout:
//
//	doc/<collection>/<id>             -> JSON document
//	idx/<collection>/<field>/<value>  -> id
//	meta/unique/<collection>/<field>  -> empty
const (
	docPrefix    = "doc/"
	idxPrefix    = "idx/"
	uniquePrefix = "meta/unique/"
)

// conflictAttempts bounds retries of transactions that lost a write race.
const conflictAttempts = 8

var _ DocumentStore = (*Badger)(nil)

// Badger is a DocumentStore backed by BadgerDB.
// Unique indexes are enforced inside the same transaction as the document
// write, so of two racing inserts exactly one commits and the other observes
// the duplicate on retry.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
	unique map[string][]string // collection -> indexed fields
	mu     sync.RWMutex
}

// BadgerOption configures a Badger store.
type BadgerOption func(*Badger)

// WithStoreLogger sets a logger for the store.
func WithStoreLogger(logger *slog.Logger) BadgerOption {
	return func(b *Badger) { b.logger = logger }
}

// OpenBadger opens (or creates) a BadgerDB at dir. An empty dir opens an in-memory database.
func OpenBadger(dir string, opts ...BadgerOption) (*Badger, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b, err := NewBadger(db, opts...)
	if err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return b, nil
}

// NewBadger wraps an open database and loads its unique index definitions.
func NewBadger(db *badger.DB, opts ...BadgerOption) (*Badger, error) {
	b := &Badger{db: db, logger: slog.Default(), unique: make(map[string][]string)}
	for _, opt := range opts {
		opt(b)
	}

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(uniquePrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), uniquePrefix)
			collection, field, ok := strings.Cut(rest, "/")
			if ok {
				b.unique[collection] = append(b.unique[collection], field)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load indexes: %w", err)
	}
	return b, nil
}

func docKey(collection, id string) []byte {
	return []byte(docPrefix + collection + "/" + id)
}

func idxKey(collection, field, value string) []byte {
	return []byte(idxPrefix + collection + "/" + field + "/" + value)
}

func (b *Badger) fields(collection string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.unique[collection]...)
}

// EnsureUniqueIndex declares a sparse unique index on field and indexes existing documents.
func (b *Badger) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.unique[collection] {
		if f == field {
			return nil
		}
	}

	err := b.update(ctx, collection, func(txn *badger.Txn) error {
		docs, err := scan(txn, collection)
		if err != nil {
			return err
		}
		for _, d := range docs {
			key := indexKey(d[field])
			if key == "" {
				continue
			}
			ik := idxKey(collection, field, key)
			if owner, err := getString(txn, ik); err == nil && owner != d.ID() {
				return fmt.Errorf("index %s.%s: %w", collection, field, ErrDuplicateKey)
			}
			if err := txn.Set(ik, []byte(d.ID())); err != nil {
				return err
			}
		}
		return txn.Set([]byte(uniquePrefix+collection+"/"+field), nil)
	})
	if err != nil {
		return err
	}
	b.unique[collection] = append(b.unique[collection], field)
	return nil
}

// FindOne returns a document matching filter. Lookups by id or by a
// uniquely indexed field avoid a collection scan.
func (b *Badger) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	f, err := prepareFilter(filter)
	if err != nil {
		return nil, err
	}
	var out Document
	err = b.db.View(func(txn *badger.Txn) error {
		d, err := b.find(txn, collection, f)
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) find(txn *badger.Txn, collection string, f Filter) (Document, error) {
	if id, ok := f[IDField].(string); ok {
		return matchOne(txn, collection, id, f)
	}
	for _, field := range b.fields(collection) {
		v, ok := f[field]
		if !ok {
			continue
		}
		key := indexKey(v)
		if key == "" {
			break
		}
		id, err := getString(txn, idxKey(collection, field, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return matchOne(txn, collection, id, f)
	}

	docs, err := scan(txn, collection)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if matches(d, f) {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func matchOne(txn *badger.Txn, collection, id string, f Filter) (Document, error) {
	d, err := getDoc(txn, collection, id)
	if err != nil {
		return nil, err
	}
	if !matches(d, f) {
		return nil, ErrNotFound
	}
	return d, nil
}

// InsertOne stores doc and returns its id, generating one when doc has none.
func (b *Badger) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	norm, err := normalize(doc)
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	d := Document(norm)
	if d == nil {
		d = Document{}
	}
	id := d.ID()
	if id == "" {
		id = uuid.NewString()
		d[IDField] = id
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	fields := b.fields(collection)

	err = b.update(ctx, collection, func(txn *badger.Txn) error {
		dk := docKey(collection, id)
		if _, err := txn.Get(dk); err == nil {
			return fmt.Errorf("insert %s %s: %w", collection, id, ErrDuplicateKey)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		for _, field := range fields {
			key := indexKey(d[field])
			if key == "" {
				continue
			}
			ik := idxKey(collection, field, key)
			if _, err := txn.Get(ik); err == nil {
				return fmt.Errorf("insert %s: %s %q: %w", collection, field, key, ErrDuplicateKey)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(ik, []byte(id)); err != nil {
				return err
			}
		}
		return txn.Set(dk, data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateOne applies update to a document matching filter.
func (b *Badger) UpdateOne(ctx context.Context, collection string, filter Filter, update Update) error {
	f, err := prepareFilter(filter)
	if err != nil {
		return err
	}
	fields := b.fields(collection)

	return b.update(ctx, collection, func(txn *badger.Txn) error {
		cur, err := b.find(txn, collection, f)
		if err != nil {
			return err
		}
		next, err := apply(cur, update)
		if err != nil {
			return fmt.Errorf("update %s: %w", collection, err)
		}
		id := cur.ID()

		for _, field := range fields {
			oldKey, newKey := indexKey(cur[field]), indexKey(next[field])
			if oldKey == newKey {
				continue
			}
			if newKey != "" {
				ik := idxKey(collection, field, newKey)
				if owner, err := getString(txn, ik); err == nil && owner != id {
					return fmt.Errorf("update %s: %s %q: %w", collection, field, newKey, ErrDuplicateKey)
				}
				if err := txn.Set(ik, []byte(id)); err != nil {
					return err
				}
			}
			if oldKey != "" {
				if err := txn.Delete(idxKey(collection, field, oldKey)); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("update %s: %w", collection, err)
		}
		return txn.Set(docKey(collection, id), data)
	})
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// update runs fn in a read-write transaction, retrying when it loses a race to a concurrent writer.
func (b *Badger) update(ctx context.Context, collection string, fn func(txn *badger.Txn) error) error {
	var last error
	err := retry.Do(
		func() error {
			last = b.db.Update(fn)
			return last
		},
		retry.Context(ctx),
		retry.Attempts(conflictAttempts),
		retry.Delay(2*time.Millisecond),
		retry.MaxJitter(5*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, badger.ErrConflict) }),
		retry.OnRetry(func(n uint, err error) {
			metrics.StoreConflicts.WithLabelValues(collection).Inc()
			b.logger.DebugContext(ctx, "retrying store transaction", "collection", collection, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}

func getDoc(txn *badger.Txn, collection, id string) (Document, error) {
	item, err := txn.Get(docKey(collection, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	var d Document
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &d)
	})
	return d, err
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

func scan(txn *badger.Txn, collection string) ([]Document, error) {
	prefix := []byte(docPrefix + collection + "/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var docs []Document
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var d Document
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		}); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}
