package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var _ DocumentStore = (*Memory)(nil)

// Memory is an in-process DocumentStore. It is safe for concurrent use.
type Memory struct {
	collections map[string]*memCollection
	mu          sync.Mutex
}

type memCollection struct {
	docs   map[string]Document
	unique map[string]map[string]string // field -> value -> id
	order  []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]Document), unique: make(map[string]map[string]string)}
		m.collections[name] = c
	}
	return c
}

// EnsureUniqueIndex adds a sparse unique index on field.
// It fails with ErrDuplicateKey if existing documents already collide.
func (m *Memory) EnsureUniqueIndex(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	if _, ok := c.unique[field]; ok {
		return nil
	}
	idx := make(map[string]string)
	for _, id := range c.order {
		key := indexKey(c.docs[id][field])
		if key == "" {
			continue
		}
		if _, dup := idx[key]; dup {
			return fmt.Errorf("index %s.%s: %w", collection, field, ErrDuplicateKey)
		}
		idx[key] = id
	}
	c.unique[field] = idx
	return nil
}

// FindOne returns the first document, in insertion order, matching filter.
func (m *Memory) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	f, err := prepareFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	if id, ok := f[IDField].(string); ok {
		if doc, ok := c.docs[id]; ok && matches(doc, f) {
			return clone(doc), nil
		}
		return nil, ErrNotFound
	}
	for _, id := range c.order {
		if doc := c.docs[id]; matches(doc, f) {
			return clone(doc), nil
		}
	}
	return nil, ErrNotFound
}

// InsertOne stores doc and returns its id, generating one when doc has none.
func (m *Memory) InsertOne(_ context.Context, collection string, doc Document) (string, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("insert %s %s: %w", collection, id, ErrDuplicateKey)
	}
	if err := c.checkUnique(d, ""); err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	c.docs[id] = d
	c.order = append(c.order, id)
	c.reindex(nil, d)
	return id, nil
}

// UpdateOne applies update to the first document matching filter.
func (m *Memory) UpdateOne(_ context.Context, collection string, filter Filter, update Update) error {
	f, err := prepareFilter(filter)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	var cur Document
	for _, id := range c.order {
		if doc := c.docs[id]; matches(doc, f) {
			cur = doc
			break
		}
	}
	if cur == nil {
		return ErrNotFound
	}

	next, err := apply(cur, update)
	if err != nil {
		return fmt.Errorf("update %s: %w", collection, err)
	}
	if err := c.checkUnique(next, cur.ID()); err != nil {
		return fmt.Errorf("update %s: %w", collection, err)
	}
	c.docs[cur.ID()] = next
	c.reindex(cur, next)
	return nil
}

// Close is a no-op.
func (*Memory) Close() error { return nil }

// checkUnique reports ErrDuplicateKey if d collides with a document other than self.
func (c *memCollection) checkUnique(d Document, self string) error {
	for field, idx := range c.unique {
		key := indexKey(d[field])
		if key == "" {
			continue
		}
		if owner, ok := idx[key]; ok && owner != self {
			return fmt.Errorf("%s %q: %w", field, key, ErrDuplicateKey)
		}
	}
	return nil
}

func (c *memCollection) reindex(old, next Document) {
	for field, idx := range c.unique {
		if old != nil {
			if key := indexKey(old[field]); key != "" {
				delete(idx, key)
			}
		}
		if key := indexKey(next[field]); key != "" {
			idx[key] = next.ID()
		}
	}
}

func clone(d Document) Document {
	out, err := normalize(d)
	if err != nil {
		return nil
	}
	return out
}
