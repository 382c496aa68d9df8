// Package store provides the document store used for visitor and session records.
//
// Documents are JSON-shaped maps. Filters match top-level fields by equality.
// Unique indexes are sparse: documents without the field, or with an empty
// value, are not indexed. A write that would break a unique index fails with
// ErrDuplicateKey, which callers treat as a normal branch rather than a failure.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/goccy/go-json"
)

// IDField is the primary key of every document.
const IDField = "_id"

// Store errors.
var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Document is a stored record.
type Document map[string]any

// ID returns the document's primary key.
func (d Document) ID() string {
	s, _ := d[IDField].(string) //nolint:errcheck // missing id is ""
	return s
}

// Filter selects documents whose fields equal every given value.
type Filter map[string]any

// Update describes changes applied to a single document.
type Update struct {
	Set      map[string]any
	Inc      map[string]int64
	AddToSet map[string]any
}

// DocumentStore is the persistence capability used by the visitor services.
type DocumentStore interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, update Update) error
	EnsureUniqueIndex(ctx context.Context, collection, field string) error
	Close() error
}

// Encode converts a struct with json tags into a Document.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from a Document.
func Decode(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// normalize round-trips values through JSON so that stored documents,
// filters and updates compare consistently across implementations.
func normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// apply returns a copy of doc with u applied. The primary key cannot be changed.
func apply(doc Document, u Update) (Document, error) {
	out := maps.Clone(doc)

	set, err := normalize(u.Set)
	if err != nil {
		return nil, fmt.Errorf("set: %w", err)
	}
	for k, v := range set {
		if k == IDField {
			continue
		}
		out[k] = v
	}

	for k, n := range u.Inc {
		var cur float64
		switch v := out[k].(type) {
		case nil:
		case float64:
			cur = v
		default:
			return nil, fmt.Errorf("inc %s: field is %T, not a number", k, v)
		}
		out[k] = cur + float64(n)
	}

	add, err := normalize(u.AddToSet)
	if err != nil {
		return nil, fmt.Errorf("add to set: %w", err)
	}
	for k, v := range add {
		var list []any
		switch cur := out[k].(type) {
		case nil:
		case []any:
			list = slices.Clone(cur)
		default:
			return nil, fmt.Errorf("add to set %s: field is %T, not an array", k, cur)
		}
		if !containsValue(list, v) {
			list = append(list, v)
		}
		out[k] = list
	}
	return out, nil
}

func containsValue(list []any, v any) bool {
	for _, x := range list {
		if reflect.DeepEqual(x, v) {
			return true
		}
	}
	return false
}

// indexKey returns the unique-index key for a field value, or "" when the value is not indexed.
func indexKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func prepareFilter(filter Filter) (Filter, error) {
	f, err := normalize(filter)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return f, nil
}
