// Package docstore is a per-key document store with per-document atomicity only.
// There is no multi-document transaction primitive.
package docstore

import (
	"context"
	"encoding/json"
	"time"
)

// Document is a set of top-level fields. Values must be JSON-encodable.
type Document map[string]any

// Entry is a document together with its key, as returned by List.
type Entry struct {
	Key  string
	Data Document
}

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value; the store replaces it with its
// own clock (UTC, RFC 3339) at write time.
var ServerTimestamp any = serverTimestamp{}

// Store is the document store contract.
type Store interface {
	// Get returns the document at collection/key, or nil if it does not exist.
	// It returns an error only for store failures, not for missing documents.
	Get(ctx context.Context, collection, key string) (Document, error)
	// Set writes fields to collection/key. With merge, fields present in an existing
	// document but absent from fields are kept; without merge the document is replaced.
	Set(ctx context.Context, collection, key string, fields Document, merge bool) error
	// Create writes fields only if collection/key does not exist. Returns false if it already existed.
	Create(ctx context.Context, collection, key string, fields Document) (bool, error)
	// Delete removes collection/key. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, key string) error
	// List returns up to limit documents of collection, oldest first. limit <= 0 means no limit.
	List(ctx context.Context, collection string, limit int) ([]Entry, error)
}

// resolve replaces ServerTimestamp values and returns the JSON encoding of fields.
func resolve(fields Document, now time.Time) ([]byte, error) {
	out := make(Document, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

func decode(b []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}

// String returns the string field k, or "" if absent or not a string.
func (d Document) String(k string) string {
	s, _ := d[k].(string)
	return s
}

// Time parses the RFC 3339 field k. Returns the zero time if absent or malformed.
func (d Document) Time(k string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, d.String(k))
	if err != nil {
		return time.Time{}
	}
	return t
}
