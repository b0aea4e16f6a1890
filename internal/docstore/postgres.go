package docstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore keeps documents as JSONB rows in the documents table, one row per
// (collection, doc_key). Merge writes use the jsonb || operator so existing
// top-level fields not present in the write survive.
type PostgresStore struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresStore returns a document store that uses the given db for persistence.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, nowF: time.Now}
}

const (
	getDocumentSQL = `SELECT data FROM documents WHERE collection = $1 AND doc_key = $2`

	mergeDocumentSQL = `INSERT INTO documents (collection, doc_key, data) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, doc_key) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`

	replaceDocumentSQL = `INSERT INTO documents (collection, doc_key, data) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, doc_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	createDocumentSQL = `INSERT INTO documents (collection, doc_key, data) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, doc_key) DO NOTHING`

	deleteDocumentSQL = `DELETE FROM documents WHERE collection = $1 AND doc_key = $2`

	listDocumentsSQL = `SELECT doc_key, data FROM documents WHERE collection = $1 ORDER BY created_at, doc_key LIMIT $2`
)

// Get returns the document at collection/key, or nil if not found.
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, getDocumentSQL, collection, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decode(raw)
}

// Set upserts fields at collection/key.
func (s *PostgresStore) Set(ctx context.Context, collection, key string, fields Document, merge bool) error {
	b, err := resolve(fields, s.nowF())
	if err != nil {
		return err
	}
	q := replaceDocumentSQL
	if merge {
		q = mergeDocumentSQL
	}
	_, err = s.db.ExecContext(ctx, q, collection, key, string(b))
	return err
}

// Create inserts fields at collection/key unless a document already exists there.
func (s *PostgresStore) Create(ctx context.Context, collection, key string, fields Document) (bool, error) {
	b, err := resolve(fields, s.nowF())
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, createDocumentSQL, collection, key, string(b))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes collection/key.
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx, deleteDocumentSQL, collection, key)
	return err
}

// List returns up to limit documents of collection, oldest first.
func (s *PostgresStore) List(ctx context.Context, collection string, limit int) ([]Entry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, listDocumentsSQL, collection, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		d, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: key, Data: d})
	}
	return out, rows.Err()
}
