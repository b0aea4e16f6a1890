package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memDoc struct {
	data []byte
	seq  uint64
}

// MemoryStore is an in-memory Store. Documents are stored JSON-encoded so reads
// observe the same value shapes as the Postgres store.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]map[string]memDoc
	seq  uint64
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]map[string]memDoc),
		nowF: time.Now,
	}
}

// Get returns the document at collection/key, or nil if missing.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (Document, error) {
	s.mu.RLock()
	d, ok := s.m[collection][key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decode(d.data)
}

// Set writes fields to collection/key, merging into an existing document when merge is true.
func (s *MemoryStore) Set(ctx context.Context, collection, key string, fields Document, merge bool) error {
	b, err := resolve(fields, s.nowF())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(collection)
	prev, exists := col[key]
	if merge && exists {
		merged, err := decode(prev.data)
		if err != nil {
			return err
		}
		next, err := decode(b)
		if err != nil {
			return err
		}
		for k, v := range next {
			merged[k] = v
		}
		if b, err = resolve(merged, s.nowF()); err != nil {
			return err
		}
	}
	seq := prev.seq
	if !exists {
		s.seq++
		seq = s.seq
	}
	col[key] = memDoc{data: b, seq: seq}
	return nil
}

// Create writes fields only if collection/key is absent.
func (s *MemoryStore) Create(ctx context.Context, collection, key string, fields Document) (bool, error) {
	b, err := resolve(fields, s.nowF())
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(collection)
	if _, exists := col[key]; exists {
		return false, nil
	}
	s.seq++
	col[key] = memDoc{data: b, seq: s.seq}
	return true, nil
}

// Delete removes collection/key.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m[collection], key)
	return nil
}

// List returns documents of collection in insertion order.
func (s *MemoryStore) List(ctx context.Context, collection string, limit int) ([]Entry, error) {
	s.mu.RLock()
	type keyed struct {
		key string
		doc memDoc
	}
	all := make([]keyed, 0, len(s.m[collection]))
	for k, d := range s.m[collection] {
		all = append(all, keyed{key: k, doc: d})
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].doc.seq < all[j].doc.seq })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]Entry, 0, len(all))
	for _, kd := range all {
		d, err := decode(kd.doc.data)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: kd.key, Data: d})
	}
	return out, nil
}

// Len returns the number of documents in collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m[collection])
}

func (s *MemoryStore) collection(name string) map[string]memDoc {
	col, ok := s.m[name]
	if !ok {
		col = make(map[string]memDoc)
		s.m[name] = col
	}
	return col
}
