package repository

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"lab-access/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory with an optional TTL.
type MemoryRepository struct {
	c *gocache.Cache
}

// NewMemoryRepository returns an in-memory session sink. ttl <= 0 means no expiry.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryRepository{c: gocache.New(ttl, time.Minute)}
}

// Save stores st under its identifier.
func (m *MemoryRepository) Save(ctx context.Context, st domain.State) error {
	m.c.SetDefault(key(st.Identifier), st)
	return nil
}

// Load returns the state for identifier, or nil if absent or expired.
func (m *MemoryRepository) Load(ctx context.Context, identifier string) (*domain.State, error) {
	v, ok := m.c.Get(key(identifier))
	if !ok {
		return nil, nil
	}
	st, _ := v.(domain.State)
	return &st, nil
}
