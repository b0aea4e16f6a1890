package repository

import (
	"context"

	"lab-access/backend/internal/session/domain"
)

// Repository is a best-effort session sink keyed by login identifier.
type Repository interface {
	// Save writes st, replacing any previous state for the same identifier.
	Save(ctx context.Context, st domain.State) error
	// Load returns the state for identifier, or nil if none is cached.
	Load(ctx context.Context, identifier string) (*domain.State, error)
}

// KeyPrefix namespaces session keys.
const KeyPrefix = "session:"

func key(identifier string) string {
	return KeyPrefix + identifier
}
