// Package repository persists profile records keyed by account key.
package repository

import (
	"context"

	"lab-access/backend/internal/provisioning/domain"
)

// Repository defines persistence for profiles.
type Repository interface {
	GetByAccountKey(ctx context.Context, accountKey string) (*domain.Profile, error)
	// Upsert writes p with merge semantics: fields of an existing record that p does not set are kept.
	// A zero CreatedAt asks the store to stamp the record with its own clock.
	Upsert(ctx context.Context, p *domain.Profile) error
	Delete(ctx context.Context, accountKey string) error
}
