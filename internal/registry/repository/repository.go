// Package repository maps login identifiers to the account keys that own them.
package repository

import (
	"context"

	"lab-access/backend/internal/provisioning/domain"
)

// Repository defines the identifier registry. Reserve is an unconditional write;
// uniqueness under Reserve depends on callers checking Exists first, which is not
// safe under concurrent registration of the same identifier. ReserveIfAbsent is the
// conditional alternative.
type Repository interface {
	Exists(ctx context.Context, identifier string) (bool, error)
	Lookup(ctx context.Context, identifier string) (*domain.RegistryEntry, error)
	Reserve(ctx context.Context, identifier, accountKey, email string) error
	ReserveIfAbsent(ctx context.Context, identifier, accountKey, email string) (bool, error)
}
