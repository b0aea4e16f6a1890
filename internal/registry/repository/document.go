package repository

import (
	"context"

	"lab-access/backend/internal/docstore"
	"lab-access/backend/internal/provisioning/domain"
)

// Collection is the document collection holding registry entries, keyed by login identifier.
const Collection = "loginLookup"

// DocumentRepository stores registry entries as {uid, email} documents.
type DocumentRepository struct {
	store docstore.Store
}

// NewDocumentRepository returns a registry backed by store.
func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// Exists reports whether identifier has a registry entry.
func (r *DocumentRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	d, err := r.store.Get(ctx, Collection, identifier)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

// Lookup returns the entry for identifier, or nil if not found.
// It returns an error only for store failures.
func (r *DocumentRepository) Lookup(ctx context.Context, identifier string) (*domain.RegistryEntry, error) {
	d, err := r.store.Get(ctx, Collection, identifier)
	if err != nil || d == nil {
		return nil, err
	}
	return &domain.RegistryEntry{
		Identifier: identifier,
		AccountKey: d.String("uid"),
		Email:      d.String("email"),
	}, nil
}

// Reserve writes the entry for identifier, replacing any existing entry.
func (r *DocumentRepository) Reserve(ctx context.Context, identifier, accountKey, email string) error {
	return r.store.Set(ctx, Collection, identifier, entryDoc(accountKey, email), false)
}

// ReserveIfAbsent writes the entry only if identifier has none. Returns false if it was already taken.
func (r *DocumentRepository) ReserveIfAbsent(ctx context.Context, identifier, accountKey, email string) (bool, error) {
	return r.store.Create(ctx, Collection, identifier, entryDoc(accountKey, email))
}

func entryDoc(accountKey, email string) docstore.Document {
	return docstore.Document{"uid": accountKey, "email": email}
}
