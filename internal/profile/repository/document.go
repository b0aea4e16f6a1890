package repository

import (
	"context"
	"time"

	"lab-access/backend/internal/docstore"
	"lab-access/backend/internal/provisioning/domain"
)

// Collection is the document collection holding profiles, keyed by account key.
const Collection = "users"

// DocumentRepository stores profiles in a document store.
type DocumentRepository struct {
	store docstore.Store
}

// NewDocumentRepository returns a profile repository backed by store.
func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// GetByAccountKey returns the profile for accountKey, or nil if not found.
func (r *DocumentRepository) GetByAccountKey(ctx context.Context, accountKey string) (*domain.Profile, error) {
	d, err := r.store.Get(ctx, Collection, accountKey)
	if err != nil || d == nil {
		return nil, err
	}
	return &domain.Profile{
		AccountKey: accountKey,
		Name:       d.String("name"),
		Email:      d.String("email"),
		Identifier: d.String("loginId"),
		Role:       domain.Role(d.String("role")),
		CreatedAt:  d.Time("createdAt"),
	}, nil
}

// Upsert merges p into the stored profile.
func (r *DocumentRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	fields := docstore.Document{"uid": p.AccountKey}
	if p.Name != "" {
		fields["name"] = p.Name
	}
	if p.Email != "" {
		fields["email"] = p.Email
	}
	if p.Identifier != "" {
		fields["loginId"] = p.Identifier
	}
	if p.Role != "" {
		fields["role"] = string(p.Role)
	}
	if p.CreatedAt.IsZero() {
		fields["createdAt"] = docstore.ServerTimestamp
	} else {
		fields["createdAt"] = p.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return r.store.Set(ctx, Collection, p.AccountKey, fields, true)
}

// Delete removes the profile for accountKey.
func (r *DocumentRepository) Delete(ctx context.Context, accountKey string) error {
	return r.store.Delete(ctx, Collection, accountKey)
}
