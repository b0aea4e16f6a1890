package repository

import (
	"context"

	"lab-access/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListBySubject(ctx context.Context, subject string, limit int32) ([]*domain.AuditLog, error)
}
