package repository

import (
	"context"
	"database/sql"

	"lab-access/backend/internal/audit/domain"
)

const (
	createAuditLogSQL = `INSERT INTO audit_logs (id, subject, account_key, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listAuditLogsBySubjectSQL = `SELECT id, subject, account_key, action, resource, ip, metadata, created_at
FROM audit_logs WHERE subject = $1 ORDER BY created_at DESC LIMIT $2`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	key := sql.NullString{String: a.AccountKey, Valid: a.AccountKey != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, createAuditLogSQL,
		a.ID, a.Subject, key, a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return err
}

// ListBySubject returns the newest audit logs for subject, at most limit entries.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subject string, limit int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listAuditLogsBySubjectSQL, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			key  sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Subject, &key, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AccountKey = key.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
