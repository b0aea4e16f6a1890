// Package local is a Postgres-backed identity provider. Secrets are stored as bcrypt hashes.
package local

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/security"
)

// MinSecretLength is the provider's own secret floor, independent of form validation.
const MinSecretLength = 6

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	insertPrincipalSQL = `INSERT INTO principals (account_key, email, secret_hash, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (email) DO NOTHING`
	deletePrincipalSQL = `DELETE FROM principals WHERE account_key = $1`
	getPrincipalSQL    = `SELECT account_key, email, secret_hash, created_at FROM principals WHERE email = $1`
)

// Principal is a stored principal row.
type Principal struct {
	AccountKey string
	Email      string
	SecretHash string
	CreatedAt  time.Time
}

// Provider creates principals in the principals table.
type Provider struct {
	db      *sql.DB
	hasher  *security.Hasher
	enabled bool
	nowF    func() time.Time
	newKey  func() string
}

// NewProvider returns a local provider. When enabled is false every creation fails
// with OperationDisabled.
func NewProvider(db *sql.DB, hasher *security.Hasher, enabled bool) *Provider {
	return &Provider{
		db:      db,
		hasher:  hasher,
		enabled: enabled,
		nowF:    time.Now,
		newKey:  func() string { return uuid.New().String() },
	}
}

// CreatePrincipal inserts a new principal. Email is normalized to lower case and must be unique.
func (p *Provider) CreatePrincipal(ctx context.Context, email, secret string) (string, error) {
	if !p.enabled {
		return "", &principal.Error{Kind: principal.KindOperationDisabled}
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if !simpleEmail.MatchString(email) {
		return "", &principal.Error{Kind: principal.KindInvalidEmail}
	}
	if len(secret) < MinSecretLength {
		return "", &principal.Error{Kind: principal.KindWeakSecret}
	}
	hash, err := p.hasher.Hash([]byte(secret))
	if errors.Is(err, security.ErrSecretLength) {
		return "", &principal.Error{Kind: principal.KindWeakSecret, Err: err}
	}
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}
	key := p.newKey()
	res, err := p.db.ExecContext(ctx, insertPrincipalSQL, key, email, hash, p.nowF().UTC())
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", &principal.Error{Kind: principal.KindOther, Err: err}
	}
	if n == 0 {
		return "", &principal.Error{Kind: principal.KindEmailInUse}
	}
	return key, nil
}

// DeletePrincipal removes the principal with accountKey. Missing rows are not an error.
func (p *Provider) DeletePrincipal(ctx context.Context, accountKey string) error {
	_, err := p.db.ExecContext(ctx, deletePrincipalSQL, accountKey)
	return err
}

// GetByEmail returns the principal for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (p *Provider) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	var pr Principal
	err := p.db.QueryRowContext(ctx, getPrincipalSQL, strings.TrimSpace(strings.ToLower(email))).
		Scan(&pr.AccountKey, &pr.Email, &pr.SecretHash, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &pr, nil
}

// VerifySecret reports whether secret matches the stored hash for email.
func (p *Provider) VerifySecret(ctx context.Context, email, secret string) (bool, error) {
	pr, err := p.GetByEmail(ctx, email)
	if err != nil || pr == nil {
		return false, err
	}
	return p.hasher.Compare(pr.SecretHash, []byte(secret)) == nil, nil
}

var (
	_ principal.Provider = (*Provider)(nil)
	_ principal.Deleter  = (*Provider)(nil)
)
