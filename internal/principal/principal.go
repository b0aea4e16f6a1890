// Package principal defines the identity-provider contract used to create
// authentication principals. Implementations live in subpackages.
package principal

import (
	"context"
	"errors"
)

// ErrorKind classifies a principal creation failure.
type ErrorKind string

const (
	KindEmailInUse        ErrorKind = "EmailInUse"
	KindInvalidEmail      ErrorKind = "InvalidEmail"
	KindOperationDisabled ErrorKind = "OperationDisabled"
	KindWeakSecret        ErrorKind = "WeakSecret"
	KindOther             ErrorKind = "Other"
)

// Error is the error returned by providers. Err is the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "principal: " + string(e.Kind) + ": " + e.Err.Error()
	}
	return "principal: " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindOther if err is not a *Error.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) && perr.Kind != "" {
		return perr.Kind
	}
	return KindOther
}

// Provider creates principals. A successful call is irreversible from the caller's
// point of view: the principal exists even if later bookkeeping fails.
type Provider interface {
	// CreatePrincipal creates a principal for email/secret and returns its account key.
	CreatePrincipal(ctx context.Context, email, secret string) (string, error)
}

// Deleter is implemented by providers that can remove a principal. Used only for
// best-effort compensation.
type Deleter interface {
	DeletePrincipal(ctx context.Context, accountKey string) error
}
