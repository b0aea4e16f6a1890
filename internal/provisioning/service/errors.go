package service

import (
	"errors"
	"fmt"

	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/provisioning/validation"
)

// Sentinel errors for the provisioning workflow; the handler maps them to gRPC codes.
// Every error returned by Provision is an *Error whose Kind is one of these.
var (
	ErrValidation        = errors.New("invalid signup input")
	ErrRoleAdmission     = errors.New("role admission check failed")
	ErrIdentifierTaken   = errors.New("login identifier already taken")
	ErrUniquenessCheck   = errors.New("login identifier check failed")
	ErrPrincipalCreation = errors.New("principal creation failed")
	ErrProfileWrite      = errors.New("profile write failed")
	ErrRegistryWrite     = errors.New("registry write failed")
)

// Error is a provisioning failure. Reason refines Kind: a validation.Reason for
// ErrValidation or a principal.ErrorKind for ErrPrincipalCreation.
type Error struct {
	Kind       error
	Reason     string
	Identifier string
	Stage      State
	// AccountKey is set when a principal was created before the failure.
	AccountKey string
	// Compensated reports that the compensator recorded or removed the orphaned principal.
	Compensated bool

	cause error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Is matches the sentinel kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Cause returns the collaborator error behind the failure, if any.
func (e *Error) Cause() error { return e.cause }

// Partial reports whether the failure left an external principal behind.
func (e *Error) Partial() bool { return e.AccountKey != "" }

// Message is a user-facing description of the failure.
func (e *Error) Message() string {
	switch e.Kind {
	case ErrValidation:
		return (&validation.Error{Reason: validation.Reason(e.Reason)}).Message()
	case ErrIdentifierTaken:
		return fmt.Sprintf("The Login ID %q is already taken.", e.Identifier)
	case ErrUniquenessCheck:
		return "Could not check the Login ID right now. Please try again."
	case ErrRoleAdmission:
		return "Could not verify the requested role right now. Please try again."
	case ErrPrincipalCreation:
		switch principal.ErrorKind(e.Reason) {
		case principal.KindEmailInUse:
			return "Email already in use. Try logging in, or use a different email address."
		case principal.KindInvalidEmail:
			return "Please enter a valid email address."
		case principal.KindOperationDisabled:
			return "Email/password sign-up is disabled for this application."
		case principal.KindWeakSecret:
			return "Password is too weak."
		}
		return "Could not create your account."
	}
	return "Sign up failed. Could not create your account."
}
