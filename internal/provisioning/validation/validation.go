// Package validation is the synchronous precondition gate for signup forms.
// It performs no I/O.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"lab-access/backend/internal/provisioning/domain"
)

// Reason identifies why a form was rejected.
type Reason string

const (
	ReasonMissingFields    Reason = "MissingFields"
	ReasonInvalidEmail     Reason = "InvalidEmail"
	ReasonWeakSecret       Reason = "WeakSecret"
	ReasonSecretMismatch   Reason = "SecretMismatch"
	ReasonPresetIncomplete Reason = "PresetIncomplete"
	ReasonInvalidRole      Reason = "InvalidRole"
	ReasonRoleNotPermitted Reason = "RoleNotPermitted"
)

// MinSecretLength is the minimum length of a user-supplied secret, in characters.
const MinSecretLength = 8

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Error is returned for a rejected form.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return "validation: " + e.Message()
}

// Message is the user-facing description of the problem.
func (e *Error) Message() string {
	switch e.Reason {
	case ReasonMissingFields:
		return "name and login ID are required"
	case ReasonInvalidEmail:
		return "please enter a valid email address"
	case ReasonWeakSecret:
		return "password must be at least 8 characters"
	case ReasonSecretMismatch:
		return "passwords do not match"
	case ReasonPresetIncomplete:
		return "admin preset is missing credentials; contact the developer"
	case ReasonInvalidRole:
		return "role must be STUDENT or FACULTY"
	case ReasonRoleNotPermitted:
		return "role is not permitted for this login ID"
	}
	return string(e.Reason)
}

// Validate checks form. When preset is non-nil the identifier is reserved and only
// name and identifier are required; the preset itself must carry an email and secret.
// Otherwise email shape, secret strength, confirmation and role are checked in that order.
func Validate(form domain.RawInput, preset *domain.AdminPreset) (domain.ValidatedInput, error) {
	name := strings.TrimSpace(form.Name)
	identifier := strings.TrimSpace(form.Identifier)
	if name == "" || identifier == "" {
		return domain.ValidatedInput{}, &Error{Reason: ReasonMissingFields}
	}

	if preset != nil {
		if preset.Email == "" || preset.Secret == "" {
			return domain.ValidatedInput{}, &Error{Reason: ReasonPresetIncomplete}
		}
		p := *preset
		return domain.ValidatedInput{
			Name:       name,
			Identifier: identifier,
			Role:       domain.RoleAdmin,
			Preset:     &p,
		}, nil
	}

	email := strings.TrimSpace(form.Email)
	if email == "" || !emailPattern.MatchString(email) {
		return domain.ValidatedInput{}, &Error{Reason: ReasonInvalidEmail}
	}
	if utf8.RuneCountInString(form.Secret) < MinSecretLength {
		return domain.ValidatedInput{}, &Error{Reason: ReasonWeakSecret}
	}
	if form.Secret != form.Confirm {
		return domain.ValidatedInput{}, &Error{Reason: ReasonSecretMismatch}
	}
	role, err := selectableRole(form.Role)
	if err != nil {
		return domain.ValidatedInput{}, err
	}
	return domain.ValidatedInput{
		Name:       name,
		Identifier: identifier,
		Email:      email,
		Secret:     form.Secret,
		Role:       role,
	}, nil
}

// selectableRole returns the role a user may pick for themselves. Empty means STUDENT.
func selectableRole(s string) (domain.Role, error) {
	switch domain.Role(strings.ToUpper(strings.TrimSpace(s))) {
	case "", domain.RoleStudent:
		return domain.RoleStudent, nil
	case domain.RoleFaculty:
		return domain.RoleFaculty, nil
	}
	return "", &Error{Reason: ReasonInvalidRole}
}
