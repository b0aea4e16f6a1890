package domain

import "time"

// Role is the application role stored on a profile.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	}
	return false
}

// RoleSource records where a role came from.
type RoleSource string

const (
	RoleSourceUser   RoleSource = "user"
	RoleSourcePreset RoleSource = "preset"
)

// RoleGrant is a role together with its provenance. It is computed once per
// provisioning run and carried through unchanged.
type RoleGrant struct {
	Role   Role
	Source RoleSource
}

// AdminPreset is a reserved login identifier with pre-assigned credentials.
type AdminPreset struct {
	Identifier  string
	Email       string
	Secret      string
	DisplayName string
}

// RawInput is the unvalidated signup form.
type RawInput struct {
	Name       string
	Identifier string
	Email      string
	Secret     string
	Confirm    string
	Role       string
}

// ValidatedInput is a form that passed validation. Preset is set when the
// identifier matched an admin preset; Email/Secret/Role are then ignored.
type ValidatedInput struct {
	Name       string
	Identifier string
	Email      string
	Secret     string
	Role       Role
	Preset     *AdminPreset
}

// Account is the effective credential and role set used to create the principal.
type Account struct {
	Identifier  string
	Email       string
	Secret      string
	DisplayName string
	Grant       RoleGrant
}

// RegistryEntry maps a login identifier to the account key that owns it.
type RegistryEntry struct {
	Identifier string
	AccountKey string
	Email      string
}

// Profile is the authoritative profile record keyed by account key.
type Profile struct {
	AccountKey string
	Name       string
	Email      string
	Identifier string
	Role       Role
	CreatedAt  time.Time
}

// Result is returned to the caller after a successful provisioning run.
type Result struct {
	Identifier  string
	AccountKey  string
	Role        Role
	DisplayName string
	Email       string
}

// Orphan describes a principal left without complete bookkeeping after a
// partial provisioning failure.
type Orphan struct {
	AccountKey string
	Identifier string
	Email      string
	Stage      string
	Reason     string
	DetectedAt time.Time

	// Unconfirmed is set when the failing write may still have been applied, so the
	// principal can only be removed after the registry has been read back.
	Unconfirmed bool
}
