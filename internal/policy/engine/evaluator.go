package engine

import (
	"context"

	"lab-access/backend/internal/provisioning/domain"
)

// RoleAdmitter decides whether a role grant may be provisioned for an identifier.
type RoleAdmitter interface {
	AdmitRole(ctx context.Context, identifier string, grant domain.RoleGrant) (bool, error)
}
