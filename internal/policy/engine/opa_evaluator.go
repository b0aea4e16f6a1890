package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"lab-access/backend/internal/provisioning/domain"
)

const admissionQuery = "data.labaccess.provisioning.allow"

// DefaultAdmissionPolicy admits STUDENT and FACULTY when user-selected and ADMIN only
// when it comes from an admin preset.
const DefaultAdmissionPolicy = `package labaccess.provisioning

default allow = false

allow if {
	input.grant.source == "user"
	input.grant.role == "STUDENT"
}

allow if {
	input.grant.source == "user"
	input.grant.role == "FACULTY"
}

allow if {
	input.grant.source == "preset"
	input.grant.role == "ADMIN"
}
`

// OPAEvaluator evaluates role admission with an OPA Rego policy compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultAdmissionPolicy if empty) and prepares the admission query.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultAdmissionPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"admission.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(admissionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare admission policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// AdmitRole evaluates the policy for identifier and grant. An undefined result denies.
func (e *OPAEvaluator) AdmitRole(ctx context.Context, identifier string, grant domain.RoleGrant) (bool, error) {
	input := map[string]interface{}{
		"identifier": identifier,
		"grant": map[string]interface{}{
			"role":   string(grant.Role),
			"source": string(grant.Source),
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval admission policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}

// HealthCheck evaluates the prepared query against a known-good grant.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.AdmitRole(ctx, "health", domain.RoleGrant{Role: domain.RoleStudent, Source: domain.RoleSourceUser})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("admission policy denied a user-selected STUDENT grant")
	}
	return nil
}
