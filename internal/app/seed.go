package app

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/provisioning/domain"
	"lab-access/backend/internal/provisioning/preset"
	"lab-access/backend/internal/provisioning/service"
)

// Provisioner runs one provisioning workflow.
type Provisioner interface {
	Provision(ctx context.Context, form domain.RawInput) (*domain.Result, error)
}

// SeedReport counts the outcome of SeedAccounts.
type SeedReport struct {
	Created int
	Skipped int
}

// PresetForms returns one signup form per preset, ordered by identifier.
// Presets without a display name sign up under their identifier.
func PresetForms(t *preset.Table) []domain.RawInput {
	ids := t.Identifiers()
	sort.Strings(ids)
	forms := make([]domain.RawInput, 0, len(ids))
	for _, id := range ids {
		p, _ := t.Resolve(id)
		name := p.DisplayName
		if name == "" {
			name = id
		}
		forms = append(forms, domain.RawInput{Name: name, Identifier: id})
	}
	return forms
}

// SeedAccounts provisions each form in order. Identifiers that are already taken are
// skipped, so seeding is idempotent. Stops at the first other failure.
func SeedAccounts(ctx context.Context, p Provisioner, forms []domain.RawInput, log logrus.FieldLogger) (SeedReport, error) {
	var r SeedReport
	for _, f := range forms {
		res, err := p.Provision(ctx, f)
		if errors.Is(err, service.ErrIdentifierTaken) {
			log.WithField("loginId", f.Identifier).Info("seed: already provisioned, skipping")
			r.Skipped++
			continue
		}
		if err != nil {
			return r, err
		}
		log.WithFields(logrus.Fields{"loginId": res.Identifier, "role": res.Role, "uid": res.AccountKey}).Info("seed: provisioned")
		r.Created++
	}
	return r, nil
}
