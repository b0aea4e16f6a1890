package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"lab-access/backend/internal/audit"
	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/provisioning/domain"
	"lab-access/backend/internal/provisioning/validation"
	sessiondomain "lab-access/backend/internal/session/domain"
	"lab-access/backend/internal/telemetry"
	telemetrydomain "lab-access/backend/internal/telemetry/domain"
)

const instrumentationName = "lab-access/provisioning"

// compensationTimeout bounds the compensator call, which runs detached from the request context.
const compensationTimeout = 10 * time.Second

// State is a step of a provisioning run.
type State string

const (
	StateIdle               State = "Idle"
	StateValidating         State = "Validating"
	StateCheckingUniqueness State = "CheckingUniqueness"
	StateCreatingPrincipal  State = "CreatingPrincipal"
	StateWritingProfile     State = "WritingProfile"
	StateWritingRegistry    State = "WritingRegistry"
	StateCommittingSession  State = "CommittingSession"
	StateDone               State = "Done"
	StateFailed             State = "Failed"
)

// PresetResolver looks up reserved admin identifiers.
type PresetResolver interface {
	Resolve(identifier string) (*domain.AdminPreset, bool)
}

// Registry is the minimal identifier registry needed by the workflow.
type Registry interface {
	Exists(ctx context.Context, identifier string) (bool, error)
	Reserve(ctx context.Context, identifier, accountKey, email string) error
	ReserveIfAbsent(ctx context.Context, identifier, accountKey, email string) (bool, error)
}

// ProfileRepo is the minimal profile repository needed by the workflow.
type ProfileRepo interface {
	Upsert(ctx context.Context, p *domain.Profile) error
}

// SessionRepo is the best-effort session sink.
type SessionRepo interface {
	Save(ctx context.Context, st sessiondomain.State) error
}

// RoleAdmitter decides whether a role grant may be provisioned for an identifier.
type RoleAdmitter interface {
	AdmitRole(ctx context.Context, identifier string, grant domain.RoleGrant) (bool, error)
}

// Compensator records or removes a principal orphaned by a partial failure.
type Compensator interface {
	Compensate(ctx context.Context, orphan domain.Orphan) error
}

// Options holds the optional collaborators and switches of a Workflow.
type Options struct {
	// StrictUniqueness reserves the identifier with a conditional create instead of
	// an unconditional write, so a concurrent run that lost the race fails with
	// ErrIdentifierTaken instead of overwriting the winner's registry entry.
	StrictUniqueness bool
	Admitter         RoleAdmitter
	Compensator      Compensator
	Audit            audit.AuditLogger
	Events           telemetry.EventEmitter
	Logger           logrus.FieldLogger
	// OnTransition is called synchronously on every state change.
	OnTransition func(from, to State)
}

// Workflow provisions lab-access accounts: it validates the signup form, checks
// the identifier registry, creates the external principal and then writes the
// profile, registry entry and session in that order.
//
// Concurrent Provision calls are not serialized. In the default mode two runs for
// the same identifier can both pass the uniqueness check; each creates a principal
// and the later registry write wins.
type Workflow struct {
	presets    PresetResolver
	registry   Registry
	profiles   ProfileRepo
	principals principal.Provider
	sessions   SessionRepo
	opts       Options

	log    logrus.FieldLogger
	tracer trace.Tracer
	runs   metric.Int64Counter
	nowF   func() time.Time
}

// NewWorkflow returns a Workflow with the given collaborators. sessions may be nil.
func NewWorkflow(
	presets PresetResolver,
	registry Registry,
	profiles ProfileRepo,
	principals principal.Provider,
	sessions SessionRepo,
	opts Options,
) *Workflow {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "provisioning")
	runs, err := otel.Meter(instrumentationName).Int64Counter(
		"labaccess.provisioning.runs",
		metric.WithDescription("Provisioning runs by outcome and terminal state."),
	)
	if err != nil {
		log.WithError(err).Warn("provisioning: run counter unavailable")
		runs = noop.Int64Counter{}
	}
	return &Workflow{
		presets:    presets,
		registry:   registry,
		profiles:   profiles,
		principals: principals,
		sessions:   sessions,
		opts:       opts,
		log:        log,
		tracer:     otel.Tracer(instrumentationName),
		runs:       runs,
		nowF:       time.Now,
	}
}

// run tracks one invocation of Provision.
type run struct {
	w          *Workflow
	state      State
	identifier string
	email      string
	accountKey string
	grant      domain.RoleGrant
	log        logrus.FieldLogger
	span       trace.Span
}

func (r *run) enter(to State) {
	from := r.state
	r.state = to
	r.span.AddEvent(string(to))
	r.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("provisioning: transition")
	if r.w.opts.OnTransition != nil {
		r.w.opts.OnTransition(from, to)
	}
}

// fail moves the run to Failed and stamps e with the state it failed in.
func (r *run) fail(e *Error) *Error {
	e.Stage = r.state
	e.Identifier = r.identifier
	e.AccountKey = r.accountKey
	r.enter(StateFailed)
	return e
}

// Provision runs the workflow for form. On success it returns the provisioned
// account; on failure the error is an *Error whose Kind is one of the package sentinels.
func (w *Workflow) Provision(ctx context.Context, form domain.RawInput) (*domain.Result, error) {
	ctx, span := w.tracer.Start(ctx, "provisioning.Provision")
	defer span.End()
	r := &run{
		w:          w,
		state:      StateIdle,
		identifier: strings.TrimSpace(form.Identifier),
		span:       span,
	}
	r.log = w.log.WithField("identifier", r.identifier)

	res, perr := w.provision(ctx, r, form)
	if perr != nil {
		if perr.Partial() {
			w.compensate(ctx, r, perr)
		}
		w.recordFailure(ctx, r, perr)
		return nil, perr
	}
	w.recordSuccess(ctx, r, res)
	return res, nil
}

func (w *Workflow) provision(ctx context.Context, r *run, form domain.RawInput) (*domain.Result, *Error) {
	r.enter(StateValidating)
	var preset *domain.AdminPreset
	if w.presets != nil {
		preset, _ = w.presets.Resolve(form.Identifier)
	}
	in, err := validation.Validate(form, preset)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return nil, r.fail(&Error{Kind: ErrValidation, Reason: string(verr.Reason)})
		}
		return nil, r.fail(&Error{Kind: ErrValidation, cause: err})
	}
	r.identifier = in.Identifier
	r.grant = grantFor(in)
	if w.opts.Admitter != nil {
		ok, aerr := w.opts.Admitter.AdmitRole(ctx, in.Identifier, r.grant)
		if aerr != nil {
			return nil, r.fail(&Error{Kind: ErrRoleAdmission, cause: aerr})
		}
		if !ok {
			return nil, r.fail(&Error{Kind: ErrValidation, Reason: string(validation.ReasonRoleNotPermitted)})
		}
	}

	r.enter(StateCheckingUniqueness)
	taken, err := w.registry.Exists(ctx, in.Identifier)
	if err != nil {
		return nil, r.fail(&Error{Kind: ErrUniquenessCheck, cause: err})
	}
	if taken {
		return nil, r.fail(&Error{Kind: ErrIdentifierTaken})
	}

	r.enter(StateCreatingPrincipal)
	acct := resolveAccount(in, r.grant)
	r.email = acct.Email
	key, err := w.principals.CreatePrincipal(ctx, acct.Email, acct.Secret)
	if err != nil {
		return nil, r.fail(&Error{Kind: ErrPrincipalCreation, Reason: string(principal.KindOf(err)), cause: err})
	}
	r.accountKey = key
	r.log = r.log.WithField("account_key", key)

	r.enter(StateWritingProfile)
	profile := &domain.Profile{
		AccountKey: key,
		Name:       acct.DisplayName,
		Email:      acct.Email,
		Identifier: acct.Identifier,
		Role:       acct.Grant.Role,
	}
	if err := w.profiles.Upsert(ctx, profile); err != nil {
		return nil, r.fail(&Error{Kind: ErrProfileWrite, cause: err})
	}

	r.enter(StateWritingRegistry)
	if w.opts.StrictUniqueness {
		reserved, err := w.registry.ReserveIfAbsent(ctx, acct.Identifier, key, acct.Email)
		if err != nil {
			return nil, r.fail(&Error{Kind: ErrRegistryWrite, cause: err})
		}
		if !reserved {
			return nil, r.fail(&Error{Kind: ErrIdentifierTaken})
		}
	} else if err := w.registry.Reserve(ctx, acct.Identifier, key, acct.Email); err != nil {
		return nil, r.fail(&Error{Kind: ErrRegistryWrite, cause: err})
	}

	r.enter(StateCommittingSession)
	if w.sessions != nil {
		st := sessiondomain.State{
			Identifier:  acct.Identifier,
			Role:        string(acct.Grant.Role),
			DisplayName: acct.DisplayName,
			Email:       acct.Email,
		}
		if err := w.sessions.Save(ctx, st); err != nil {
			r.log.WithError(err).Warn("provisioning: session commit failed; account is provisioned")
		}
	}

	r.enter(StateDone)
	return &domain.Result{
		Identifier:  acct.Identifier,
		AccountKey:  key,
		Role:        acct.Grant.Role,
		DisplayName: acct.DisplayName,
		Email:       acct.Email,
	}, nil
}

// grantFor computes the role grant once per run. A preset match always grants ADMIN.
func grantFor(in domain.ValidatedInput) domain.RoleGrant {
	if in.Preset != nil {
		return domain.RoleGrant{Role: domain.RoleAdmin, Source: domain.RoleSourcePreset}
	}
	return domain.RoleGrant{Role: in.Role, Source: domain.RoleSourceUser}
}

// resolveAccount picks the effective credentials: the preset's when matched, the form's otherwise.
func resolveAccount(in domain.ValidatedInput, grant domain.RoleGrant) domain.Account {
	if in.Preset == nil {
		return domain.Account{
			Identifier:  in.Identifier,
			Email:       in.Email,
			Secret:      in.Secret,
			DisplayName: in.Name,
			Grant:       grant,
		}
	}
	name := in.Preset.DisplayName
	if name == "" {
		name = in.Name
	}
	if name == "" {
		name = "Admin"
	}
	return domain.Account{
		Identifier:  in.Identifier,
		Email:       in.Preset.Email,
		Secret:      in.Preset.Secret,
		DisplayName: name,
		Grant:       grant,
	}
}

// compensate hands the orphaned principal to the compensator. The call is detached
// from ctx so a cancelled request still records the orphan.
func (w *Workflow) compensate(ctx context.Context, r *run, e *Error) {
	if w.opts.Compensator == nil {
		r.log.WithField("stage", e.Stage).Warn("provisioning: partial failure left uncompensated")
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	orphan := domain.Orphan{
		AccountKey: r.accountKey,
		Identifier: r.identifier,
		Email:      r.email,
		Stage:      string(e.Stage),
		Reason:     e.Kind.Error(),
		DetectedAt: w.nowF().UTC(),
	}
	// A failed registry write can still have landed (a deadline after commit).
	orphan.Unconfirmed = e.Kind == ErrRegistryWrite
	if err := w.opts.Compensator.Compensate(cctx, orphan); err != nil {
		r.log.WithError(err).Error("provisioning: compensation failed")
		return
	}
	e.Compensated = true
	if w.opts.Audit != nil {
		w.opts.Audit.LogEvent(ctx, r.identifier, r.accountKey, audit.ActionProvisioningCompensated, "account", metadataJSON(map[string]any{
			"stage":  e.Stage,
			"reason": e.Kind.Error(),
		}))
	}
}

// outcome is the metric/event label for err: "done" on success, otherwise a snake_case kind.
func outcome(err *Error) string {
	if err == nil {
		return "done"
	}
	switch err.Kind {
	case ErrValidation:
		return "validation_error"
	case ErrIdentifierTaken:
		return "identifier_taken"
	case ErrUniquenessCheck:
		return "uniqueness_check_error"
	case ErrRoleAdmission:
		return "role_admission_error"
	case ErrPrincipalCreation:
		return "principal_creation_error"
	case ErrProfileWrite:
		return "profile_write_error"
	case ErrRegistryWrite:
		return "registry_write_error"
	}
	return "unknown"
}

func (w *Workflow) recordSuccess(ctx context.Context, r *run, res *domain.Result) {
	r.span.SetAttributes(
		attribute.String("provisioning.identifier", res.Identifier),
		attribute.String("provisioning.role", string(res.Role)),
		attribute.String("provisioning.role_source", string(r.grant.Source)),
	)
	w.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome(nil)),
		attribute.String("role", string(res.Role)),
	))
	r.log.WithFields(logrus.Fields{"role": res.Role, "role_source": r.grant.Source}).Info("provisioning: account provisioned")
	meta := metadataJSON(map[string]any{"role": res.Role, "role_source": r.grant.Source})
	if w.opts.Audit != nil {
		w.opts.Audit.LogEvent(ctx, res.Identifier, res.AccountKey, audit.ActionAccountProvisioned, "account", meta)
	}
	telemetry.EmitAsync(w.opts.Events, ctx, &telemetrydomain.Event{
		EventType:  audit.ActionAccountProvisioned,
		Identifier: res.Identifier,
		AccountKey: res.AccountKey,
		Role:       string(res.Role),
		Stage:      string(StateDone),
		Outcome:    outcome(nil),
		Source:     "workflow",
		Metadata:   []byte(meta),
		CreatedAt:  w.nowF().UTC(),
	})
}

func (w *Workflow) recordFailure(ctx context.Context, r *run, e *Error) {
	out := outcome(e)
	r.span.SetStatus(codes.Error, e.Error())
	r.span.SetAttributes(
		attribute.String("provisioning.outcome", out),
		attribute.String("provisioning.stage", string(e.Stage)),
		attribute.Bool("provisioning.partial", e.Partial()),
	)
	w.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", out),
		attribute.String("stage", string(e.Stage)),
	))
	entry := r.log.WithFields(logrus.Fields{
		"stage":       e.Stage,
		"outcome":     out,
		"reason":      e.Reason,
		"partial":     e.Partial(),
		"compensated": e.Compensated,
	})
	if e.cause != nil {
		entry = entry.WithError(e.cause)
	}
	if e.Partial() {
		entry.Error("provisioning: failed after principal creation")
	} else {
		entry.Info("provisioning: rejected")
	}
	meta := metadataJSON(map[string]any{
		"stage":       e.Stage,
		"outcome":     out,
		"reason":      e.Reason,
		"partial":     e.Partial(),
		"compensated": e.Compensated,
	})
	if w.opts.Audit != nil {
		w.opts.Audit.LogEvent(ctx, r.identifier, r.accountKey, audit.ActionProvisioningFailed, "account", meta)
	}
	telemetry.EmitAsync(w.opts.Events, ctx, &telemetrydomain.Event{
		EventType:  audit.ActionProvisioningFailed,
		Identifier: r.identifier,
		AccountKey: r.accountKey,
		Role:       string(r.grant.Role),
		Stage:      string(e.Stage),
		Outcome:    out,
		Source:     "workflow",
		Metadata:   []byte(meta),
		CreatedAt:  w.nowF().UTC(),
	})
}

func metadataJSON(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
