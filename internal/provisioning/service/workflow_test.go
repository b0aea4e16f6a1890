package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"lab-access/backend/internal/cleanup"
	"lab-access/backend/internal/docstore"
	policyengine "lab-access/backend/internal/policy/engine"
	"lab-access/backend/internal/principal"
	profilerepo "lab-access/backend/internal/profile/repository"
	"lab-access/backend/internal/provisioning/domain"
	"lab-access/backend/internal/provisioning/preset"
	"lab-access/backend/internal/provisioning/validation"
	registryrepo "lab-access/backend/internal/registry/repository"
	sessiondomain "lab-access/backend/internal/session/domain"
	telemetrydomain "lab-access/backend/internal/telemetry/domain"
)

type faultyRegistry struct {
	*registryrepo.DocumentRepository
	mu           sync.Mutex
	existsCalls  int
	existsErr    error
	reserveErr   error
	reserveLands bool
	beforeExists func()
}

func (r *faultyRegistry) Exists(ctx context.Context, identifier string) (bool, error) {
	r.mu.Lock()
	r.existsCalls++
	hook := r.beforeExists
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if r.existsErr != nil {
		return false, r.existsErr
	}
	return r.DocumentRepository.Exists(ctx, identifier)
}

func (r *faultyRegistry) Reserve(ctx context.Context, identifier, accountKey, email string) error {
	if r.reserveErr != nil {
		if r.reserveLands {
			if err := r.DocumentRepository.Reserve(ctx, identifier, accountKey, email); err != nil {
				return err
			}
		}
		return r.reserveErr
	}
	return r.DocumentRepository.Reserve(ctx, identifier, accountKey, email)
}

func (r *faultyRegistry) ReserveIfAbsent(ctx context.Context, identifier, accountKey, email string) (bool, error) {
	if r.reserveErr != nil {
		return false, r.reserveErr
	}
	return r.DocumentRepository.ReserveIfAbsent(ctx, identifier, accountKey, email)
}

type faultyProfiles struct {
	*profilerepo.DocumentRepository
	upsertErr error
}

func (p *faultyProfiles) Upsert(ctx context.Context, prof *domain.Profile) error {
	if p.upsertErr != nil {
		return p.upsertErr
	}
	return p.DocumentRepository.Upsert(ctx, prof)
}

type credentials struct{ email, secret string }

type fakeProvider struct {
	mu    sync.Mutex
	calls []credentials
	err   error
}

func (p *fakeProvider) CreatePrincipal(ctx context.Context, email, secret string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, credentials{email, secret})
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("uid-%d", len(p.calls)), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeSessions struct {
	mu    sync.Mutex
	saved []sessiondomain.State
	err   error
}

func (s *fakeSessions) Save(ctx context.Context, st sessiondomain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, st)
	return nil
}

type fakeCompensator struct {
	mu      sync.Mutex
	orphans []domain.Orphan
	err     error
}

func (c *fakeCompensator) Compensate(ctx context.Context, o domain.Orphan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orphans = append(c.orphans, o)
	return c.err
}

type auditCall struct{ subject, accountKey, action string }

type fakeAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *fakeAudit) LogEvent(ctx context.Context, subject, accountKey, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{subject, accountKey, action})
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.calls {
		out = append(out, c.action)
	}
	return out
}

type fakeAdmitter struct {
	allow bool
	err   error
}

func (a fakeAdmitter) AdmitRole(ctx context.Context, identifier string, grant domain.RoleGrant) (bool, error) {
	return a.allow, a.err
}

type chanEmitter chan *telemetrydomain.Event

func (c chanEmitter) Emit(ctx context.Context, e *telemetrydomain.Event) error {
	c <- e
	return nil
}

type harness struct {
	store       *docstore.MemoryStore
	registry    *faultyRegistry
	profiles    *faultyProfiles
	provider    *fakeProvider
	sessions    *fakeSessions
	compensator *fakeCompensator
	audit       *fakeAudit
	logHook     *logtest.Hook

	mu          sync.Mutex
	transitions []State
}

func newHarness() *harness {
	store := docstore.NewMemoryStore()
	return &harness{
		store:       store,
		registry:    &faultyRegistry{DocumentRepository: registryrepo.NewDocumentRepository(store)},
		profiles:    &faultyProfiles{DocumentRepository: profilerepo.NewDocumentRepository(store)},
		provider:    &fakeProvider{},
		sessions:    &fakeSessions{},
		compensator: &fakeCompensator{},
		audit:       &fakeAudit{},
	}
}

func (h *harness) workflow(opts Options) *Workflow {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	h.logHook = hook
	opts.Logger = log
	if opts.Compensator == nil {
		opts.Compensator = h.compensator
	}
	if opts.Audit == nil {
		opts.Audit = h.audit
	}
	opts.OnTransition = func(from, to State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.transitions = append(h.transitions, to)
	}
	return NewWorkflow(preset.Default(), h.registry, h.profiles, h.provider, h.sessions, opts)
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.transitions...)
}

func studentForm(identifier string) domain.RawInput {
	return domain.RawInput{
		Name:       "Alice",
		Identifier: identifier,
		Email:      "a@x.com",
		Secret:     "password1",
		Confirm:    "password1",
		Role:       "STUDENT",
	}
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v (%T) is not *Error", err, err)
	}
	return perr
}

func TestProvision_StudentOnEmptyRegistry(t *testing.T) {
	h := newHarness()
	wf := h.workflow(Options{})
	ctx := context.Background()

	res, err := wf.Provision(ctx, studentForm("S1001"))
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if res.Role != domain.RoleStudent || res.Identifier != "S1001" || res.DisplayName != "Alice" || res.Email != "a@x.com" {
		t.Errorf("result = %+v", res)
	}

	prof, err := h.profiles.GetByAccountKey(ctx, res.AccountKey)
	if err != nil || prof == nil {
		t.Fatalf("GetByAccountKey = %v, %v", prof, err)
	}
	if prof.Role != domain.RoleStudent {
		t.Errorf("profile role = %q, want STUDENT", prof.Role)
	}
	if prof.Identifier != "S1001" || prof.Email != "a@x.com" || prof.Name != "Alice" {
		t.Errorf("profile = %+v", prof)
	}
	if prof.CreatedAt.IsZero() {
		t.Error("profile createdAt should be stamped by the store")
	}
	entry, err := h.registry.Lookup(ctx, "S1001")
	if err != nil || entry == nil {
		t.Fatalf("Lookup = %v, %v", entry, err)
	}
	if entry.AccountKey != res.AccountKey || entry.Email != "a@x.com" {
		t.Errorf("registry entry = %+v, want key %q", entry, res.AccountKey)
	}
	if n := h.store.Len(registryrepo.Collection); n != 1 {
		t.Errorf("registry entries = %d, want 1", n)
	}
	if n := h.store.Len(profilerepo.Collection); n != 1 {
		t.Errorf("profiles = %d, want 1", n)
	}
	if n := h.provider.callCount(); n != 1 {
		t.Errorf("principals created = %d, want 1", n)
	}
	if len(h.sessions.saved) != 1 || h.sessions.saved[0].Role != "STUDENT" || h.sessions.saved[0].Identifier != "S1001" {
		t.Errorf("session = %+v", h.sessions.saved)
	}

	want := []State{
		StateValidating, StateCheckingUniqueness, StateCreatingPrincipal, StateWritingProfile,
		StateWritingRegistry, StateCommittingSession, StateDone,
	}
	got := h.states()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
	if acts := h.audit.actions(); len(acts) != 1 || acts[0] != "account_provisioned" {
		t.Errorf("audit actions = %v", acts)
	}
}

func TestProvision_PresetForcesAdminAndPresetCredentials(t *testing.T) {
	h := newHarness()
	admitter, err := policyengine.NewOPAEvaluator(context.Background(), policyengine.DefaultAdmissionPolicy)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	wf := h.workflow(Options{Admitter: admitter})

	form := domain.RawInput{
		Name:       "Bob",
		Identifier: "A0001",
		Email:      "bob@x.com",
		Secret:     "short",
		Confirm:    "different",
		Role:       "STUDENT",
	}
	res, err := wf.Provision(context.Background(), form)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if res.Role != domain.RoleAdmin {
		t.Errorf("role = %q, want ADMIN", res.Role)
	}
	if res.Email != "venkatesh@eee.sastra.edu" || res.DisplayName != "T. Venkatesh" {
		t.Errorf("result = %+v", res)
	}
	if len(h.provider.calls) != 1 {
		t.Fatalf("principal calls = %d, want 1", len(h.provider.calls))
	}
	if c := h.provider.calls[0]; c.email != "venkatesh@eee.sastra.edu" || c.secret != "admin1" {
		t.Errorf("principal created with %+v, want preset credentials", c)
	}
	prof, _ := h.profiles.GetByAccountKey(context.Background(), res.AccountKey)
	if prof == nil || prof.Role != domain.RoleAdmin || prof.Email != "venkatesh@eee.sastra.edu" {
		t.Errorf("profile = %+v", prof)
	}
}

func TestProvision_PresetDisplayNameFallback(t *testing.T) {
	h := newHarness()
	log, _ := logtest.NewNullLogger()
	table := preset.NewTable(domain.AdminPreset{Identifier: "A9", Email: "x@y.com", Secret: "secret9"})
	wf := NewWorkflow(table, h.registry, h.profiles, h.provider, nil, Options{Logger: log})

	res, err := wf.Provision(context.Background(), domain.RawInput{Name: "Carol", Identifier: "A9"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if res.DisplayName != "Carol" {
		t.Errorf("display name = %q, want form name", res.DisplayName)
	}
}

func TestProvision_IdentifierTakenHasNoSideEffects(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if err := h.registry.Reserve(ctx, "S1001", "existing-uid", "old@x.com"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	wf := h.workflow(Options{})

	_, err := wf.Provision(ctx, studentForm("S1001"))
	if !errors.Is(err, ErrIdentifierTaken) {
		t.Fatalf("err = %v, want ErrIdentifierTaken", err)
	}
	perr := asError(t, err)
	if perr.Partial() {
		t.Error("identifier taken must not be partial")
	}
	if perr.Stage != StateCheckingUniqueness {
		t.Errorf("stage = %s, want CheckingUniqueness", perr.Stage)
	}
	if !strings.Contains(perr.Message(), `"S1001"`) {
		t.Errorf("message = %q, want identifier quoted", perr.Message())
	}
	if n := h.provider.callCount(); n != 0 {
		t.Errorf("principal calls = %d, want 0", n)
	}
	if n := h.store.Len(profilerepo.Collection); n != 0 {
		t.Errorf("profiles = %d, want 0", n)
	}
	entry, _ := h.registry.Lookup(ctx, "S1001")
	if entry == nil || entry.AccountKey != "existing-uid" {
		t.Errorf("registry entry = %+v, want unchanged", entry)
	}
	if len(h.sessions.saved) != 0 {
		t.Errorf("sessions = %d, want 0", len(h.sessions.saved))
	}
	if len(h.compensator.orphans) != 0 {
		t.Errorf("compensations = %d, want 0", len(h.compensator.orphans))
	}
	if acts := h.audit.actions(); len(acts) != 1 || acts[0] != "provisioning_failed" {
		t.Errorf("audit actions = %v", acts)
	}
}

func TestProvision_ValidationFailsBeforeAnyNetworkCall(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.RawInput)
		reason validation.Reason
	}{
		{"mismatch", func(f *domain.RawInput) { f.Confirm = "password2" }, validation.ReasonSecretMismatch},
		{"weak", func(f *domain.RawInput) { f.Secret, f.Confirm = "short", "short" }, validation.ReasonWeakSecret},
		{"email", func(f *domain.RawInput) { f.Email = "not-an-email" }, validation.ReasonInvalidEmail},
		{"missing name", func(f *domain.RawInput) { f.Name = "  " }, validation.ReasonMissingFields},
		{"admin role", func(f *domain.RawInput) { f.Role = "ADMIN" }, validation.ReasonInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			wf := h.workflow(Options{})
			form := studentForm("S1001")
			tt.mutate(&form)

			_, err := wf.Provision(context.Background(), form)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			if perr := asError(t, err); perr.Reason != string(tt.reason) {
				t.Errorf("reason = %q, want %q", perr.Reason, tt.reason)
			}
			if h.registry.existsCalls != 0 {
				t.Errorf("registry reads = %d, want 0", h.registry.existsCalls)
			}
			if n := h.provider.callCount(); n != 0 {
				t.Errorf("principal calls = %d, want 0", n)
			}
		})
	}
}

func TestProvision_AdmitterDenies(t *testing.T) {
	h := newHarness()
	wf := h.workflow(Options{Admitter: fakeAdmitter{allow: false}})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if perr := asError(t, err); perr.Reason != string(validation.ReasonRoleNotPermitted) {
		t.Errorf("reason = %q, want RoleNotPermitted", perr.Reason)
	}
	if h.registry.existsCalls != 0 {
		t.Errorf("registry reads = %d, want 0", h.registry.existsCalls)
	}
}

func TestProvision_AdmitterFailureIsNotValidation(t *testing.T) {
	h := newHarness()
	wf := h.workflow(Options{Admitter: fakeAdmitter{err: errors.New("policy evaluation failed")}})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrRoleAdmission) {
		t.Fatalf("err = %v, want ErrRoleAdmission", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Error("an evaluator fault must not be reported as invalid input")
	}
	perr := asError(t, err)
	if perr.Stage != StateValidating || perr.Partial() {
		t.Errorf("stage = %s, partial = %v", perr.Stage, perr.Partial())
	}
	if h.registry.existsCalls != 0 || h.provider.callCount() != 0 {
		t.Errorf("registry reads = %d, principal calls = %d, want 0", h.registry.existsCalls, h.provider.callCount())
	}
}

func TestProvision_UniquenessCheckFailure(t *testing.T) {
	h := newHarness()
	h.registry.existsErr = errors.New("store unavailable")
	wf := h.workflow(Options{})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrUniquenessCheck) {
		t.Fatalf("err = %v, want ErrUniquenessCheck", err)
	}
	if asError(t, err).Partial() {
		t.Error("uniqueness check failure must not be partial")
	}
	if n := h.provider.callCount(); n != 0 {
		t.Errorf("principal calls = %d, want 0", n)
	}
}

func TestProvision_PrincipalCreationFailure(t *testing.T) {
	h := newHarness()
	h.provider.err = &principal.Error{Kind: principal.KindEmailInUse}
	wf := h.workflow(Options{})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrPrincipalCreation) {
		t.Fatalf("err = %v, want ErrPrincipalCreation", err)
	}
	perr := asError(t, err)
	if perr.Reason != string(principal.KindEmailInUse) {
		t.Errorf("reason = %q, want EmailInUse", perr.Reason)
	}
	if perr.Partial() {
		t.Error("principal creation failure must not be partial")
	}
	if !strings.Contains(perr.Message(), "Email already in use") {
		t.Errorf("message = %q", perr.Message())
	}
	if h.store.Len(profilerepo.Collection) != 0 || h.store.Len(registryrepo.Collection) != 0 {
		t.Error("no documents should be written after a principal creation failure")
	}
	if len(h.compensator.orphans) != 0 {
		t.Errorf("compensations = %d, want 0", len(h.compensator.orphans))
	}
}

func TestProvision_ProfileWriteFailureIsCompensated(t *testing.T) {
	h := newHarness()
	h.profiles.upsertErr = errors.New("write rejected")
	wf := h.workflow(Options{})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrProfileWrite) {
		t.Fatalf("err = %v, want ErrProfileWrite", err)
	}
	perr := asError(t, err)
	if !perr.Partial() || perr.AccountKey != "uid-1" {
		t.Errorf("partial = %v, account key = %q, want partial uid-1", perr.Partial(), perr.AccountKey)
	}
	if !perr.Compensated {
		t.Error("expected compensation")
	}
	if len(h.compensator.orphans) != 1 {
		t.Fatalf("compensations = %d, want 1", len(h.compensator.orphans))
	}
	o := h.compensator.orphans[0]
	if o.AccountKey != "uid-1" || o.Identifier != "S1001" || o.Email != "a@x.com" || o.Stage != string(StateWritingProfile) || o.Unconfirmed {
		t.Errorf("orphan = %+v", o)
	}
	if h.store.Len(registryrepo.Collection) != 0 {
		t.Error("registry must not be written after a profile failure")
	}
	acts := h.audit.actions()
	if len(acts) != 2 || acts[0] != "provisioning_compensated" || acts[1] != "provisioning_failed" {
		t.Errorf("audit actions = %v", acts)
	}
}

func TestProvision_RegistryWriteFailureIsCompensated(t *testing.T) {
	h := newHarness()
	h.registry.reserveErr = errors.New("write rejected")
	wf := h.workflow(Options{})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrRegistryWrite) {
		t.Fatalf("err = %v, want ErrRegistryWrite", err)
	}
	perr := asError(t, err)
	if perr.Stage != StateWritingRegistry || !perr.Compensated {
		t.Errorf("stage = %s, compensated = %v", perr.Stage, perr.Compensated)
	}
	if h.store.Len(profilerepo.Collection) != 1 {
		t.Error("profile written before the registry failure should remain for the sweeper")
	}
	if len(h.sessions.saved) != 0 {
		t.Error("session must not be committed after a registry failure")
	}
	if len(h.compensator.orphans) != 1 || !h.compensator.orphans[0].Unconfirmed {
		t.Errorf("orphans = %+v, want one unconfirmed", h.compensator.orphans)
	}
}

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (d *recordingDeleter) DeletePrincipal(ctx context.Context, accountKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, accountKey)
	return nil
}

// A registry write that committed but reported a deadline must not cost the
// account its principal: the sweep finds the entry and keeps everything.
func TestProvision_RegistryWriteLandedDespiteErrorKeepsPrincipal(t *testing.T) {
	h := newHarness()
	h.registry.reserveErr = context.DeadlineExceeded
	h.registry.reserveLands = true
	deleter := &recordingDeleter{}
	wf := h.workflow(Options{Compensator: cleanup.NewMarkerCompensator(h.store, deleter, nil)})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	if !errors.Is(err, ErrRegistryWrite) {
		t.Fatalf("err = %v, want ErrRegistryWrite", err)
	}
	if !asError(t, err).Compensated {
		t.Error("orphan should be recorded")
	}
	if len(deleter.deleted) != 0 {
		t.Fatalf("deleted = %v before the sweep", deleter.deleted)
	}

	rep, err := cleanup.NewSweeper(h.store, h.registry, h.profiles, deleter, 0, nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Resolved != 1 || len(deleter.deleted) != 0 {
		t.Errorf("report = %+v, deleted = %v", rep, deleter.deleted)
	}
	entry, _ := h.registry.Lookup(context.Background(), "S1001")
	if entry == nil || entry.AccountKey != "uid-1" {
		t.Fatalf("registry entry = %+v", entry)
	}
	if p, _ := h.profiles.GetByAccountKey(context.Background(), "uid-1"); p == nil {
		t.Error("profile must be kept")
	}
	if h.store.Len(cleanup.Collection) != 0 {
		t.Error("marker should be resolved")
	}
}

func TestProvision_CompensatorFailureLeavesUncompensated(t *testing.T) {
	h := newHarness()
	h.profiles.upsertErr = errors.New("write rejected")
	h.compensator.err = errors.New("marker write failed")
	wf := h.workflow(Options{})

	_, err := wf.Provision(context.Background(), studentForm("S1001"))
	perr := asError(t, err)
	if !perr.Partial() || perr.Compensated {
		t.Errorf("partial = %v, compensated = %v, want true, false", perr.Partial(), perr.Compensated)
	}
	var found bool
	for _, e := range h.logHook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "provisioning: compensation failed" {
			found = true
		}
	}
	if !found {
		t.Error("expected compensation failure to be logged at error level")
	}
}

func TestProvision_SessionFailureIsLoggedAndSwallowed(t *testing.T) {
	h := newHarness()
	h.sessions.err = errors.New("redis down")
	wf := h.workflow(Options{})

	res, err := wf.Provision(context.Background(), studentForm("S1001"))
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if res.Role != domain.RoleStudent {
		t.Errorf("role = %q", res.Role)
	}
	var warned bool
	for _, e := range h.logHook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "session commit failed") {
			warned = true
			if e.Data["identifier"] != "S1001" {
				t.Errorf("log identifier = %v", e.Data["identifier"])
			}
		}
	}
	if !warned {
		t.Error("session failure should be logged at warn level")
	}
}

func TestProvision_EmitsTelemetryEvent(t *testing.T) {
	h := newHarness()
	events := make(chanEmitter, 1)
	wf := h.workflow(Options{Events: events})

	res, err := wf.Provision(context.Background(), studentForm("S1001"))
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	e := <-events
	if e.EventType != "account_provisioned" || e.AccountKey != res.AccountKey || e.Outcome != "done" {
		t.Errorf("event = %+v", e)
	}
}

// Two concurrent runs for one free identifier both pass the uniqueness check in the
// default mode: both create principals and profiles, and the later registry write wins.
func TestProvision_ConcurrentSameIdentifierRace(t *testing.T) {
	h := newHarness()
	var arrived sync.WaitGroup
	arrived.Add(2)
	h.registry.beforeExists = func() {
		arrived.Done()
		arrived.Wait()
	}
	wf := h.workflow(Options{})

	var wg sync.WaitGroup
	results := make([]*domain.Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = wf.Provision(context.Background(), studentForm("S1001"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n := h.provider.callCount(); n != 2 {
		t.Errorf("principals created = %d, want 2", n)
	}
	if results[0].AccountKey == results[1].AccountKey {
		t.Errorf("both runs returned account key %q", results[0].AccountKey)
	}
	if n := h.store.Len(profilerepo.Collection); n != 2 {
		t.Errorf("profiles = %d, want 2", n)
	}
	if n := h.store.Len(registryrepo.Collection); n != 1 {
		t.Errorf("registry entries = %d, want 1", n)
	}
	entry, _ := h.registry.Lookup(context.Background(), "S1001")
	if entry == nil || (entry.AccountKey != results[0].AccountKey && entry.AccountKey != results[1].AccountKey) {
		t.Errorf("registry entry = %+v, want one of the two account keys", entry)
	}
}

func TestProvision_StrictUniquenessRejectsRaceLoser(t *testing.T) {
	h := newHarness()
	var arrived sync.WaitGroup
	arrived.Add(2)
	h.registry.beforeExists = func() {
		arrived.Done()
		arrived.Wait()
	}
	wf := h.workflow(Options{StrictUniqueness: true})

	var wg sync.WaitGroup
	results := make([]*domain.Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = wf.Provision(context.Background(), studentForm("S1001"))
		}(i)
	}
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	if errs[winner] != nil {
		t.Fatalf("winner: %v", errs[winner])
	}
	if !errors.Is(errs[loser], ErrIdentifierTaken) {
		t.Fatalf("loser err = %v, want ErrIdentifierTaken", errs[loser])
	}
	perr := asError(t, errs[loser])
	if perr.Stage != StateWritingRegistry || !perr.Partial() || !perr.Compensated {
		t.Errorf("loser = %+v", perr)
	}
	entry, _ := h.registry.Lookup(context.Background(), "S1001")
	if entry == nil || entry.AccountKey != results[winner].AccountKey {
		t.Errorf("registry entry = %+v, want winner %q", entry, results[winner].AccountKey)
	}
	if len(h.compensator.orphans) != 1 || h.compensator.orphans[0].AccountKey == results[winner].AccountKey {
		t.Errorf("orphans = %+v", h.compensator.orphans)
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: ErrValidation, Reason: string(validation.ReasonSecretMismatch)}, "passwords do not match"},
		{&Error{Kind: ErrIdentifierTaken, Identifier: "S1"}, `The Login ID "S1" is already taken.`},
		{&Error{Kind: ErrPrincipalCreation, Reason: string(principal.KindOperationDisabled)}, "Email/password sign-up is disabled for this application."},
		{&Error{Kind: ErrRegistryWrite}, "Sign up failed. Could not create your account."},
		{&Error{Kind: ErrRoleAdmission}, "Could not verify the requested role right now. Please try again."},
	}
	for _, tt := range tests {
		if got := tt.err.Message(); got != tt.want {
			t.Errorf("Message(%v) = %q, want %q", tt.err.Kind, got, tt.want)
		}
	}
}
