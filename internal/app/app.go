// Package app assembles the provisioning workflow and its backing stores from config.
// Shared by cmd/server, cmd/seed and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/audit"
	auditrepo "lab-access/backend/internal/audit/repository"
	"lab-access/backend/internal/cleanup"
	"lab-access/backend/internal/config"
	"lab-access/backend/internal/db"
	"lab-access/backend/internal/docstore"
	healthhandler "lab-access/backend/internal/health/handler"
	"lab-access/backend/internal/policy/engine"
	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/principal/identitytoolkit"
	"lab-access/backend/internal/principal/local"
	profilerepo "lab-access/backend/internal/profile/repository"
	"lab-access/backend/internal/provisioning/preset"
	"lab-access/backend/internal/provisioning/service"
	registryrepo "lab-access/backend/internal/registry/repository"
	"lab-access/backend/internal/security"
	"lab-access/backend/internal/server/interceptors"
	sessionrepo "lab-access/backend/internal/session/repository"
	"lab-access/backend/internal/telemetry"
	otelsetup "lab-access/backend/internal/telemetry/otel"
	"lab-access/backend/internal/telemetry/producer"
)

// App holds the constructed components. Optional components are nil when not configured.
type App struct {
	Config *config.Config
	Log    logrus.FieldLogger

	DB    *sql.DB
	Redis *redis.Client

	Store      docstore.Store
	Registry   *registryrepo.DocumentRepository
	Profiles   *profilerepo.DocumentRepository
	Principals principal.Provider
	// Deleter is set when the principal provider can delete principals.
	Deleter  principal.Deleter
	Sessions service.SessionRepo
	Presets  *preset.Table
	Admitter *engine.OPAEvaluator
	Audit    audit.AuditLogger
	Emitter  telemetry.EventEmitter
	OTel     *otelsetup.Providers
	Workflow *service.Workflow

	// Checks are the readiness checks for the configured dependencies.
	Checks []healthhandler.Check

	closers []func(context.Context) error
}

// New builds every component for cfg. On error, anything already opened is closed.
// Call Close when done.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *App, err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.NeedsDatabase() {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("app: DATABASE_URL is required for DOCUMENT_STORE=postgres or PRINCIPAL_PROVIDER=local")
		}
		if a.DB, err = db.Open(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("app: open database: %w", err)
		}
		a.onClose(func(context.Context) error { return a.DB.Close() })
		a.Checks = append(a.Checks, healthhandler.PingCheck("postgres", a.DB))
	}

	if a.Presets, err = loadPresets(cfg); err != nil {
		return nil, err
	}

	switch cfg.DocumentStore {
	case config.StoreMemory:
		a.Store = docstore.NewMemoryStore()
	default:
		a.Store = docstore.NewPostgresStore(a.DB)
	}
	a.Registry = registryrepo.NewDocumentRepository(a.Store)
	a.Profiles = profilerepo.NewDocumentRepository(a.Store)

	switch cfg.PrincipalProvider {
	case config.ProviderIdentityToolkit:
		a.Principals = identitytoolkit.NewClient(cfg.IdentityToolkitBaseURL, cfg.IdentityToolkitAPIKey, &http.Client{Timeout: 10 * time.Second})
	default:
		lp := local.NewProvider(a.DB, security.NewHasher(cfg.BcryptCost), cfg.PrincipalSignupEnabled)
		a.Principals = lp
		a.Deleter = lp
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if perr := client.Ping(ctx).Err(); perr != nil {
			// Sessions are best-effort; provisioning keeps working on the in-process sink.
			log.WithError(perr).WithField("redis_addr", cfg.RedisAddr).Warn("app: redis unreachable; using in-memory sessions")
			_ = client.Close()
		} else {
			a.Redis = client
			a.onClose(func(context.Context) error { return client.Close() })
			a.Sessions = sessionrepo.NewRedisRepository(client, cfg.SessionTTLDuration())
			a.Checks = append(a.Checks, healthhandler.Check{Name: "redis", Fn: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}})
		}
	}
	if a.Sessions == nil {
		a.Sessions = sessionrepo.NewMemoryRepository(cfg.SessionTTLDuration())
	}

	if a.Admitter, err = engine.NewOPAEvaluator(ctx, engine.DefaultAdmissionPolicy); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Checks = append(a.Checks, healthhandler.PolicyCheck("opa", a.Admitter))

	if a.DB != nil {
		a.Audit = audit.NewLogger(auditrepo.NewPostgresRepository(a.DB), interceptors.ClientIP, log)
	}

	if a.OTel, err = otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
	}); err != nil {
		return nil, fmt.Errorf("app: otel: %w", err)
	}
	a.OTel.SetGlobal()
	a.onClose(a.OTel.Shutdown)

	emitters := telemetry.Fanout{otelsetup.NewEventEmitter(a.OTel.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); kp != nil {
		emitters = append(emitters, kp)
		a.onClose(func(context.Context) error { return kp.Close() })
	}
	a.Emitter = emitters

	var deleter principal.Deleter
	if cfg.CompensationDeletePrincipal {
		deleter = a.Deleter
	}
	a.Workflow = service.NewWorkflow(a.Presets, a.Registry, a.Profiles, a.Principals, a.Sessions, service.Options{
		StrictUniqueness: cfg.StrictIdentifierUniqueness,
		Admitter:         a.Admitter,
		Compensator:      cleanup.NewMarkerCompensator(a.Store, deleter, log),
		Audit:            a.Audit,
		Events:           a.Emitter,
		Logger:           log,
	})
	return a, nil
}

// Sweeper returns a cleanup sweeper over the app's stores. Principals are deleted only
// when COMPENSATION_DELETE_PRINCIPAL is set and the provider supports it.
func (a *App) Sweeper() *cleanup.Sweeper {
	var deleter principal.Deleter
	if a.Config.CompensationDeletePrincipal {
		deleter = a.Deleter
	}
	return cleanup.NewSweeper(a.Store, a.Registry, a.Profiles, deleter, a.Config.CleanupBatchSize, a.Log)
}

// Close releases components in reverse order of construction and returns the first error.
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func loadPresets(cfg *config.Config) (*preset.Table, error) {
	if cfg.AdminPresetsFile == "" {
		return preset.Default(), nil
	}
	t, err := preset.LoadFile(cfg.AdminPresetsFile)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return t, nil
}
