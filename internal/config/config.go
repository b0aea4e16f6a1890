// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Principal providers.
const (
	ProviderLocal           = "local"
	ProviderIdentityToolkit = "identitytoolkit"
)

// Document stores.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required by the postgres document store, the local principal provider and audit logging.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "text" or "json". Defaults to json in production.
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogFile, when set, additionally writes logs to a rotating file.
	LogFile string `mapstructure:"LOG_FILE"`

	// BcryptCost is the bcrypt cost factor (4–31) used by the local principal provider; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PrincipalProvider selects the identity provider: "local" or "identitytoolkit".
	PrincipalProvider string `mapstructure:"PRINCIPAL_PROVIDER"`
	// PrincipalSignupEnabled gates email/password principal creation in the local provider.
	PrincipalSignupEnabled bool `mapstructure:"PRINCIPAL_SIGNUP_ENABLED"`
	// IdentityToolkitAPIKey is the API key for the Identity Toolkit REST API. Required with PRINCIPAL_PROVIDER=identitytoolkit.
	IdentityToolkitAPIKey string `mapstructure:"IDENTITY_TOOLKIT_API_KEY"`
	// IdentityToolkitBaseURL overrides the Identity Toolkit endpoint (e.g. an emulator).
	IdentityToolkitBaseURL string `mapstructure:"IDENTITY_TOOLKIT_BASE_URL"`

	// DocumentStore selects the profile/registry store: "postgres" or "memory".
	DocumentStore string `mapstructure:"DOCUMENT_STORE"`
	// AdminPresetsFile optionally replaces the built-in admin presets (YAML or JSON).
	AdminPresetsFile string `mapstructure:"ADMIN_PRESETS_FILE"`

	// RedisAddr enables the Redis session sink when set; otherwise sessions are cached in memory.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	RedisDB   int    `mapstructure:"REDIS_DB"`
	// SessionTTL is the session cache lifetime (e.g. "24h"); zero or invalid means no expiry.
	SessionTTL string `mapstructure:"SESSION_TTL"`

	// StrictIdentifierUniqueness reserves identifiers with a conditional create.
	StrictIdentifierUniqueness bool `mapstructure:"STRICT_IDENTIFIER_UNIQUENESS"`
	// CompensationDeletePrincipal lets compensation delete orphaned principals when the provider supports it.
	CompensationDeletePrincipal bool `mapstructure:"COMPENSATION_DELETE_PRINCIPAL"`
	// CleanupSchedule is the cron spec for the cleanup sweeper in the worker (e.g. "@every 5m").
	CleanupSchedule string `mapstructure:"CLEANUP_SCHEDULE"`
	// CleanupBatchSize is the number of markers processed per sweep.
	CleanupBatchSize int `mapstructure:"CLEANUP_BATCH_SIZE"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, provisioning events are also published to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for forwarding telemetry events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry forwarder.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PRINCIPAL_PROVIDER", ProviderLocal)
	v.SetDefault("PRINCIPAL_SIGNUP_ENABLED", true)
	v.SetDefault("IDENTITY_TOOLKIT_API_KEY", "")
	v.SetDefault("IDENTITY_TOOLKIT_BASE_URL", "")
	v.SetDefault("DOCUMENT_STORE", StorePostgres)
	v.SetDefault("ADMIN_PRESETS_FILE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("STRICT_IDENTIFIER_UNIQUENESS", false)
	v.SetDefault("COMPENSATION_DELETE_PRINCIPAL", false)
	v.SetDefault("CLEANUP_SCHEDULE", "@every 5m")
	v.SetDefault("CLEANUP_BATCH_SIZE", 100)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "lab-access")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "lab-access-provisioning")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "lab-access-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	c.PrincipalProvider = strings.ToLower(strings.TrimSpace(c.PrincipalProvider))
	switch c.PrincipalProvider {
	case ProviderLocal:
	case ProviderIdentityToolkit:
		if c.IdentityToolkitAPIKey == "" {
			return errors.New("config: IDENTITY_TOOLKIT_API_KEY must be set when PRINCIPAL_PROVIDER=identitytoolkit")
		}
	default:
		return fmt.Errorf("config: PRINCIPAL_PROVIDER must be %q or %q", ProviderLocal, ProviderIdentityToolkit)
	}
	c.DocumentStore = strings.ToLower(strings.TrimSpace(c.DocumentStore))
	if c.DocumentStore != StorePostgres && c.DocumentStore != StoreMemory {
		return fmt.Errorf("config: DOCUMENT_STORE must be %q or %q", StorePostgres, StoreMemory)
	}
	if c.DocumentStore == StoreMemory && c.Env == "production" {
		return errors.New("config: DOCUMENT_STORE=memory must not be used when APP_ENV=production")
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return errors.New("config: LOG_FORMAT must be text or json")
	}
	return nil
}

// NeedsDatabase reports whether the configured components require DATABASE_URL.
func (c *Config) NeedsDatabase() bool {
	return c.DocumentStore == StorePostgres || c.PrincipalProvider == ProviderLocal
}

// SessionTTLDuration parses SessionTTL. Returns 0 (no expiry) if unset, invalid or negative.
func (c *Config) SessionTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
