package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/retailops/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	RateLimit     RateLimitConfig
	Saga          SagaConfig
	Reconcile     ReconcileConfig
	AuditExport   AuditExportConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// PrincipalCacheSize and PrincipalCacheTTL bound the profile cache used
	// by the route guard.
	PrincipalCacheSize int
	PrincipalCacheTTL  time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL         string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	// Migrate applies the schema on startup.
	Migrate bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Identity provider modes
const (
	IdentityModeOIDC   = "oidc"
	IdentityModeMemory = "memory"
)

// IdentityConfig holds identity provider settings
type IdentityConfig struct {
	Mode string
	// IssuerURL is used for OIDC discovery and session re-validation.
	IssuerURL string
	// AdminURL is the base URL of the provider's user admin API.
	AdminURL     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

// Rate limiter backends
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Backend       string
	SweepInterval time.Duration
	// PolicyFile optionally overrides the built-in policies and is watched
	// for changes.
	PolicyFile string
	// FailOpen allows requests when the shared store is unreachable.
	FailOpen bool
}

// SagaConfig holds compensation retry settings
type SagaConfig struct {
	CompensationAttempts int
	InitialBackoff       time.Duration
}

// ReconcileConfig holds orphan reconciliation settings
type ReconcileConfig struct {
	Schedule    string
	MinAge      time.Duration
	PageSize    int
	Concurrency int
	DryRun      bool
}

// AuditExportConfig holds compliance export settings
type AuditExportConfig struct {
	Enabled     bool
	Schedule    string
	Lookback    time.Duration
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Identity:      loadIdentityConfig(),
		RateLimit:     loadRateLimitConfig(),
		Saga:          loadSagaConfig(),
		Reconcile:     loadReconcileConfig(),
		AuditExport:   loadAuditExportConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:               getEnv("RETAILOPS_HOST", "0.0.0.0"),
		Port:               getEnv("RETAILOPS_PORT", "8080"),
		ReadTimeout:        getEnvDuration("RETAILOPS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("RETAILOPS_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:        getEnvDuration("RETAILOPS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("RETAILOPS_SHUTDOWN_TIMEOUT", 30*time.Second),
		PrincipalCacheSize: getEnvInt("RETAILOPS_PRINCIPAL_CACHE_SIZE", 1024),
		PrincipalCacheTTL:  getEnvDuration("RETAILOPS_PRINCIPAL_CACHE_TTL", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("RETAILOPS_POSTGRES_URL", ""),
		ReplicaURLs: getEnvList("RETAILOPS_POSTGRES_REPLICA_URLS"),
		MaxConns:    getEnvInt("RETAILOPS_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("RETAILOPS_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("RETAILOPS_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("RETAILOPS_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("RETAILOPS_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		Migrate:     getEnvBool("RETAILOPS_POSTGRES_MIGRATE", false),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("RETAILOPS_REDIS_URL", ""),
		Password:   getEnv("RETAILOPS_REDIS_PASSWORD", ""),
		DB:         getEnvInt("RETAILOPS_REDIS_DB", -1),
		MaxRetries: getEnvInt("RETAILOPS_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("RETAILOPS_REDIS_POOL_SIZE", 0),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		Mode:         strings.ToLower(getEnv("RETAILOPS_IDENTITY_MODE", IdentityModeOIDC)),
		IssuerURL:    getEnv("RETAILOPS_IDENTITY_ISSUER_URL", ""),
		AdminURL:     getEnv("RETAILOPS_IDENTITY_ADMIN_URL", ""),
		ClientID:     getEnv("RETAILOPS_IDENTITY_CLIENT_ID", ""),
		ClientSecret: getEnv("RETAILOPS_IDENTITY_CLIENT_SECRET", ""),
		TokenURL:     getEnv("RETAILOPS_IDENTITY_TOKEN_URL", ""),
		Scopes:       getEnvList("RETAILOPS_IDENTITY_SCOPES"),
		Timeout:      getEnvDuration("RETAILOPS_IDENTITY_TIMEOUT", 10*time.Second),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Backend:       strings.ToLower(getEnv("RETAILOPS_RATELIMIT_BACKEND", RateLimitBackendMemory)),
		SweepInterval: getEnvDuration("RETAILOPS_RATELIMIT_SWEEP_INTERVAL", time.Minute),
		PolicyFile:    getEnv("RETAILOPS_RATELIMIT_POLICY_FILE", ""),
		FailOpen:      getEnvBool("RETAILOPS_RATELIMIT_FAIL_OPEN", true),
	}
}

func loadSagaConfig() SagaConfig {
	return SagaConfig{
		CompensationAttempts: getEnvInt("RETAILOPS_SAGA_COMPENSATION_ATTEMPTS", 4),
		InitialBackoff:       getEnvDuration("RETAILOPS_SAGA_INITIAL_BACKOFF", 100*time.Millisecond),
	}
}

func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Schedule:    getEnv("RETAILOPS_RECONCILE_SCHEDULE", "@hourly"),
		MinAge:      getEnvDuration("RETAILOPS_RECONCILE_MIN_AGE", 0),
		PageSize:    getEnvInt("RETAILOPS_RECONCILE_PAGE_SIZE", 100),
		Concurrency: getEnvInt("RETAILOPS_RECONCILE_CONCURRENCY", 4),
		DryRun:      getEnvBool("RETAILOPS_RECONCILE_DRY_RUN", false),
	}
}

func loadAuditExportConfig() AuditExportConfig {
	return AuditExportConfig{
		Enabled:     getEnvBool("RETAILOPS_AUDIT_EXPORT_ENABLED", false),
		Schedule:    getEnv("RETAILOPS_AUDIT_EXPORT_SCHEDULE", "@daily"),
		Lookback:    getEnvDuration("RETAILOPS_AUDIT_EXPORT_LOOKBACK", 24*time.Hour),
		S3Bucket:    getEnv("RETAILOPS_AUDIT_EXPORT_S3_BUCKET", ""),
		S3Prefix:    getEnv("RETAILOPS_AUDIT_EXPORT_S3_PREFIX", "audit/"),
		S3Region:    getEnv("RETAILOPS_AUDIT_EXPORT_S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("RETAILOPS_AUDIT_EXPORT_S3_ENDPOINT", ""),
		S3AccessKey: getEnv("RETAILOPS_AUDIT_EXPORT_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("RETAILOPS_AUDIT_EXPORT_S3_SECRET_KEY", ""),
		S3PathStyle: getEnvBool("RETAILOPS_AUDIT_EXPORT_S3_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("RETAILOPS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("RETAILOPS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("RETAILOPS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("RETAILOPS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("RETAILOPS_OTEL_SERVICE_NAME", "retailops"),
		OTelServiceVersion: getEnv("RETAILOPS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("RETAILOPS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Identity.Mode {
	case IdentityModeMemory:
	case IdentityModeOIDC:
		if c.Identity.IssuerURL == "" {
			return fmt.Errorf("identity issuer URL is required in oidc mode")
		}
		if c.Identity.AdminURL == "" {
			return fmt.Errorf("identity admin URL is required in oidc mode")
		}
		if c.Identity.ClientID == "" || c.Identity.ClientSecret == "" || c.Identity.TokenURL == "" {
			return fmt.Errorf("identity client credentials are required in oidc mode")
		}
	default:
		return fmt.Errorf("invalid identity mode: %s (must be oidc or memory)", c.Identity.Mode)
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}

	if c.Saga.CompensationAttempts < 1 {
		return fmt.Errorf("saga compensation attempts must be at least 1")
	}
	if c.Reconcile.MinAge < 0 {
		return fmt.Errorf("reconcile min age must not be negative")
	}
	if c.Reconcile.PageSize < 1 || c.Reconcile.Concurrency < 1 {
		return fmt.Errorf("reconcile page size and concurrency must be positive")
	}
	if c.AuditExport.Enabled && c.AuditExport.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit export is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
