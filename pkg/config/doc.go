// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads RETAILOPS_* variables, applies defaults and validates the
// result. Rate-limit policies can additionally be overridden by a YAML file
// that is reloaded on change.
//
// # Configuration Structure
//
// Server settings:
//
//	RETAILOPS_HOST="0.0.0.0"
//	RETAILOPS_PORT="8080"
//	RETAILOPS_SHUTDOWN_TIMEOUT="30s"
//	RETAILOPS_PRINCIPAL_CACHE_TTL="30s"
//
// Storage settings:
//
//	RETAILOPS_POSTGRES_URL="postgres://localhost/retailops?sslmode=disable"
//	RETAILOPS_POSTGRES_REPLICA_URLS="postgres://replica-1/retailops"
//	RETAILOPS_POSTGRES_MIGRATE="true"
//	RETAILOPS_REDIS_URL="redis://localhost:6379"
//
// Identity provider:
//
//	RETAILOPS_IDENTITY_MODE="oidc"  # oidc, memory
//	RETAILOPS_IDENTITY_ISSUER_URL="https://idp.example.com"
//	RETAILOPS_IDENTITY_ADMIN_URL="https://idp.example.com"
//	RETAILOPS_IDENTITY_TOKEN_URL="https://idp.example.com/oauth/token"
//	RETAILOPS_IDENTITY_CLIENT_ID="retailops"
//	RETAILOPS_IDENTITY_CLIENT_SECRET="..."
//
// Rate limiting:
//
//	RETAILOPS_RATELIMIT_BACKEND="memory"  # memory, redis
//	RETAILOPS_RATELIMIT_POLICY_FILE="/etc/retailops/ratelimit.yaml"
//
// Background jobs:
//
//	RETAILOPS_RECONCILE_SCHEDULE="@hourly"
//	RETAILOPS_RECONCILE_MIN_AGE="10m"
//	RETAILOPS_RECONCILE_DRY_RUN="false"
//	RETAILOPS_AUDIT_EXPORT_ENABLED="true"
//	RETAILOPS_AUDIT_EXPORT_S3_BUCKET="retailops-audit"
//
// Observability settings:
//
//	RETAILOPS_LOG_LEVEL="info"  # debug, info, warn, error
//	RETAILOPS_METRICS_ENABLED="true"
//	RETAILOPS_OTEL_ENABLED="true"
//	RETAILOPS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Watching the policy file:
//
//	err := config.WatchPolicies(ctx, cfg.RateLimit.PolicyFile,
//		func(pf *config.PolicyFile) { registry.UpdatePolicies(ctx, middleware.ApplyPolicyFile(middleware.DefaultPolicies(), pf)) },
//		func(err error) { logger.WithError(err).Warn("policy reload failed") },
//	)
package config
