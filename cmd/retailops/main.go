package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/retailops/pkg/accounts"
	"github.com/platinummonkey/retailops/pkg/api"
	"github.com/platinummonkey/retailops/pkg/audit"
	"github.com/platinummonkey/retailops/pkg/config"
	"github.com/platinummonkey/retailops/pkg/identity"
	"github.com/platinummonkey/retailops/pkg/middleware"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/provisioning"
	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/saga"
	"github.com/platinummonkey/retailops/pkg/storage/postgres"
	"github.com/platinummonkey/retailops/pkg/stores"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate", false, "Apply the database schema and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("retailops exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Database
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.Migrate || migrateOnly {
		if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
			conns.Close()
			return err
		}
		logger.Info("Database schema is up to date")
	}
	if migrateOnly {
		return conns.Close()
	}
	conns.StartHealthCheckRoutine(ctx, 30*time.Second)

	// Redis is optional unless it backs the rate limiter.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
				conns.Close()
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			logger.WithError(err).Warn("Redis unavailable, continuing without it")
			redisClient = nil
		}
	}

	idp, err := newIdentityProvider(ctx, cfg.Identity, logger)
	if err != nil {
		conns.Close()
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Persistence and audit. Each reader takes the next replica in turn.
	profiles := accounts.NewRepository(conns.Primary()).WithReplica(conns.Replica())
	storeRows := stores.NewRepository(conns.Primary()).WithReplica(conns.Replica())
	auditStore := audit.NewDBStore(conns.Primary()).WithReplica(conns.Replica())
	auditLogger := audit.NewLogger(auditStore, metrics, logger)

	// Creation flows
	opts := provisioning.Options{
		Retry: saga.RetryPolicy{
			Attempts:        cfg.Saga.CompensationAttempts,
			InitialInterval: cfg.Saga.InitialBackoff,
		},
		Metrics: metrics,
		Logger:  logger,
	}
	accountProvisioner := provisioning.NewAccountProvisioner(idp, profiles, storeRows, opts)
	storeProvisioner := provisioning.NewStoreProvisioner(storeRows, opts)

	// Ingress
	principals := middleware.NewCachedPrincipalLoader(profiles, cfg.Server.PrincipalCacheSize, cfg.Server.PrincipalCacheTTL, metrics)
	limits, err := newRateLimits(ctx, cfg, redisClient, logger)
	if err != nil {
		conns.Close()
		return err
	}
	limits.Start(ctx)

	health := observability.NewHealthChecker(conns.Primary(), redisClient, version)
	health.AddCheck("ratelimit", limits.HealthCheck)

	guard := rbac.NewGuard(rbac.NewRegistry())
	server := api.NewServer(api.Deps{
		Accounts:       profiles,
		AccountCreator: accountProvisioner,
		Stores:         storeRows,
		StoreCreator:   storeProvisioner,
		AuditSearch:    auditStore,
		AuditLogger:    auditLogger,
		Guard:          guard,
		Sessions:       idp,
		Principals:     principals,
		Cache:          principals,
		Limits:         limits,
		Health:         health,
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
		Tracing:        cfg.Observability.OTelEnabled,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return conns.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("rate limiter", func(context.Context) error {
		limits.Close()
		return nil
	})
	shutdown.Register("opentelemetry", otelProviders.Shutdown)
	shutdown.Register("background", func(context.Context) error {
		cancel()
		return nil
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("retailops %s listening on %s", version, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go func() {
		if err, ok := <-serveErr; ok && err != nil {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForSignal()
}

func newIdentityProvider(ctx context.Context, cfg config.IdentityConfig, logger *observability.Logger) (identity.Provider, error) {
	switch cfg.Mode {
	case config.IdentityModeMemory:
		logger.Warn("Using the in-memory identity provider; identities are lost on restart")
		return identity.NewMemoryProvider(), nil
	default:
		provider, err := identity.NewOIDCProvider(ctx, identity.Config{
			IssuerURL: cfg.IssuerURL,
			Admin: identity.AdminConfig{
				BaseURL:      cfg.AdminURL,
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     cfg.TokenURL,
				Scopes:       cfg.Scopes,
				Timeout:      cfg.Timeout,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize identity provider: %w", err)
		}
		return provider, nil
	}
}

// newRateLimits builds the limiter registry and, when a policy file is
// configured, keeps it in sync with the file.
func newRateLimits(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *observability.Logger) (*middleware.RateLimitRegistry, error) {
	policies := middleware.DefaultPolicies()
	if cfg.RateLimit.PolicyFile != "" {
		pf, err := config.LoadPolicyFile(cfg.RateLimit.PolicyFile)
		if err != nil {
			return nil, err
		}
		policies = middleware.ApplyPolicyFile(policies, pf)
	}

	factory := middleware.MemoryLimiters
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		factory = func(p middleware.RateLimitPolicy) middleware.Limiter {
			return middleware.NewDistributedRateLimiter(redisClient, p, "retailops:ratelimit", cfg.RateLimit.FailOpen)
		}
		logger.Info("Rate limits are shared through Redis")
	}
	limits := middleware.NewRateLimitRegistry(policies, factory, cfg.RateLimit.SweepInterval)

	if cfg.RateLimit.PolicyFile != "" {
		err := config.WatchPolicies(ctx, cfg.RateLimit.PolicyFile,
			func(pf *config.PolicyFile) {
				limits.UpdatePolicies(ctx, middleware.ApplyPolicyFile(middleware.DefaultPolicies(), pf))
				logger.WithField("file", cfg.RateLimit.PolicyFile).Info("Rate limit policies reloaded")
			},
			func(err error) {
				logger.WithError(err).Warn("Rate limit policy reload failed, keeping current policies")
			},
		)
		if err != nil {
			return nil, err
		}
	}
	return limits, nil
}
