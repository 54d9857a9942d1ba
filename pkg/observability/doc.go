// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure for the server:
// JSON logging, metrics, health checks, graceful shutdown and tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("store_id", id).Info("store created")
//
// Critical is one level above Error and is reserved for states an operator
// must resolve by hand, such as a rollback that left records behind:
//
//	logger.WithFields(map[string]interface{}{
//		"orphan_id":          id,
//		"compensation_error": err.Error(),
//	}).Critical("compensation failed")
//
// Request-scoped loggers carry the request and user ids:
//
//	observability.FromContext(r.Context()).Warn("denied")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordRateLimit("auth", false)
//
// All Record methods are no-ops on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.RegisterRoutes(router)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer().Start(ctx, "saga.step")
package observability
