// Package api assembles the retailops HTTP server.
//
// # Overview
//
// Server owns the gorilla/mux route table and the ingress chain every
// request passes through:
//
//	otelhttp (optional) -> RequestLogging -> Recover -> audit.BindRequest -> RouteGuard -> mux
//
// Routes:
//
//	/health, /health/live, /health/ready   dependency checks
//	/metrics                               Prometheus
//	/login                                 unauthenticated landing
//	/{section}                             navigation shell per section
//	/api/me, /api/accounts/...             account lifecycle
//	/api/stores/...                        store lifecycle
//	/api/audit/logs, /api/audit/export     audit search and export
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Accounts:       profiles,
//		AccountCreator: accountProvisioner,
//		Stores:         storeRows,
//		StoreCreator:   storeProvisioner,
//		AuditSearch:    auditStore,
//		AuditLogger:    auditLogger,
//		Guard:          guard,
//		Sessions:       idp,
//		Principals:     cache,
//		Cache:          cache,
//		Limits:         limits,
//	})
//	http.ListenAndServe(":8080", server)
package api
