package api

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/retailops/pkg/accounts"
	"github.com/platinummonkey/retailops/pkg/audit"
	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/middleware"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/stores"
)

// Deps are the collaborators the server is assembled from.
type Deps struct {
	Accounts       accounts.Store
	AccountCreator accounts.Creator
	Stores         stores.Storage
	StoreCreator   stores.Creator
	AuditSearch    audit.Searcher
	AuditLogger    *audit.Logger

	Guard      *rbac.Guard
	Sessions   middleware.SessionValidator
	Principals middleware.PrincipalLoader
	// Cache is told about profile mutations. It may be nil.
	Cache  accounts.Invalidator
	Limits *middleware.RateLimitRegistry

	// Health is optional; without it the health routes are not registered.
	Health   *observability.HealthChecker
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	// Tracing wraps the handler with otelhttp.
	Tracing bool
}

// Server is the retailops HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Deps
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()

	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}

	guard := middleware.NewRouteGuard(middleware.RouteGuardConfig{
		Limits:     deps.Limits,
		Sessions:   deps.Sessions,
		Principals: deps.Principals,
		Guard:      deps.Guard,
		Metrics:    deps.Metrics,
	})

	s.handler = httputil.Chain(
		httputil.RequestLogging(logger),
		httputil.Recover,
		audit.BindRequest,
		guard.Handler,
	)(s.router)

	if deps.Tracing {
		s.handler = otelhttp.NewHandler(s.handler, "retailops")
	}
	return s
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RouteMetrics(s.deps.Metrics))

	// Operational routes
	if s.deps.Health != nil {
		s.deps.Health.RegisterRoutes(s.router)
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Registry)).Methods(http.MethodGet)
	}

	apiRouter := s.router.PathPrefix("/api").Subrouter()

	accounts.NewHandlers(s.deps.Accounts, s.deps.Stores, s.deps.AccountCreator, s.deps.Guard, s.deps.AuditLogger, s.deps.Cache).RegisterRoutes(apiRouter)
	stores.NewHandlers(s.deps.Stores, s.deps.Accounts, s.deps.StoreCreator, s.deps.Guard, s.deps.AuditLogger).RegisterRoutes(apiRouter)

	perms := rbac.NewMiddleware(s.deps.Guard)
	audit.NewHandlers(s.deps.AuditSearch, s.deps.AuditLogger, s.deps.Guard.Registry()).RegisterRoutes(apiRouter, perms.RequireSection(rbac.SectionAudit), perms.RequireExport)

	// Page routes. The route guard has already authorized the section.
	s.router.HandleFunc(middleware.LoginPath, s.login).Methods(http.MethodGet)
	for _, section := range rbac.AllSections() {
		s.router.HandleFunc(section.Path(), s.page(section)).Methods(http.MethodGet)
	}
}

// Router returns the route table, without the ingress middleware.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
