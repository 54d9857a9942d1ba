package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/contextkeys"
	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/identity"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// SessionCookie carries the access token for page requests.
const SessionCookie = "retailops_session"

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/login"

// SessionValidator re-validates a session token with the identity provider.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*identity.Session, error)
}

// RouteGuard is the ingress pipeline: rate limit, authenticate, then
// authorize page sections.
type RouteGuard struct {
	limits     *RateLimitRegistry
	sessions   SessionValidator
	principals PrincipalLoader
	guard      *rbac.Guard
	metrics    *observability.Metrics
}

// RouteGuardConfig wires a RouteGuard
type RouteGuardConfig struct {
	Limits     *RateLimitRegistry
	Sessions   SessionValidator
	Principals PrincipalLoader
	Guard      *rbac.Guard
	Metrics    *observability.Metrics
}

// NewRouteGuard creates a route guard
func NewRouteGuard(cfg RouteGuardConfig) *RouteGuard {
	return &RouteGuard{
		limits:     cfg.Limits,
		sessions:   cfg.Sessions,
		principals: cfg.Principals,
		guard:      cfg.Guard,
		metrics:    cfg.Metrics,
	}
}

// IsPublicPath reports whether a path skips authentication.
func IsPublicPath(path string) bool {
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return true
	case path == "/metrics", path == LoginPath:
		return true
	case strings.HasPrefix(path, "/api/auth/"):
		return true
	}
	return false
}

// SectionForPath maps a page path to its section.
func SectionForPath(path string) (rbac.Section, bool) {
	first := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(first, '/'); i >= 0 {
		first = first[:i]
	}
	s := rbac.Section(first)
	return s, s.Valid()
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, APIPrefix)
}

// Handler wraps next with the guard pipeline.
func (g *RouteGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.rateLimit(w, r) {
			return
		}

		if IsPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		p, ok := g.authenticate(w, r)
		if !ok {
			return
		}

		ctx := rbac.WithPrincipal(r.Context(), p)
		ctx = contextkeys.WithUserID(ctx, p.ID)
		r = r.WithContext(ctx)

		if !isAPIPath(r.URL.Path) {
			if section, ok := SectionForPath(r.URL.Path); ok && !g.authorizeSection(w, r, p, section) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the request's policy and reports whether to continue.
func (g *RouteGuard) rateLimit(w http.ResponseWriter, r *http.Request) bool {
	if g.limits == nil {
		return true
	}
	limiter, ok := g.limits.Resolve(r)
	if !ok {
		return true
	}

	policy := limiter.Policy()
	res, err := limiter.Allow(r.Context(), Identifier(r))
	if err != nil {
		logger := observability.FromContext(r.Context()).WithError(err).WithField("policy", policy.Name)
		if !res.Allowed {
			logger.Error("rate limiter unavailable")
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return false
		}
		logger.Warn("rate limiter unavailable, admitting request")
	}

	g.metrics.RecordRateLimit(policy.Name, res.Allowed)
	httputil.SetRateLimitHeaders(w, res.Limit, res.Remaining, res.ResetAt)

	if res.Allowed {
		return true
	}

	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":      "Too many requests",
		"retryAfter": secs,
	})
	return false
}

func sessionToken(r *http.Request) string {
	if token := httputil.BearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// authenticate re-validates the session and loads an active principal.
func (g *RouteGuard) authenticate(w http.ResponseWriter, r *http.Request) (*rbac.Principal, bool) {
	token := sessionToken(r)
	if token == "" {
		g.unauthenticated(w, r, "missing_session")
		return nil, false
	}

	session, err := g.sessions.ValidateSession(r.Context(), token)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidSession) {
			observability.FromContext(r.Context()).WithError(err).Warn("session validation failed")
		}
		g.unauthenticated(w, r, "invalid_session")
		return nil, false
	}

	p, err := g.principals.LoadPrincipal(r.Context(), session.UserID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			g.unauthenticated(w, r, "missing_profile")
			return nil, false
		}
		observability.FromContext(r.Context()).WithError(err).WithField("identity_id", session.UserID).Error("principal lookup failed")
		httputil.WriteAppError(w, r, apperr.Internal("failed to load principal", err))
		return nil, false
	}
	if !p.IsActive {
		g.unauthenticated(w, r, "inactive_principal")
		return nil, false
	}
	return p, true
}

func (g *RouteGuard) unauthenticated(w http.ResponseWriter, r *http.Request, cause string) {
	g.metrics.RecordAuthenticationFailure(cause)
	if isAPIPath(r.URL.Path) {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	http.Redirect(w, r, LoginPath+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}

// authorizeSection redirects a denied page request to the first section the
// role may open.
func (g *RouteGuard) authorizeSection(w http.ResponseWriter, r *http.Request, p *rbac.Principal, section rbac.Section) bool {
	d := g.guard.AuthorizeSection(p, section)
	if d.Allowed {
		return true
	}
	g.metrics.RecordAuthorizationDenial(string(d.Reason))

	if first, ok := g.guard.Registry().FirstAllowedSection(p.Role); ok {
		http.Redirect(w, r, first.Path(), http.StatusFound)
		return false
	}
	httputil.WriteForbidden(w, string(d.Reason))
	return false
}
