package rbac

import (
	"net/http"

	"github.com/platinummonkey/retailops/pkg/httputil"
)

// Middleware gates API routes by section or export capability using the
// principal the route guard placed in the request context. Role checks that
// must be audited stay in the handlers.
type Middleware struct {
	guard *Guard
}

// NewMiddleware creates a new permission middleware
func NewMiddleware(guard *Guard) *Middleware {
	return &Middleware{guard: guard}
}

// RequireSection rejects principals whose role cannot open the section.
func (m *Middleware) RequireSection(section Section) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if d := m.guard.AuthorizeSection(p, section); !d.Allowed {
				httputil.WriteAppError(w, r, d.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireExport rejects principals whose role lacks export capability.
func (m *Middleware) RequireExport(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		if d := m.guard.AuthorizeAction(p, "export", AllRoles()...); !d.Allowed {
			httputil.WriteAppError(w, r, d.Err())
			return
		}
		if !m.guard.Registry().CanExport(p.Role) {
			httputil.WriteAppError(w, r, Deny(ReasonRoleNotAllowed).Err())
			return
		}
		next.ServeHTTP(w, r)
	})
}
