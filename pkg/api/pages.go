package api

import (
	"net/http"

	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// Navigation is the shell data a dashboard page renders from.
type Navigation struct {
	Section  rbac.Section     `json:"section"`
	Role     rbac.Role        `json:"role"`
	Sections []rbac.Section   `json:"sections"`
	Filters  []rbac.Dimension `json:"filters"`
	Export   bool             `json:"canExport"`
}

// page serves a section shell. Section access was checked by the route
// guard, so only the navigation for the principal's role is built here.
func (s *Server) page(section rbac.Section) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := rbac.PrincipalFromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		reg := s.deps.Guard.Registry()
		httputil.WriteSuccess(w, Navigation{
			Section:  section,
			Role:     p.Role,
			Sections: reg.AllowedSections(p.Role),
			Filters:  reg.FilterDimensions(p.Role),
			Export:   reg.CanExport(p.Role),
		})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"next": r.URL.Query().Get("next"),
	})
}
