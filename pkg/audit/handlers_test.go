package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/retailops/pkg/rbac"
)

var (
	superAdmin = &rbac.Principal{ID: "admin", Role: rbac.RoleSuperAdmin, IsActive: true}
	orgManager = &rbac.Principal{ID: "gm-a", Role: rbac.RoleGeneralManager, OrganizationID: "org-a", IsActive: true}
)

func passThrough(next http.Handler) http.Handler { return next }

func deny(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
}

func newAuditRouter(source Searcher, logger *Logger) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	NewHandlers(source, logger, rbac.NewRegistry()).RegisterRoutes(api, passThrough, passThrough)
	return router
}

func get(router http.Handler, target string, p *rbac.Principal) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		r = r.WithContext(rbac.WithPrincipal(r.Context(), p))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestHandlers_Search(t *testing.T) {
	source := &fakeSearcher{entries: sampleEntries()}
	router := newAuditRouter(source, nil)

	w := get(router, "/api/audit/logs?user_id=u1&actions=create,deactivate&success=true&limit=10", superAdmin)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	require.Len(t, source.filters, 1)
	f := source.filters[0]
	assert.Equal(t, "u1", f.UserID)
	assert.Equal(t, []Action{ActionCreate, ActionDeactivate}, f.Actions)
	require.NotNil(t, f.Success)
	assert.True(t, *f.Success)
	assert.Equal(t, 10, f.Limit)
	assert.Empty(t, f.OrganizationID)
}

func TestHandlers_SearchIsConfinedToOrganization(t *testing.T) {
	source := &fakeSearcher{}
	router := newAuditRouter(source, nil)

	// A tenant cannot widen the search with the query parameter.
	require.Equal(t, http.StatusOK, get(router, "/api/audit/logs?organization_id=org-b", orgManager).Code)
	require.Equal(t, http.StatusOK, get(router, "/api/audit/logs?organization_id=org-b", superAdmin).Code)

	require.Len(t, source.filters, 2)
	assert.Equal(t, "org-a", source.filters[0].OrganizationID)
	assert.Equal(t, "org-b", source.filters[1].OrganizationID)
}

func TestHandlers_SearchRequiresPrincipal(t *testing.T) {
	source := &fakeSearcher{}
	router := newAuditRouter(source, nil)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/audit/logs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/audit/export", nil).Code)

	orphan := &rbac.Principal{ID: "x", Role: rbac.RoleGeneralManager, IsActive: true}
	assert.Equal(t, http.StatusForbidden, get(router, "/api/audit/logs", orphan).Code)
	assert.Empty(t, source.filters)
}

func TestHandlers_SearchRejectsBadFilter(t *testing.T) {
	router := newAuditRouter(&fakeSearcher{}, nil)

	for _, q := range []string{"actions=teleport", "resource=module", "success=maybe", "start_time=yesterday", "limit=-1"} {
		assert.Equal(t, http.StatusBadRequest, get(router, "/api/audit/logs?"+q, superAdmin).Code, q)
	}
}

func TestHandlers_ExportFormats(t *testing.T) {
	tests := []struct {
		format      string
		contentType string
	}{
		{"csv", "text/csv"},
		{"json", "application/json"},
		{"ndjson", "application/x-ndjson"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			store := &memStore{}
			auditLogger, _, _ := newTestLogger(store)
			source := &fakeSearcher{entries: sampleEntries()}
			router := newAuditRouter(source, auditLogger)

			w := get(router, "/api/audit/export?format="+tt.format, orgManager)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			assert.Contains(t, w.Header().Get("Content-Disposition"), "audit-logs."+tt.format)

			require.Len(t, source.filters, 1)
			assert.Equal(t, "org-a", source.filters[0].OrganizationID)

			require.Len(t, store.entries, 1)
			assert.Equal(t, ActionExport, store.entries[0].Action)
			assert.Equal(t, "gm-a", store.entries[0].UserID)
			assert.Equal(t, "org-a", store.entries[0].OrganizationID)
		})
	}
}

func TestHandlers_ExportPassesSectionGate(t *testing.T) {
	source := &fakeSearcher{entries: sampleEntries()}
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	NewHandlers(source, nil, rbac.NewRegistry()).RegisterRoutes(api, deny, passThrough)

	assert.Equal(t, http.StatusForbidden, get(router, "/api/audit/export?format=json", superAdmin).Code)
	assert.Empty(t, source.filters)
}

func TestHandlers_ExportRejectsUnknownFormat(t *testing.T) {
	router := newAuditRouter(&fakeSearcher{}, nil)
	assert.Equal(t, http.StatusBadRequest, get(router, "/api/audit/export?format=xml", superAdmin).Code)
}
