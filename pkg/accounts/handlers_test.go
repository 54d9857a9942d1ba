package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/audit"
	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/stores"
)

type fakeStore struct {
	profiles map[string]*rbac.Principal
	updates  int
}

func newFakeStore(ps ...*rbac.Principal) *fakeStore {
	s := &fakeStore{profiles: map[string]*rbac.Principal{}}
	for _, p := range ps {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (*rbac.Principal, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, apperr.NotFound("account not found")
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) Update(_ context.Context, p *rbac.Principal) error {
	s.updates++
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *fakeStore) setActive(id string, active bool) error {
	p, ok := s.profiles[id]
	if !ok {
		return apperr.NotFound("account not found")
	}
	p.IsActive = active
	return nil
}

func (s *fakeStore) Deactivate(_ context.Context, id string) error { return s.setActive(id, false) }
func (s *fakeStore) Activate(_ context.Context, id string) error   { return s.setActive(id, true) }

func (s *fakeStore) List(_ context.Context, f ListFilter) ([]*rbac.Principal, error) {
	out := []*rbac.Principal{}
	for _, p := range s.profiles {
		if f.OrganizationID == "" || p.OrganizationID == f.OrganizationID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeCreator struct {
	err   error
	calls int
}

func (c *fakeCreator) CreateAccount(_ context.Context, _ *rbac.Principal, req *CreateRequest) (*rbac.Principal, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return req.Principal("new-id"), nil
}

type fakeStoreRows map[string]*stores.Store

func (f fakeStoreRows) Get(_ context.Context, id string) (*stores.Store, error) {
	s, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("store not found")
	}
	return s, nil
}

func storeRow(id, region, org string, active bool) *stores.Store {
	return &stores.Store{ID: id, OrganizationID: org, RegionID: region, Code: id, Name: id, IsActive: active}
}

type fakeCache struct{ invalidated []string }

func (c *fakeCache) Invalidate(id string) { c.invalidated = append(c.invalidated, id) }

type auditStore struct{ entries []*audit.Entry }

func (a *auditStore) Insert(_ context.Context, e *audit.Entry) error {
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditStore) actions() []audit.Action {
	out := make([]audit.Action, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	router  *mux.Router
	store   *fakeStore
	creator *fakeCreator
	cache   *fakeCache
	audit   *auditStore
}

func newFixture(profiles ...*rbac.Principal) *fixture {
	f := &fixture{
		store:   newFakeStore(profiles...),
		creator: &fakeCreator{},
		cache:   &fakeCache{},
		audit:   &auditStore{},
	}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	auditLogger := audit.NewLogger(f.audit, observability.NewMetrics(prometheus.NewRegistry()), logger)
	rows := fakeStoreRows{
		"S1": storeRow("S1", "R1", "org-a", true),
		"S2": storeRow("S2", "R2", "org-a", true),
		"S3": storeRow("S3", "R1", "org-a", false),
		"S9": storeRow("S9", "R9", "org-b", true),
	}
	h := NewHandlers(f.store, rows, f.creator, rbac.NewGuard(rbac.NewRegistry()), auditLogger, f.cache)

	f.router = mux.NewRouter()
	h.RegisterRoutes(f.router.PathPrefix("/api").Subrouter())
	return f
}

func (f *fixture) do(actor *rbac.Principal, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if actor != nil {
		r = r.WithContext(rbac.WithPrincipal(r.Context(), actor))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func account(id string, role rbac.Role, org string) *rbac.Principal {
	return &rbac.Principal{
		ID:             id,
		Email:          id + "@example.com",
		FullName:       id,
		Role:           role,
		OrganizationID: org,
		IsActive:       true,
	}
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandlers_SelfDeactivationRejectedForEveryRole(t *testing.T) {
	for _, role := range rbac.AllRoles() {
		t.Run(string(role), func(t *testing.T) {
			me := account("me", role, "org-a")
			f := newFixture(me)

			w := f.do(me, http.MethodPatch, "/api/accounts/me", `{"isActive":false}`)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "cannot_deactivate_self", errorBody(t, w).Fields["isActive"])

			w = f.do(me, http.MethodDelete, "/api/accounts/me", "")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			assert.True(t, f.store.profiles["me"].IsActive)
			assert.Zero(t, f.store.updates)
		})
	}
}

func TestHandlers_GeneralManagerCannotTouchAnotherOrganization(t *testing.T) {
	gm := account("gm", rbac.RoleGeneralManager, "org-a")
	other := account("other", rbac.RoleViewer, "org-b")
	f := newFixture(gm, other)

	w := f.do(gm, http.MethodPatch, "/api/accounts/other", `{"fullName":"Renamed"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "other", f.store.profiles["other"].FullName)

	w = f.do(gm, http.MethodDelete, "/api/accounts/other", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, f.store.profiles["other"].IsActive)

	w = f.do(gm, http.MethodPost, "/api/accounts",
		`{"email":"x@example.com","password":"longenough","fullName":"X","role":"viewer","organizationId":"org-b","allowedRegions":null}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, f.creator.calls)

	require.NotEmpty(t, f.audit.entries)
	for _, e := range f.audit.entries {
		assert.False(t, e.Success)
	}
}

func TestHandlers_GeneralManagerCannotElevate(t *testing.T) {
	gm := account("gm", rbac.RoleGeneralManager, "org-a")
	sm := account("sm", rbac.RoleStoreManager, "org-a")
	f := newFixture(gm, sm)

	for _, role := range []string{"super_admin", "general_manager"} {
		w := f.do(gm, http.MethodPatch, "/api/accounts/sm", `{"role":"`+role+`"}`)
		assert.Equal(t, http.StatusForbidden, w.Code, role)
		assert.Equal(t, "role_elevation_not_allowed", errorBody(t, w).Error)
	}
	assert.Equal(t, rbac.RoleStoreManager, f.store.profiles["sm"].Role)

	w := f.do(gm, http.MethodPatch, "/api/accounts/gm", `{"role":"super_admin"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "cannot_elevate_self", errorBody(t, w).Error)
}

func TestHandlers_RoleChangeIsAudited(t *testing.T) {
	gm := account("gm", rbac.RoleGeneralManager, "org-a")
	sm := account("sm", rbac.RoleStoreManager, "org-a")
	f := newFixture(gm, sm)

	w := f.do(gm, http.MethodPatch, "/api/accounts/sm", `{"role":"regional_manager"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rbac.RoleRegionalManager, f.store.profiles["sm"].Role)
	assert.Equal(t, []string{"sm"}, f.cache.invalidated)

	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.Equal(t, audit.ActionRoleChange, e.Action)
	assert.Equal(t, "gm", e.UserID)
	assert.Equal(t, "sm", e.ResourceID)
	assert.Equal(t, "store_manager", e.Details["from"])
	assert.Equal(t, "regional_manager", e.Details["to"])
}

func TestHandlers_ScopePatchDistinguishesNullFromAbsent(t *testing.T) {
	admin := account("root", rbac.RoleSuperAdmin, "org-a")
	sm := account("sm", rbac.RoleStoreManager, "org-a")
	sm.AllowedStores = rbac.AllowOnly("S1")
	sm.AllowedRegions = rbac.AllowOnly("R1")
	f := newFixture(admin, sm)

	w := f.do(admin, http.MethodPatch, "/api/accounts/sm", `{"allowedStores":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.store.profiles["sm"].AllowedStores.IsUnrestricted())
	assert.Equal(t, []string{"R1"}, f.store.profiles["sm"].AllowedRegions.IDs())
	assert.Equal(t, []audit.Action{audit.ActionPermissionChange}, f.audit.actions())
}

func TestHandlers_StoreGrantIsChecked(t *testing.T) {
	gm := account("gm", rbac.RoleGeneralManager, "org-a")
	sm := account("sm", rbac.RoleStoreManager, "org-a")
	sm.AllowedStores = rbac.AllowOnly("S1")

	t.Run("other organization", func(t *testing.T) {
		f := newFixture(gm, sm)
		w := f.do(gm, http.MethodPatch, "/api/accounts/sm", `{"allowedStores":["S1","S9"]}`)
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, string(rbac.ReasonCrossOrganization), errorBody(t, w).Error)
		assert.Equal(t, []string{"S1"}, f.store.profiles["sm"].AllowedStores.IDs())
		assert.Zero(t, f.store.updates)
	})

	t.Run("unknown store", func(t *testing.T) {
		f := newFixture(gm, sm)
		w := f.do(gm, http.MethodPatch, "/api/accounts/sm", `{"allowedStores":["S404"]}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorBody(t, w).Fields, "allowedStores")
		assert.Zero(t, f.store.updates)
	})

	t.Run("same organization", func(t *testing.T) {
		f := newFixture(gm, sm)
		w := f.do(gm, http.MethodPatch, "/api/accounts/sm", `{"allowedStores":["S1","S2"]}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"S1", "S2"}, f.store.profiles["sm"].AllowedStores.IDs())
	})
}

func TestHandlers_UnknownAccountIsNotFound(t *testing.T) {
	admin := account("root", rbac.RoleSuperAdmin, "org-a")
	f := newFixture(admin)

	assert.Equal(t, http.StatusNotFound, f.do(admin, http.MethodGet, "/api/accounts/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(admin, http.MethodDelete, "/api/accounts/ghost", "").Code)
}

func TestHandlers_ViewerCanReadOnlyThemselves(t *testing.T) {
	viewer := account("v", rbac.RoleViewer, "org-a")
	other := account("o", rbac.RoleViewer, "org-a")
	f := newFixture(viewer, other)

	assert.Equal(t, http.StatusOK, f.do(viewer, http.MethodGet, "/api/accounts/v", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(viewer, http.MethodGet, "/api/accounts/o", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(viewer, http.MethodGet, "/api/accounts/ghost", "").Code)
}

func TestHandlers_Create(t *testing.T) {
	gm := account("gm", rbac.RoleGeneralManager, "org-a")
	gm.AllowedRegions = rbac.AllowOnly("R1", "R2")
	body := `{"email":"  New@Example.com ","password":"longenough","fullName":"New","role":"store_manager",` +
		`"organizationId":"org-a","allowedRegions":["R1"],"allowedStores":["S1"],"storeIds":["S1"]}`

	t.Run("created", func(t *testing.T) {
		f := newFixture(gm)
		w := f.do(gm, http.MethodPost, "/api/accounts", body)
		require.Equal(t, http.StatusCreated, w.Code)

		var created rbac.Principal
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.Equal(t, "new@example.com", created.Email)
		assert.Equal(t, []string{"S1"}, created.AllowedStores.IDs())

		require.Len(t, f.audit.entries, 1)
		assert.Equal(t, audit.ActionCreate, f.audit.entries[0].Action)
		assert.Equal(t, "new-id", f.audit.entries[0].ResourceID)
		assert.True(t, f.audit.entries[0].Success)
	})

	t.Run("region grant outside actor", func(t *testing.T) {
		f := newFixture(gm)
		w := f.do(gm, http.MethodPost, "/api/accounts", strings.Replace(body, `["R1"]`, `["R9"]`, 1))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Zero(t, f.creator.calls)
	})

	t.Run("store ids are checked", func(t *testing.T) {
		tests := []struct {
			name   string
			from   string
			to     string
			status int
			field  string
		}{
			{"manager of another organization's store", `"storeIds":["S1"]`, `"storeIds":["S1","S9"]`, http.StatusForbidden, ""},
			{"grant of another organization's store", `"allowedStores":["S1"]`, `"allowedStores":["S9"]`, http.StatusForbidden, ""},
			{"unknown store", `"storeIds":["S1"]`, `"storeIds":["S404"]`, http.StatusBadRequest, "storeIds"},
			{"inactive store", `"allowedStores":["S1"]`, `"allowedStores":["S3"]`, http.StatusBadRequest, "allowedStores"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(gm)
				w := f.do(gm, http.MethodPost, "/api/accounts", strings.Replace(body, tt.from, tt.to, 1))
				require.Equal(t, tt.status, w.Code)
				if tt.field != "" {
					assert.Contains(t, errorBody(t, w).Fields, tt.field)
				} else {
					assert.Equal(t, string(rbac.ReasonCrossOrganization), errorBody(t, w).Error)
				}
				assert.Zero(t, f.creator.calls)
				require.Len(t, f.audit.entries, 1)
				assert.False(t, f.audit.entries[0].Success)
			})
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		f := newFixture(gm)
		w := f.do(gm, http.MethodPost, "/api/accounts", `{"email":"nope","password":"short","role":"janitor"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		fields := errorBody(t, w).Fields
		assert.Contains(t, fields, "email")
		assert.Contains(t, fields, "password")
		assert.Contains(t, fields, "role")
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newFixture(gm)
		f.creator.err = apperr.Conflict("an account with this email already exists", errors.New("23505"))
		w := f.do(gm, http.MethodPost, "/api/accounts", body)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("rolled back", func(t *testing.T) {
		f := newFixture(gm)
		f.creator.err = apperr.RolledBack("account creation failed and was rolled back", errors.New("db down"))
		w := f.do(gm, http.MethodPost, "/api/accounts", body)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "account creation failed and was rolled back", errorBody(t, w).Error)
	})

	t.Run("compensation failure", func(t *testing.T) {
		f := newFixture(gm)
		f.creator.err = apperr.CompensationFailure("account creation failed and could not be rolled back", "identity", []string{"ident-1"}, errors.New("idp down"))
		w := f.do(gm, http.MethodPost, "/api/accounts", body)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		resp := errorBody(t, w)
		assert.Equal(t, []string{"ident-1"}, resp.OrphanIDs)
		assert.Equal(t, apperr.SupportContact, resp.Details)
		require.Len(t, f.audit.entries, 1)
		assert.False(t, f.audit.entries[0].Success)
	})
}

func TestHandlers_List(t *testing.T) {
	gm := account("gm", rbac.RoleGeneralManager, "org-a")
	f := newFixture(gm, account("a", rbac.RoleViewer, "org-a"), account("b", rbac.RoleViewer, "org-b"))

	w := f.do(gm, http.MethodGet, "/api/accounts?organizationId=org-b", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Accounts []rbac.Principal `json:"accounts"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, a := range resp.Accounts {
		assert.Equal(t, "org-a", a.OrganizationID)
	}

	viewer := account("v", rbac.RoleViewer, "org-a")
	assert.Equal(t, http.StatusForbidden, f.do(viewer, http.MethodGet, "/api/accounts", "").Code)
}

func TestHandlers_ActivateRestoresAccount(t *testing.T) {
	admin := account("root", rbac.RoleSuperAdmin, "org-a")
	gone := account("gone", rbac.RoleBuyer, "org-b")
	gone.IsActive = false
	f := newFixture(admin, gone)

	w := f.do(admin, http.MethodPost, "/api/accounts/gone/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.store.profiles["gone"].IsActive)
	assert.Equal(t, []audit.Action{audit.ActionActivate}, f.audit.actions())
}

func TestHandlers_Me(t *testing.T) {
	analyst := account("an", rbac.RoleAnalyst, "org-a")
	f := newFixture(analyst)

	w := f.do(analyst, http.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "an", resp.Principal.ID)
	assert.Equal(t, "/dashboard", resp.FirstSection)
	assert.NotContains(t, resp.Sections, rbac.SectionUsers)

	assert.Equal(t, http.StatusUnauthorized, f.do(nil, http.MethodGet, "/api/me", "").Code)
}
