package stores

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/audit"
	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

var (
	createRoles = []rbac.Role{rbac.RoleSuperAdmin, rbac.RoleGeneralManager}
	updateRoles = []rbac.Role{rbac.RoleSuperAdmin, rbac.RoleGeneralManager, rbac.RoleRegionalManager, rbac.RoleStoreManager}
	deleteRoles = []rbac.Role{rbac.RoleSuperAdmin, rbac.RoleGeneralManager}
)

// Storage is the store persistence the handlers need.
type Storage interface {
	Get(ctx context.Context, id string) (*Store, error)
	Update(ctx context.Context, s *Store) error
	SoftDelete(ctx context.Context, id string) error
	AssignManagers(ctx context.Context, storeID string, managerIDs []string) error
	List(ctx context.Context, f ListFilter) ([]*Store, error)
}

// Creator runs the store creation flow.
type Creator interface {
	CreateStore(ctx context.Context, actor *rbac.Principal, req *CreateRequest) (*Store, error)
}

// Handlers serves /api/stores.
type Handlers struct {
	storage    Storage
	principals Principals
	creator    Creator
	guard      *rbac.Guard
	audit      *audit.Logger
}

// NewHandlers creates store handlers. principals is used to check manager
// ids taken from request bodies.
func NewHandlers(storage Storage, principals Principals, creator Creator, guard *rbac.Guard, auditLogger *audit.Logger) *Handlers {
	return &Handlers{
		storage:    storage,
		principals: principals,
		creator:    creator,
		guard:      guard,
		audit:      auditLogger,
	}
}

// RegisterRoutes registers store routes on the /api subrouter.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/stores", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/stores", h.List).Methods(http.MethodGet)
	router.HandleFunc("/stores/{id}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/stores/{id}", h.Update).Methods(http.MethodPatch)
	router.HandleFunc("/stores/{id}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/stores/{id}/managers", h.SetManagers).Methods(http.MethodPut)
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (*rbac.Principal, bool) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, rbac.Deny(rbac.ReasonUnauthenticated).Err())
		return nil, false
	}
	return p, true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, actor *rbac.Principal, action audit.Action, id string, err error) {
	h.audit.LogFailure(r.Context(), actor.ID, action, audit.ResourceStore, id, err, nil)
	httputil.WriteAppError(w, r, err)
}

// load reads the store and applies the organization and ownership checks
// to the stored record.
func (h *Handlers) load(r *http.Request, actor *rbac.Principal) (*Store, error) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		return nil, apperr.Validation("missing store id", map[string]string{"id": "is required"})
	}
	s, err := h.storage.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if d := Authorize(h.guard, actor, s); !d.Allowed {
		return nil, d.Err()
	}
	return s, nil
}

// Create handles POST /api/stores
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if d := h.guard.AuthorizeAction(actor, "create_store", createRoles...); !d.Allowed {
		h.fail(w, r, actor, audit.ActionCreate, "", d.Err())
		return
	}

	var req CreateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", apperr.Validation(err.Error(), nil))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", err)
		return
	}

	region := rbac.AllowOnly(req.RegionID)
	d := h.guard.AuthorizeCrossOrgMutation(actor, rbac.MutationTarget{
		OrganizationID: req.OrganizationID,
		GrantedRegions: &region,
	})
	if !d.Allowed {
		h.fail(w, r, actor, audit.ActionCreate, "", d.Err())
		return
	}
	if err := AuthorizeManagers(r.Context(), h.principals, h.guard, actor, req.OrganizationID, req.ManagerIDs); err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", err)
		return
	}

	created, err := h.creator.CreateStore(r.Context(), actor, &req)
	if err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", err)
		return
	}

	h.audit.LogCreate(r.Context(), actor.ID, audit.ResourceStore, created.ID, map[string]interface{}{
		"code":       created.Code,
		"regionId":   created.RegionID,
		"managerIds": req.ManagerIDs,
	})
	httputil.WriteCreated(w, created)
}

// List handles GET /api/stores. Results are confined to the caller's scope.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if d := h.guard.AuthorizeSection(actor, rbac.SectionStores); !d.Allowed {
		httputil.WriteAppError(w, r, d.Err())
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Validation(err.Error(), map[string]string{"limit": "must be an integer"}))
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Validation(err.Error(), map[string]string{"offset": "must be an integer"}))
		return
	}

	filter := ListFilter{OrganizationID: actor.OrganizationID, Limit: limit, Offset: offset}
	if isTopLevel(h.guard.Registry(), actor) {
		filter.OrganizationID = httputil.ParseQueryString(r, "organizationId", "")
	}
	if !h.guard.Registry().IsPrivileged(actor.Role) {
		if ScopeDimension(h.guard.Registry(), actor) == rbac.DimensionRegion {
			filter.Regions = actor.AllowedRegions
		} else {
			filter.Stores = actor.AllowedStores
		}
	}

	list, err := h.storage.List(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"stores": list,
		"count":  len(list),
	})
}

// Get handles GET /api/stores/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if d := h.guard.AuthorizeSection(actor, rbac.SectionStores); !d.Allowed {
		httputil.WriteAppError(w, r, d.Err())
		return
	}
	s, err := h.load(r, actor)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, s)
}

// Update handles PATCH /api/stores/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if d := h.guard.AuthorizeAction(actor, "update_store", updateRoles...); !d.Allowed {
		h.fail(w, r, actor, audit.ActionUpdate, id, d.Err())
		return
	}

	var req UpdateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, apperr.Validation(err.Error(), nil))
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	if req.Relocates() && !h.guard.Registry().IsPrivileged(actor.Role) {
		h.fail(w, r, actor, audit.ActionUpdate, id, rbac.Deny(rbac.ReasonRoleNotAllowed).Err())
		return
	}

	s, err := h.load(r, actor)
	if err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	if req.RegionID != nil {
		region := rbac.AllowOnly(*req.RegionID)
		d := h.guard.AuthorizeCrossOrgMutation(actor, rbac.MutationTarget{
			OrganizationID: s.OrganizationID,
			GrantedRegions: &region,
		})
		if !d.Allowed {
			h.fail(w, r, actor, audit.ActionUpdate, id, d.Err())
			return
		}
	}

	changed := req.Apply(s)
	if err := h.storage.Update(r.Context(), s); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	h.audit.LogUpdate(r.Context(), actor.ID, audit.ResourceStore, s.ID, map[string]interface{}{
		"changed": changed,
	})
	httputil.WriteSuccess(w, s)
}

// Delete handles DELETE /api/stores/{id}. Stores are only ever soft-deleted
// here.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if d := h.guard.AuthorizeAction(actor, "delete_store", deleteRoles...); !d.Allowed {
		h.fail(w, r, actor, audit.ActionDelete, id, d.Err())
		return
	}

	s, err := h.load(r, actor)
	if err != nil {
		h.fail(w, r, actor, audit.ActionDelete, id, err)
		return
	}
	if err := h.storage.SoftDelete(r.Context(), s.ID); err != nil {
		h.fail(w, r, actor, audit.ActionDelete, id, err)
		return
	}
	h.audit.LogDelete(r.Context(), actor.ID, audit.ResourceStore, s.ID, map[string]interface{}{
		"code": s.Code,
		"soft": true,
	})

	s.IsActive = false
	httputil.WriteSuccess(w, s)
}

// SetManagers handles PUT /api/stores/{id}/managers
func (h *Handlers) SetManagers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if d := h.guard.AuthorizeAction(actor, "assign_store_managers", createRoles...); !d.Allowed {
		h.fail(w, r, actor, audit.ActionUpdate, id, d.Err())
		return
	}

	var req ManagersRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, apperr.Validation(err.Error(), nil))
		return
	}

	s, err := h.load(r, actor)
	if err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	if req.ManagerIDs == nil {
		req.ManagerIDs = []string{}
	}
	if err := AuthorizeManagers(r.Context(), h.principals, h.guard, actor, s.OrganizationID, req.ManagerIDs); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	if err := h.storage.AssignManagers(r.Context(), s.ID, req.ManagerIDs); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	h.audit.LogUpdate(r.Context(), actor.ID, audit.ResourceStore, s.ID, map[string]interface{}{
		"managerIds": req.ManagerIDs,
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"storeId":    s.ID,
		"managerIds": req.ManagerIDs,
	})
}
