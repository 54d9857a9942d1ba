package accounts

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/audit"
	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/stores"
)

// Store is the profile persistence the handlers need.
type Store interface {
	Get(ctx context.Context, id string) (*rbac.Principal, error)
	Update(ctx context.Context, p *rbac.Principal) error
	Deactivate(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]*rbac.Principal, error)
}

// Creator runs the account creation flow.
type Creator interface {
	CreateAccount(ctx context.Context, actor *rbac.Principal, req *CreateRequest) (*rbac.Principal, error)
}

// Invalidator drops cached principals after a mutation.
type Invalidator interface {
	Invalidate(id string)
}

// Handlers serves /api/accounts and /api/me.
type Handlers struct {
	store     Store
	storeRows stores.Getter
	creator   Creator
	guard     *rbac.Guard
	audit     *audit.Logger
	cache     Invalidator
}

// NewHandlers creates account handlers. storeRows resolves store ids taken
// from request bodies. cache may be nil.
func NewHandlers(store Store, storeRows stores.Getter, creator Creator, guard *rbac.Guard, auditLogger *audit.Logger, cache Invalidator) *Handlers {
	return &Handlers{
		store:     store,
		storeRows: storeRows,
		creator:   creator,
		guard:     guard,
		audit:     auditLogger,
		cache:     cache,
	}
}

// RegisterRoutes registers account routes on the /api subrouter.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	router.HandleFunc("/accounts", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/accounts", h.List).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}", h.Update).Methods(http.MethodPatch)
	router.HandleFunc("/accounts/{id}", h.Deactivate).Methods(http.MethodDelete)
	router.HandleFunc("/accounts/{id}/activate", h.Activate).Methods(http.MethodPost)
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
	h.audit.LogFailure(r.Context(), actor.ID, action, audit.ResourceUser, id, err, nil)
	httputil.WriteAppError(w, r, err)
}

func (h *Handlers) invalidate(id string) {
	if h.cache != nil {
		h.cache.Invalidate(id)
	}
}

func (h *Handlers) isTopLevel(p *rbac.Principal) bool {
	level, ok := h.guard.Registry().Level(p.Role)
	return ok && level == 0
}

// authorizeStoreGrant checks a store scope being granted to an account in
// org. Listed stores must exist in org and be within the actor's reach; an
// unrestricted grant needs an actor whose own store access is unrestricted.
func (h *Handlers) authorizeStoreGrant(ctx context.Context, actor *rbac.Principal, org string, grant rbac.ScopeList) error {
	if grant.IsUnrestricted() {
		if !h.isTopLevel(actor) && !h.guard.Registry().IsPrivileged(actor.Role) && !actor.AllowedStores.IsUnrestricted() {
			return rbac.Deny(rbac.ReasonOutOfScope).Err()
		}
		return nil
	}
	return stores.AuthorizeStores(ctx, h.storeRows, h.guard, actor, org, grant.IDs(), "allowedStores")
}

// loadTarget reads the target account. Anyone may read themselves; other
// accounts need the users section and the same organization.
func (h *Handlers) loadTarget(r *http.Request, actor *rbac.Principal) (*rbac.Principal, error) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		return nil, apperr.Validation("missing account id", map[string]string{"id": "is required"})
	}
	if id != actor.ID {
		if d := h.guard.AuthorizeSection(actor, rbac.SectionUsers); !d.Allowed {
			return nil, d.Err()
		}
	}
	target, err := h.store.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if target.ID != actor.ID && !h.isTopLevel(actor) && target.OrganizationID != actor.OrganizationID {
		return nil, rbac.Deny(rbac.ReasonCrossOrganization).Err()
	}
	return target, nil
}

// Me handles GET /api/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	reg := h.guard.Registry()
	resp := MeResponse{
		Principal: actor,
		Sections:  reg.AllowedSections(actor.Role),
		CanExport: reg.CanExport(actor.Role),
	}
	if first, ok := reg.FirstAllowedSection(actor.Role); ok {
		resp.FirstSection = first.Path()
	}
	httputil.WriteSuccess(w, resp)
}

// Create handles POST /api/accounts
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
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

	if d := h.guard.AuthorizeSection(actor, rbac.SectionUsers); !d.Allowed {
		h.fail(w, r, actor, audit.ActionCreate, "", d.Err())
		return
	}
	regions := req.AllowedRegions
	d := h.guard.AuthorizeCrossOrgMutation(actor, rbac.MutationTarget{
		OrganizationID: req.OrganizationID,
		NewRole:        req.Role,
		GrantedRegions: &regions,
	})
	if !d.Allowed {
		h.fail(w, r, actor, audit.ActionCreate, "", d.Err())
		return
	}
	if err := stores.AuthorizeStores(r.Context(), h.storeRows, h.guard, actor, req.OrganizationID, req.StoreIDs, "storeIds"); err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", err)
		return
	}
	if err := h.authorizeStoreGrant(r.Context(), actor, req.OrganizationID, req.AllowedStores); err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", err)
		return
	}

	created, err := h.creator.CreateAccount(r.Context(), actor, &req)
	if err != nil {
		h.fail(w, r, actor, audit.ActionCreate, "", err)
		return
	}

	h.audit.LogCreate(r.Context(), actor.ID, audit.ResourceUser, created.ID, map[string]interface{}{
		"email":          created.Email,
		"role":           string(created.Role),
		"organizationId": created.OrganizationID,
		"storeIds":       req.StoreIDs,
	})
	httputil.WriteCreated(w, created)
}

// List handles GET /api/accounts
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if d := h.guard.AuthorizeSection(actor, rbac.SectionUsers); !d.Allowed {
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

	filter := ListFilter{
		OrganizationID: actor.OrganizationID,
		Role:           rbac.Role(httputil.ParseQueryString(r, "role", "")),
		Limit:          limit,
		Offset:         offset,
	}
	if h.isTopLevel(actor) {
		filter.OrganizationID = httputil.ParseQueryString(r, "organizationId", "")
	}

	list, err := h.store.List(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"accounts": list,
		"count":    len(list),
	})
}

// Get handles GET /api/accounts/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	target, err := h.loadTarget(r, actor)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, target)
}

// Update handles PATCH /api/accounts/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var req UpdateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, apperr.Validation(err.Error(), nil))
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}

	if err := h.authorizeSelf(actor, id, &req); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}

	target, err := h.loadTarget(r, actor)
	if err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}

	mt := rbac.MutationTarget{ID: target.ID, OrganizationID: target.OrganizationID, CurrentRole: target.Role}
	if req.Role != nil {
		mt.NewRole = *req.Role
	}
	if req.AllowedRegions.Set {
		regions := req.AllowedRegions.Scope
		mt.GrantedRegions = &regions
	}
	if d := h.guard.AuthorizeCrossOrgMutation(actor, mt); !d.Allowed {
		h.fail(w, r, actor, audit.ActionUpdate, id, d.Err())
		return
	}
	if req.AllowedStores.Set {
		if err := h.authorizeStoreGrant(r.Context(), actor, target.OrganizationID, req.AllowedStores.Scope); err != nil {
			h.fail(w, r, actor, audit.ActionUpdate, id, err)
			return
		}
	}

	before := *target
	req.Apply(target)
	if err := h.store.Update(r.Context(), target); err != nil {
		h.fail(w, r, actor, audit.ActionUpdate, id, err)
		return
	}
	h.invalidate(target.ID)
	h.auditUpdate(r.Context(), actor, &before, target, &req)

	httputil.WriteSuccess(w, target)
}

// authorizeSelf applies the self-action rules before anything is loaded so
// that self-deactivation is rejected the same way for every role.
func (h *Handlers) authorizeSelf(actor *rbac.Principal, id string, req *UpdateRequest) error {
	if req.IsActive != nil && !*req.IsActive {
		if d := h.guard.AuthorizeSelfAction(actor, id, rbac.SelfDeactivate, ""); !d.Allowed {
			return d.Err()
		}
	}
	if req.Role != nil {
		if d := h.guard.AuthorizeSelfAction(actor, id, rbac.SelfRoleChange, *req.Role); !d.Allowed {
			return d.Err()
		}
	}
	if req.ChangesScope() {
		if d := h.guard.AuthorizeSelfAction(actor, id, rbac.SelfScopeChange, ""); !d.Allowed {
			return d.Err()
		}
	}
	return nil
}

func (h *Handlers) auditUpdate(ctx context.Context, actor, before, after *rbac.Principal, req *UpdateRequest) {
	if before.Role != after.Role {
		h.audit.LogAction(ctx, actor.ID, audit.ActionRoleChange, audit.ResourceUser, after.ID, map[string]interface{}{
			"from": string(before.Role),
			"to":   string(after.Role),
		})
	}
	if req.ChangesScope() {
		h.audit.LogAction(ctx, actor.ID, audit.ActionPermissionChange, audit.ResourceUser, after.ID, map[string]interface{}{
			"allowedRegions":    after.AllowedRegions,
			"allowedStores":     after.AllowedStores,
			"allowedCategories": after.AllowedCategories,
		})
	}
	switch {
	case before.IsActive && !after.IsActive:
		h.audit.LogAction(ctx, actor.ID, audit.ActionDeactivate, audit.ResourceUser, after.ID, nil)
	case !before.IsActive && after.IsActive:
		h.audit.LogAction(ctx, actor.ID, audit.ActionActivate, audit.ResourceUser, after.ID, nil)
	}
	if before.FullName != after.FullName {
		h.audit.LogUpdate(ctx, actor.ID, audit.ResourceUser, after.ID, map[string]interface{}{
			"fullName": after.FullName,
		})
	}
}

// Deactivate handles DELETE /api/accounts/{id}
func (h *Handlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Activate handles POST /api/accounts/{id}/activate
func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	action := audit.ActionActivate
	if !active {
		action = audit.ActionDeactivate
		if d := h.guard.AuthorizeSelfAction(actor, id, rbac.SelfDeactivate, ""); !d.Allowed {
			h.fail(w, r, actor, action, id, d.Err())
			return
		}
	}

	target, err := h.loadTarget(r, actor)
	if err != nil {
		h.fail(w, r, actor, action, id, err)
		return
	}
	d := h.guard.AuthorizeCrossOrgMutation(actor, rbac.MutationTarget{
		ID:             target.ID,
		OrganizationID: target.OrganizationID,
		CurrentRole:    target.Role,
	})
	if !d.Allowed {
		h.fail(w, r, actor, action, id, d.Err())
		return
	}

	if active {
		err = h.store.Activate(r.Context(), target.ID)
	} else {
		err = h.store.Deactivate(r.Context(), target.ID)
	}
	if err != nil {
		h.fail(w, r, actor, action, id, err)
		return
	}
	h.invalidate(target.ID)
	h.audit.LogAction(r.Context(), actor.ID, action, audit.ResourceUser, target.ID, nil)

	target.IsActive = active
	httputil.WriteSuccess(w, target)
}
