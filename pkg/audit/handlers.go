package audit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/httputil"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store    Searcher
	logger   *Logger
	registry *rbac.Registry
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher, logger *Logger, registry *rbac.Registry) *Handlers {
	return &Handlers{
		store:    store,
		logger:   logger,
		registry: registry,
	}
}

// RegisterRoutes registers audit routes. section gates both routes and
// export additionally gates the export route.
func (h *Handlers) RegisterRoutes(router *mux.Router, section, export mux.MiddlewareFunc) {
	router.Handle("/audit/logs", section(http.HandlerFunc(h.Search))).Methods(http.MethodGet)
	router.Handle("/audit/export", section(export(http.HandlerFunc(h.Export)))).Methods(http.MethodGet)
}

// scope confines a search to the caller's organization. Only level 0 reads
// across tenants, optionally narrowed with organization_id.
func (h *Handlers) scope(r *http.Request, filter *SearchFilter) error {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		return rbac.Deny(rbac.ReasonUnauthenticated).Err()
	}
	if level, ok := h.registry.Level(p.Role); ok && level == 0 {
		filter.OrganizationID = httputil.ParseQueryString(r, "organization_id", "")
		return nil
	}
	if p.OrganizationID == "" {
		return rbac.Deny(rbac.ReasonCrossOrganization).Err()
	}
	filter.OrganizationID = p.OrganizationID
	return nil
}

// Search handles GET /api/audit/logs
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err == nil {
		err = h.scope(r, &filter)
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Internal("audit search failed", err))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// Export handles GET /api/audit/export?format=csv|json|ndjson
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))
	if !format.Valid() {
		httputil.WriteAppError(w, r, apperr.Validation("unsupported export format", map[string]string{"format": string(format)}))
		return
	}

	filter, err := parseFilter(r)
	if err == nil {
		err = h.scope(r, &filter)
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Internal("audit export failed", err))
		return
	}
	data, err := Encode(entries, format)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Internal("audit export failed", err))
		return
	}

	userID := ""
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok {
		userID = p.ID
	}
	h.logger.LogAction(r.Context(), userID, ActionExport, ResourceSettings, "", map[string]interface{}{
		"format":         string(format),
		"entries":        len(entries),
		"organizationId": filter.OrganizationID,
	})

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=audit-logs."+string(format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	filter := SearchFilter{
		UserID:     httputil.ParseQueryString(r, "user_id", ""),
		ResourceID: httputil.ParseQueryString(r, "resource_id", ""),
	}
	fields := map[string]string{}

	if s := httputil.ParseQueryString(r, "resource", ""); s != "" {
		res, err := ParseResource(s)
		if err != nil {
			fields["resource"] = err.Error()
		}
		filter.Resource = res
	}

	if s := httputil.ParseQueryString(r, "actions", ""); s != "" {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			a, err := ParseAction(part)
			if err != nil {
				fields["actions"] = err.Error()
				continue
			}
			filter.Actions = append(filter.Actions, a)
		}
	}

	if s := httputil.ParseQueryString(r, "success", ""); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			fields["success"] = "must be true or false"
		} else {
			filter.Success = &b
		}
	}

	var err error
	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		fields["start_time"] = "must be RFC3339"
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		fields["end_time"] = "must be RFC3339"
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultSearchLimit); err != nil || filter.Limit < 0 {
		fields["limit"] = "must be a non-negative integer"
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil || filter.Offset < 0 {
		fields["offset"] = "must be a non-negative integer"
	}

	if len(fields) > 0 {
		return filter, apperr.Validation("invalid audit filter", fields)
	}
	return filter, nil
}
