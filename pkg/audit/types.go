package audit

import (
	"fmt"
	"time"
)

// Action is what was done to a resource.
type Action string

const (
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionDeactivate       Action = "deactivate"
	ActionActivate         Action = "activate"
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionExport           Action = "export"
	ActionBulkUpdate       Action = "bulk_update"
	ActionBulkDelete       Action = "bulk_delete"
	ActionPasswordReset    Action = "password_reset"
	ActionPasswordChange   Action = "password_change"
	ActionRoleChange       Action = "role_change"
	ActionPermissionChange Action = "permission_change"
)

var validActions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionDeactivate: true, ActionActivate: true,
	ActionLogin: true, ActionLogout: true, ActionExport: true,
	ActionBulkUpdate: true, ActionBulkDelete: true,
	ActionPasswordReset: true, ActionPasswordChange: true,
	ActionRoleChange: true, ActionPermissionChange: true,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return validActions[a]
}

// ParseAction converts s into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown audit action %q", s)
	}
	return a, nil
}

// Resource is the kind of object an entry refers to.
type Resource string

const (
	ResourceUser         Resource = "user"
	ResourceStore        Resource = "store"
	ResourceCategory     Resource = "category"
	ResourceProduct      Resource = "product"
	ResourceRegion       Resource = "region"
	ResourceOrganization Resource = "organization"
	ResourceForecast     Resource = "forecast"
	ResourcePromotion    Resource = "promotion"
	ResourceAlert        Resource = "alert"
	ResourceSettings     Resource = "settings"
)

// Valid reports whether r is a known resource.
func (r Resource) Valid() bool {
	switch r {
	case ResourceUser, ResourceStore, ResourceCategory, ResourceProduct, ResourceRegion,
		ResourceOrganization, ResourceForecast, ResourcePromotion, ResourceAlert, ResourceSettings:
		return true
	}
	return false
}

// ParseResource converts s into a Resource.
func ParseResource(s string) (Resource, error) {
	r := Resource(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown audit resource %q", s)
	}
	return r, nil
}

// Entry is one immutable audit record.
type Entry struct {
	ID             int64                  `json:"id"`
	UserID         string                 `json:"userId,omitempty"`
	OrganizationID string                 `json:"organizationId,omitempty"`
	Action         Action                 `json:"action"`
	Resource       Resource               `json:"resource"`
	ResourceID     string                 `json:"resourceId,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ipAddress,omitempty"`
	UserAgent      string                 `json:"userAgent,omitempty"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"errorMessage,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// Validate checks the closed enumerations.
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("audit entry is nil")
	}
	if !e.Action.Valid() {
		return fmt.Errorf("unknown audit action %q", e.Action)
	}
	if !e.Resource.Valid() {
		return fmt.Errorf("unknown audit resource %q", e.Resource)
	}
	return nil
}

// SearchFilter narrows a search. Zero values match everything.
type SearchFilter struct {
	OrganizationID string
	UserID         string
	Actions        []Action
	Resource       Resource
	ResourceID     string
	Success        *bool
	StartTime      *time.Time
	EndTime        *time.Time

	Limit  int
	Offset int
}

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// ExportFormat is an export encoding.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Valid reports whether f is a supported format.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return true
	}
	return false
}

// ContentType returns the MIME type for f.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
