package accounts

import (
	"net/mail"
	"strings"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

const minPasswordLength = 8

// CreateRequest is the body of POST /api/accounts.
type CreateRequest struct {
	Email             string         `json:"email"`
	Password          string         `json:"password"`
	FullName          string         `json:"fullName"`
	Role              rbac.Role      `json:"role"`
	OrganizationID    string         `json:"organizationId"`
	AllowedRegions    rbac.ScopeList `json:"allowedRegions"`
	AllowedStores     rbac.ScopeList `json:"allowedStores"`
	AllowedCategories rbac.ScopeList `json:"allowedCategories"`
	// StoreIDs makes the new account a manager of these stores.
	StoreIDs []string `json:"storeIds,omitempty"`
}

// Normalize trims input and lowercases the email.
func (r *CreateRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.OrganizationID = strings.TrimSpace(r.OrganizationID)
}

// Validate returns a validation error listing every bad field.
func (r *CreateRequest) Validate() error {
	fields := map[string]string{}
	if _, err := mail.ParseAddress(r.Email); err != nil || r.Email == "" {
		fields["email"] = "must be a valid email address"
	}
	if len(r.Password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
	if r.FullName == "" {
		fields["fullName"] = "is required"
	}
	if !r.Role.Valid() {
		fields["role"] = "unknown role"
	}
	if r.OrganizationID == "" {
		fields["organizationId"] = "is required"
	}
	for _, id := range r.StoreIDs {
		if strings.TrimSpace(id) == "" {
			fields["storeIds"] = "must not contain empty ids"
			break
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid account", fields)
	}
	return nil
}

// Principal builds the profile to persist for identity id.
func (r *CreateRequest) Principal(id string) *rbac.Principal {
	return &rbac.Principal{
		ID:                id,
		Email:             r.Email,
		FullName:          r.FullName,
		Role:              r.Role,
		OrganizationID:    r.OrganizationID,
		AllowedRegions:    r.AllowedRegions,
		AllowedStores:     r.AllowedStores,
		AllowedCategories: r.AllowedCategories,
		IsActive:          true,
	}
}

// ScopePatch distinguishes an absent field from an explicit null, which
// means unrestricted.
type ScopePatch struct {
	Set   bool
	Scope rbac.ScopeList
}

// UnmarshalJSON marks the patch as set, including for null.
func (p *ScopePatch) UnmarshalJSON(data []byte) error {
	p.Set = true
	return p.Scope.UnmarshalJSON(data)
}

// UpdateRequest is the body of PATCH /api/accounts/{id}. Absent fields are
// left unchanged.
type UpdateRequest struct {
	FullName          *string    `json:"fullName"`
	Role              *rbac.Role `json:"role"`
	AllowedRegions    ScopePatch `json:"allowedRegions"`
	AllowedStores     ScopePatch `json:"allowedStores"`
	AllowedCategories ScopePatch `json:"allowedCategories"`
	IsActive          *bool      `json:"isActive"`
}

// Validate checks the fields that are present.
func (r *UpdateRequest) Validate() error {
	fields := map[string]string{}
	if r.FullName != nil && strings.TrimSpace(*r.FullName) == "" {
		fields["fullName"] = "must not be empty"
	}
	if r.Role != nil && !r.Role.Valid() {
		fields["role"] = "unknown role"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid account update", fields)
	}
	return nil
}

// ChangesScope reports whether any scope list is being replaced.
func (r *UpdateRequest) ChangesScope() bool {
	return r.AllowedRegions.Set || r.AllowedStores.Set || r.AllowedCategories.Set
}

// Apply copies the present fields onto p.
func (r *UpdateRequest) Apply(p *rbac.Principal) {
	if r.FullName != nil {
		p.FullName = strings.TrimSpace(*r.FullName)
	}
	if r.Role != nil {
		p.Role = *r.Role
	}
	if r.AllowedRegions.Set {
		p.AllowedRegions = r.AllowedRegions.Scope
	}
	if r.AllowedStores.Set {
		p.AllowedStores = r.AllowedStores.Scope
	}
	if r.AllowedCategories.Set {
		p.AllowedCategories = r.AllowedCategories.Scope
	}
	if r.IsActive != nil {
		p.IsActive = *r.IsActive
	}
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	Principal    *rbac.Principal `json:"principal"`
	Sections     []rbac.Section  `json:"sections"`
	FirstSection string          `json:"firstSection"`
	CanExport    bool            `json:"canExport"`
}
