package stores

import (
	"strings"
	"time"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// Store is a physical store. Its own id is the store ownership key and
// RegionID is the region key.
type Store struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	RegionID       string    `json:"regionId"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// OwnerKey implements rbac.Owned.
func (s *Store) OwnerKey(d rbac.Dimension) string {
	if s == nil {
		return ""
	}
	switch d {
	case rbac.DimensionStore:
		return s.ID
	case rbac.DimensionRegion:
		return s.RegionID
	}
	return ""
}

var _ rbac.Owned = (*Store)(nil)

// CreateRequest is the body of POST /api/stores.
type CreateRequest struct {
	OrganizationID string   `json:"organizationId"`
	RegionID       string   `json:"regionId"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Address        string   `json:"address"`
	ManagerIDs     []string `json:"managerIds,omitempty"`
}

// Normalize trims input.
func (r *CreateRequest) Normalize() {
	r.OrganizationID = strings.TrimSpace(r.OrganizationID)
	r.RegionID = strings.TrimSpace(r.RegionID)
	r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
	r.Name = strings.TrimSpace(r.Name)
	r.Address = strings.TrimSpace(r.Address)
}

// Validate returns a validation error listing every bad field.
func (r *CreateRequest) Validate() error {
	fields := map[string]string{}
	if r.OrganizationID == "" {
		fields["organizationId"] = "is required"
	}
	if r.RegionID == "" {
		fields["regionId"] = "is required"
	}
	if r.Code == "" {
		fields["code"] = "is required"
	}
	if r.Name == "" {
		fields["name"] = "is required"
	}
	for _, id := range r.ManagerIDs {
		if strings.TrimSpace(id) == "" {
			fields["managerIds"] = "must not contain empty ids"
			break
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid store", fields)
	}
	return nil
}

// Store builds the row to insert under id.
func (r *CreateRequest) Store(id string) *Store {
	return &Store{
		ID:             id,
		OrganizationID: r.OrganizationID,
		RegionID:       r.RegionID,
		Code:           r.Code,
		Name:           r.Name,
		Address:        r.Address,
		IsActive:       true,
	}
}

// UpdateRequest is the body of PATCH /api/stores/{id}. Absent fields are
// left unchanged. RegionID and Code may only be changed by privileged
// roles.
type UpdateRequest struct {
	Name     *string `json:"name"`
	Address  *string `json:"address"`
	RegionID *string `json:"regionId"`
	Code     *string `json:"code"`
}

// Validate checks the fields that are present.
func (r *UpdateRequest) Validate() error {
	fields := map[string]string{}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		fields["name"] = "must not be empty"
	}
	if r.RegionID != nil && strings.TrimSpace(*r.RegionID) == "" {
		fields["regionId"] = "must not be empty"
	}
	if r.Code != nil && strings.TrimSpace(*r.Code) == "" {
		fields["code"] = "must not be empty"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid store update", fields)
	}
	return nil
}

// Relocates reports whether the update moves the store or renames its code.
func (r *UpdateRequest) Relocates() bool {
	return r.RegionID != nil || r.Code != nil
}

// Apply copies the present fields onto s and returns the changed field
// names.
func (r *UpdateRequest) Apply(s *Store) []string {
	var changed []string
	if r.Name != nil {
		s.Name = strings.TrimSpace(*r.Name)
		changed = append(changed, "name")
	}
	if r.Address != nil {
		s.Address = strings.TrimSpace(*r.Address)
		changed = append(changed, "address")
	}
	if r.RegionID != nil {
		s.RegionID = strings.TrimSpace(*r.RegionID)
		changed = append(changed, "regionId")
	}
	if r.Code != nil {
		s.Code = strings.ToUpper(strings.TrimSpace(*r.Code))
		changed = append(changed, "code")
	}
	return changed
}

// ManagersRequest is the body of PUT /api/stores/{id}/managers.
type ManagersRequest struct {
	ManagerIDs []string `json:"managerIds"`
}
