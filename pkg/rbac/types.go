package rbac

import (
	"fmt"
)

// Role is one of the nine built-in roles.
type Role string

const (
	RoleSuperAdmin       Role = "super_admin"
	RoleGeneralManager   Role = "general_manager"
	RoleRegionalManager  Role = "regional_manager"
	RoleStoreManager     Role = "store_manager"
	RoleCategoryManager  Role = "category_manager"
	RoleBuyer            Role = "buyer"
	RoleInventoryPlanner Role = "inventory_planner"
	RoleAnalyst          Role = "analyst"
	RoleViewer           Role = "viewer"
)

// AllRoles lists every role in descending privilege order.
func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleGeneralManager,
		RoleRegionalManager,
		RoleStoreManager,
		RoleCategoryManager,
		RoleBuyer,
		RoleInventoryPlanner,
		RoleAnalyst,
		RoleViewer,
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts a string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Section is a navigable area of the dashboard.
type Section string

const (
	SectionDashboard  Section = "dashboard"
	SectionForecasts  Section = "forecasts"
	SectionInventory  Section = "inventory"
	SectionStores     Section = "stores"
	SectionRegions    Section = "regions"
	SectionCategories Section = "categories"
	SectionReports    Section = "reports"
	SectionUsers      Section = "users"
	SectionAudit      Section = "audit"
	SectionSettings   Section = "settings"
)

// AllSections lists sections in navigation order.
func AllSections() []Section {
	return []Section{
		SectionDashboard,
		SectionForecasts,
		SectionInventory,
		SectionStores,
		SectionRegions,
		SectionCategories,
		SectionReports,
		SectionUsers,
		SectionAudit,
		SectionSettings,
	}
}

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	for _, known := range AllSections() {
		if s == known {
			return true
		}
	}
	return false
}

// Path returns the page path that serves the section.
func (s Section) Path() string {
	return "/" + string(s)
}

// DataScope is the class of data a role is confined to.
type DataScope string

const (
	DataScopeNone     DataScope = ""
	DataScopeAll      DataScope = "all"
	DataScopeRegion   DataScope = "region"
	DataScopeStore    DataScope = "store"
	DataScopeCategory DataScope = "category"
)

// Dimension is an axis along which a principal's access is restricted.
type Dimension string

const (
	DimensionRegion   Dimension = "region"
	DimensionStore    Dimension = "store"
	DimensionCategory Dimension = "category"
)

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionRegion, DimensionStore, DimensionCategory:
		return true
	}
	return false
}

// Owned is implemented by resources whose ownership can be checked. OwnerKey
// returns the identifier the resource carries for the dimension, or "" when
// the resource has no such field.
type Owned interface {
	OwnerKey(d Dimension) string
}
