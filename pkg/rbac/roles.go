package rbac

// RoleDefinition is the static description of a role.
type RoleDefinition struct {
	Role             Role        `json:"role"`
	DisplayName      string      `json:"display_name"`
	Level            int         `json:"level"`
	Sections         []Section   `json:"sections"`
	DataScope        DataScope   `json:"data_scope"`
	CanExport        bool        `json:"can_export"`
	FilterDimensions []Dimension `json:"filter_dimensions"`
}

// BuiltInRoles returns the role table. Level 0 is the most privileged.
func BuiltInRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Role:             RoleSuperAdmin,
			DisplayName:      "Super Admin",
			Level:            0,
			Sections:         AllSections(),
			DataScope:        DataScopeAll,
			CanExport:        true,
			FilterDimensions: []Dimension{DimensionRegion, DimensionStore, DimensionCategory},
		},
		{
			Role:        RoleGeneralManager,
			DisplayName: "General Manager",
			Level:       1,
			Sections: []Section{
				SectionDashboard, SectionForecasts, SectionInventory, SectionStores,
				SectionRegions, SectionCategories, SectionReports, SectionUsers, SectionAudit,
			},
			DataScope:        DataScopeAll,
			CanExport:        true,
			FilterDimensions: []Dimension{DimensionRegion, DimensionStore, DimensionCategory},
		},
		{
			Role:        RoleRegionalManager,
			DisplayName: "Regional Manager",
			Level:       2,
			Sections: []Section{
				SectionDashboard, SectionForecasts, SectionInventory, SectionStores,
				SectionRegions, SectionReports,
			},
			DataScope:        DataScopeRegion,
			CanExport:        true,
			FilterDimensions: []Dimension{DimensionRegion, DimensionStore},
		},
		{
			Role:             RoleStoreManager,
			DisplayName:      "Store Manager",
			Level:            3,
			Sections:         []Section{SectionDashboard, SectionForecasts, SectionInventory, SectionStores},
			DataScope:        DataScopeStore,
			CanExport:        false,
			FilterDimensions: []Dimension{DimensionStore},
		},
		{
			Role:             RoleCategoryManager,
			DisplayName:      "Category Manager",
			Level:            3,
			Sections:         []Section{SectionDashboard, SectionForecasts, SectionCategories, SectionReports},
			DataScope:        DataScopeCategory,
			CanExport:        true,
			FilterDimensions: []Dimension{DimensionCategory},
		},
		{
			Role:             RoleBuyer,
			DisplayName:      "Buyer",
			Level:            4,
			Sections:         []Section{SectionDashboard, SectionForecasts, SectionInventory, SectionCategories},
			DataScope:        DataScopeCategory,
			CanExport:        true,
			FilterDimensions: []Dimension{DimensionCategory},
		},
		{
			Role:             RoleInventoryPlanner,
			DisplayName:      "Inventory Planner",
			Level:            4,
			Sections:         []Section{SectionDashboard, SectionForecasts, SectionInventory},
			DataScope:        DataScopeStore,
			CanExport:        false,
			FilterDimensions: []Dimension{DimensionStore, DimensionCategory},
		},
		{
			Role:             RoleAnalyst,
			DisplayName:      "Analyst",
			Level:            5,
			Sections:         []Section{SectionDashboard, SectionForecasts, SectionReports},
			DataScope:        DataScopeRegion,
			CanExport:        true,
			FilterDimensions: []Dimension{DimensionRegion, DimensionStore, DimensionCategory},
		},
		{
			Role:             RoleViewer,
			DisplayName:      "Viewer",
			Level:            6,
			Sections:         []Section{SectionDashboard},
			DataScope:        DataScopeStore,
			CanExport:        false,
			FilterDimensions: []Dimension{DimensionStore},
		},
	}
}

// Registry answers static questions about roles. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	roles map[Role]RoleDefinition
}

// NewRegistry builds a registry from the built-in role table.
func NewRegistry() *Registry {
	return NewRegistryFrom(BuiltInRoles())
}

// NewRegistryFrom builds a registry from an explicit table.
func NewRegistryFrom(defs []RoleDefinition) *Registry {
	roles := make(map[Role]RoleDefinition, len(defs))
	for _, d := range defs {
		roles[d.Role] = d
	}
	return &Registry{roles: roles}
}

// Definition returns the definition for a role.
func (r *Registry) Definition(role Role) (RoleDefinition, bool) {
	d, ok := r.roles[role]
	return d, ok
}

// Level returns the privilege level of a role.
func (r *Registry) Level(role Role) (int, bool) {
	d, ok := r.roles[role]
	if !ok {
		return 0, false
	}
	return d.Level, true
}

// AllowedSections returns the sections the role may open. Unknown roles get none.
func (r *Registry) AllowedSections(role Role) []Section {
	d, ok := r.roles[role]
	if !ok {
		return nil
	}
	out := make([]Section, len(d.Sections))
	copy(out, d.Sections)
	return out
}

// HasSection reports whether the role may open the section.
func (r *Registry) HasSection(role Role, section Section) bool {
	d, ok := r.roles[role]
	if !ok {
		return false
	}
	for _, s := range d.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// FirstAllowedSection returns the first section, in navigation order, that
// the role may open.
func (r *Registry) FirstAllowedSection(role Role) (Section, bool) {
	for _, s := range AllSections() {
		if r.HasSection(role, s) {
			return s, true
		}
	}
	return "", false
}

// DataScope returns the role's data-scope class. Unknown roles get DataScopeNone.
func (r *Registry) DataScope(role Role) DataScope {
	d, ok := r.roles[role]
	if !ok {
		return DataScopeNone
	}
	return d.DataScope
}

// CanExport reports whether the role may export data.
func (r *Registry) CanExport(role Role) bool {
	d, ok := r.roles[role]
	return ok && d.CanExport
}

// FilterDimensions returns the filter dimensions the role may use.
func (r *Registry) FilterDimensions(role Role) []Dimension {
	d, ok := r.roles[role]
	if !ok {
		return nil
	}
	out := make([]Dimension, len(d.FilterDimensions))
	copy(out, d.FilterDimensions)
	return out
}

// IsPrivileged reports whether the role bypasses ownership scope checks.
func (r *Registry) IsPrivileged(role Role) bool {
	return role == RoleSuperAdmin || role == RoleGeneralManager
}
