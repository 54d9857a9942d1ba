package rbac

import (
	"github.com/platinummonkey/retailops/pkg/apperr"
)

// Reason is a stable, machine-readable denial reason.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonUnauthenticated       Reason = "unauthenticated"
	ReasonInactivePrincipal     Reason = "inactive_principal"
	ReasonUnknownRole           Reason = "unknown_role"
	ReasonSectionNotAllowed     Reason = "section_not_allowed"
	ReasonRoleNotAllowed        Reason = "role_not_allowed"
	ReasonOutOfScope            Reason = "out of scope"
	ReasonCannotDeactivateSelf  Reason = "cannot_deactivate_self"
	ReasonCannotElevateSelf     Reason = "cannot_elevate_self"
	ReasonCrossOrganization     Reason = "cross_organization"
	ReasonRoleElevation         Reason = "role_elevation_not_allowed"
	ReasonInsufficientHierarchy Reason = "insufficient_hierarchy"
	ReasonRegionGrantNotSubset  Reason = "region_grant_not_subset"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

// Allow returns a permitting decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with a reason.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Err converts a denial into an application error. It returns nil when the
// decision allows. Self-deactivation is a malformed request rather than a
// permission problem and maps to a validation error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonCannotDeactivateSelf:
		return apperr.Validation("you cannot deactivate your own account", map[string]string{"isActive": string(d.Reason)})
	case ReasonUnauthenticated:
		return apperr.Authentication("authentication required")
	default:
		return apperr.Authorization(string(d.Reason))
	}
}

// SelfAction is an action a principal may attempt on their own account.
type SelfAction string

const (
	SelfDeactivate  SelfAction = "deactivate"
	SelfRoleChange  SelfAction = "role_change"
	SelfScopeChange SelfAction = "scope_change"
)

// MutationTarget describes the principal or resource a caller wants to change.
type MutationTarget struct {
	ID             string
	OrganizationID string
	// CurrentRole is empty for new accounts and non-principal resources.
	CurrentRole Role
	// NewRole is empty when the role is not being changed.
	NewRole Role
	// GrantedRegions is nil when regions are not being changed.
	GrantedRegions *ScopeList
}

// Guard composes the role registry and scope evaluation into per-request
// checks. Every method is pure.
type Guard struct {
	registry *Registry
}

// NewGuard creates a guard over the given registry.
func NewGuard(registry *Registry) *Guard {
	return &Guard{registry: registry}
}

// Registry returns the guard's role registry.
func (g *Guard) Registry() *Registry {
	return g.registry
}

func (g *Guard) precheck(p *Principal) (int, Decision) {
	if p == nil {
		return 0, Deny(ReasonUnauthenticated)
	}
	if !p.IsActive {
		return 0, Deny(ReasonInactivePrincipal)
	}
	level, ok := g.registry.Level(p.Role)
	if !ok {
		return 0, Deny(ReasonUnknownRole)
	}
	return level, Allow()
}

// AuthorizeSection checks navigation access to a section.
func (g *Guard) AuthorizeSection(p *Principal, section Section) Decision {
	if _, d := g.precheck(p); !d.Allowed {
		return d
	}
	if !g.registry.HasSection(p.Role, section) {
		return Deny(ReasonSectionNotAllowed)
	}
	return Allow()
}

// AuthorizeAction allows the action only for the listed roles. The action
// name is informational.
func (g *Guard) AuthorizeAction(p *Principal, action string, allowed ...Role) Decision {
	if _, d := g.precheck(p); !d.Allowed {
		return d
	}
	for _, r := range allowed {
		if p.Role == r {
			return Allow()
		}
	}
	return Deny(ReasonRoleNotAllowed)
}

// AuthorizeOwnership is the IDOR check. It must be called with a resource
// already loaded from the store so that the owner key is authoritative.
func (g *Guard) AuthorizeOwnership(p *Principal, resource Owned, d Dimension) Decision {
	if _, dec := g.precheck(p); !dec.Allowed {
		return dec
	}
	if g.registry.IsPrivileged(p.Role) {
		return Allow()
	}
	if resource == nil {
		return Deny(ReasonOutOfScope)
	}
	key := resource.OwnerKey(d)
	if key == "" {
		return Deny(ReasonOutOfScope)
	}
	if !IsInScope(p, d, key) {
		return Deny(ReasonOutOfScope)
	}
	return Allow()
}

// AuthorizeSelfAction blocks self-deactivation and self-elevation. Actions
// on other principals are always allowed here. newRole is only read for
// SelfRoleChange.
func (g *Guard) AuthorizeSelfAction(p *Principal, targetID string, action SelfAction, newRole Role) Decision {
	level, d := g.precheck(p)
	if !d.Allowed {
		return d
	}
	if targetID != p.ID {
		return Allow()
	}

	switch action {
	case SelfDeactivate:
		return Deny(ReasonCannotDeactivateSelf)
	case SelfRoleChange:
		if newRole == p.Role {
			return Allow()
		}
		newLevel, ok := g.registry.Level(newRole)
		if !ok {
			return Deny(ReasonUnknownRole)
		}
		if newLevel < level {
			return Deny(ReasonCannotElevateSelf)
		}
		return Allow()
	case SelfScopeChange:
		if level == 0 {
			return Allow()
		}
		return Deny(ReasonCannotElevateSelf)
	}
	return Allow()
}

// AuthorizeCrossOrgMutation enforces organization boundaries and the role
// hierarchy for mutations. Level 0 is unconstrained. Everyone else must
// share the target's organization, outrank the target's current role,
// assign only roles below their own level and grant only regions they hold.
func (g *Guard) AuthorizeCrossOrgMutation(p *Principal, t MutationTarget) Decision {
	level, d := g.precheck(p)
	if !d.Allowed {
		return d
	}
	if level == 0 {
		return Allow()
	}
	if t.OrganizationID != p.OrganizationID {
		return Deny(ReasonCrossOrganization)
	}

	self := t.ID != "" && t.ID == p.ID

	if t.CurrentRole != "" && !self {
		targetLevel, ok := g.registry.Level(t.CurrentRole)
		if !ok {
			return Deny(ReasonUnknownRole)
		}
		if targetLevel <= level {
			return Deny(ReasonInsufficientHierarchy)
		}
	}

	if t.NewRole != "" && !(self && t.NewRole == p.Role) {
		newLevel, ok := g.registry.Level(t.NewRole)
		if !ok {
			return Deny(ReasonUnknownRole)
		}
		if newLevel <= level {
			return Deny(ReasonRoleElevation)
		}
	}

	if t.GrantedRegions != nil && !t.GrantedRegions.IsSubsetOf(p.AllowedRegions) {
		return Deny(ReasonRegionGrantNotSubset)
	}

	return Allow()
}

// CanManage reports whether actor may elevate or deactivate a principal
// holding targetRole.
func (g *Guard) CanManage(actor *Principal, targetRole Role) bool {
	level, d := g.precheck(actor)
	if !d.Allowed {
		return false
	}
	if level == 0 {
		return true
	}
	targetLevel, ok := g.registry.Level(targetRole)
	return ok && targetLevel > level
}
