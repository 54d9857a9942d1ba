package rbac

import (
	"context"
	"time"

	"github.com/platinummonkey/retailops/pkg/contextkeys"
)

// Principal is an authenticated account with a role and a data scope.
type Principal struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	FullName          string    `json:"fullName"`
	Role              Role      `json:"role"`
	OrganizationID    string    `json:"organizationId"`
	AllowedRegions    ScopeList `json:"allowedRegions"`
	AllowedStores     ScopeList `json:"allowedStores"`
	AllowedCategories ScopeList `json:"allowedCategories"`
	IsActive          bool      `json:"isActive"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Scope returns the allow-list for a dimension.
func (p *Principal) Scope(d Dimension) (ScopeList, bool) {
	switch d {
	case DimensionRegion:
		return p.AllowedRegions, true
	case DimensionStore:
		return p.AllowedStores, true
	case DimensionCategory:
		return p.AllowedCategories, true
	}
	return ScopeList{}, false
}

// OwnerKey lets a principal be checked as an owned resource. Principals are
// owned by their organization only, so every dimension maps to "".
func (p *Principal) OwnerKey(Dimension) string {
	return ""
}

// WithPrincipal stores the principal in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext returns the principal stored by the route guard.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}
