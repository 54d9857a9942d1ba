package stores

import (
	"context"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// Getter reads one store.
type Getter interface {
	Get(ctx context.Context, id string) (*Store, error)
}

// Principals reads profiles for manager checks.
type Principals interface {
	Get(ctx context.Context, id string) (*rbac.Principal, error)
}

// ScopeDimension is the dimension p's store access is judged on: region for
// region-scoped roles, store for everyone else.
func ScopeDimension(reg *rbac.Registry, p *rbac.Principal) rbac.Dimension {
	if reg.DataScope(p.Role) == rbac.DataScopeRegion {
		return rbac.DimensionRegion
	}
	return rbac.DimensionStore
}

func isTopLevel(reg *rbac.Registry, p *rbac.Principal) bool {
	level, ok := reg.Level(p.Role)
	return ok && level == 0
}

// Authorize applies the organization and ownership checks to a store that
// was loaded from storage.
func Authorize(g *rbac.Guard, actor *rbac.Principal, s *Store) rbac.Decision {
	if actor == nil {
		return rbac.Deny(rbac.ReasonUnauthenticated)
	}
	if !isTopLevel(g.Registry(), actor) && s.OrganizationID != actor.OrganizationID {
		return rbac.Deny(rbac.ReasonCrossOrganization)
	}
	return g.AuthorizeOwnership(actor, s, ScopeDimension(g.Registry(), actor))
}

// AuthorizeStores loads every id and requires each store to be active, to
// belong to org and to pass Authorize for actor. Unknown ids are reported
// as a validation error on field.
func AuthorizeStores(ctx context.Context, rows Getter, g *rbac.Guard, actor *rbac.Principal, org string, ids []string, field string) error {
	for _, id := range ids {
		s, err := rows.Get(ctx, id)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return apperr.Validation("unknown store", map[string]string{field: id + " does not exist"})
			}
			return err
		}
		if !s.IsActive {
			return apperr.Validation("inactive store", map[string]string{field: id + " is inactive"})
		}
		if s.OrganizationID != org {
			return rbac.Deny(rbac.ReasonCrossOrganization).Err()
		}
		if d := Authorize(g, actor, s); !d.Allowed {
			return d.Err()
		}
	}
	return nil
}

// AuthorizeManagers loads every id and requires each principal to belong to
// org and to sit below actor in the role hierarchy.
func AuthorizeManagers(ctx context.Context, principals Principals, g *rbac.Guard, actor *rbac.Principal, org string, ids []string) error {
	for _, id := range ids {
		m, err := principals.Get(ctx, id)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return apperr.Validation("unknown manager", map[string]string{"managerIds": id + " does not exist"})
			}
			return err
		}
		if m.OrganizationID != org {
			return rbac.Deny(rbac.ReasonCrossOrganization).Err()
		}
		if !g.CanManage(actor, m.Role) {
			return rbac.Deny(rbac.ReasonInsufficientHierarchy).Err()
		}
	}
	return nil
}
