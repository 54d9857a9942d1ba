// Package rbac provides role-based access control for the retail operations
// dashboard.
//
// # Overview
//
// Access is decided by three cooperating pieces:
//
//  1. Registry: the static table of the nine roles, their privilege levels,
//     allowed sections, data-scope class, export capability and filter
//     dimensions.
//  2. ScopeList and IsInScope: per-dimension allow-lists on a Principal.
//  3. Guard: per-request checks that return a Decision instead of an error.
//
// # Roles
//
// Level 0 is the most privileged. A principal may only manage principals
// with a strictly greater level, except level 0 which is unconstrained.
//
//	super_admin        0  all
//	general_manager    1  all (own organization)
//	regional_manager   2  region
//	store_manager      3  store
//	category_manager   3  category
//	buyer              4  category
//	inventory_planner  4  store
//	analyst            5  region
//	viewer             6  store
//
// # Scope Lists
//
// A ScopeList has three states and they are never collapsed:
//
//	rbac.Unrestricted()     // null: every id is in scope
//	rbac.NoAccess()         // []:   nothing is in scope
//	rbac.AllowOnly("S1")    // only S1
//
// The JSON and SQL encodings preserve the distinction (null vs [] and
// NULL vs '{}').
//
// # Guard
//
// Guard methods never panic and never return errors:
//
//	guard := rbac.NewGuard(rbac.NewRegistry())
//	d := guard.AuthorizeOwnership(principal, store, rbac.DimensionStore)
//	if !d.Allowed {
//		return d.Err() // 403 "out of scope"
//	}
//
// Ownership checks must run against a resource loaded from the store, never
// against identifiers or scope claims supplied by the client.
//
// # Middleware
//
// Middleware.RequireSection and Middleware.RequireExport gate API routes
// using the principal placed in the context by the route guard. They compose:
// the audit export route requires both.
package rbac
