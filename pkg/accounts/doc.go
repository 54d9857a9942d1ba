// Package accounts manages dashboard accounts: the profile rows that pair an
// identity provider identity with a role, an organization and scope lists.
//
// Repository persists profiles in Postgres. Handlers serves /api/me and
// /api/accounts. Creation itself is delegated to a Creator so that the
// identity, the profile and any store-manager assignments are created as one
// compensating unit (see package provisioning).
//
// Every mutation runs the self-action checks first, then loads the target
// and applies the organization and hierarchy checks against the stored
// record. Self-deactivation is rejected with 400 for every role.
package accounts
