package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/retailops/pkg/accounts"
	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/identity"
	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/saga"
)

// Identities is the part of identity.Provider the account flow uses.
type Identities interface {
	CreateIdentity(ctx context.Context, req identity.CreateRequest) (*identity.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// Profiles creates and hard-deletes profile rows.
type Profiles interface {
	Create(ctx context.Context, p *rbac.Principal) error
	Delete(ctx context.Context, id string) error
}

// UserStoreAssigner makes a user the manager of a set of stores.
type UserStoreAssigner interface {
	AssignManagerToStores(ctx context.Context, userID string, storeIDs []string) error
}

// AccountProvisioner creates an identity, its profile and its store-manager
// assignments as one unit.
type AccountProvisioner struct {
	identities Identities
	profiles   Profiles
	managers   UserStoreAssigner
	opts       Options
}

// NewAccountProvisioner creates an account provisioner
func NewAccountProvisioner(identities Identities, profiles Profiles, managers UserStoreAssigner, opts Options) *AccountProvisioner {
	return &AccountProvisioner{
		identities: identities,
		profiles:   profiles,
		managers:   managers,
		opts:       opts,
	}
}

// CreateAccount implements accounts.Creator. The caller has already
// authorized actor for the request.
func (p *AccountProvisioner) CreateAccount(ctx context.Context, actor *rbac.Principal, req *accounts.CreateRequest) (*rbac.Principal, error) {
	var (
		ident   *identity.Identity
		profile *rbac.Principal
	)

	run := saga.New("create-account",
		saga.Step{
			Name:     "identity-created",
			Resource: "identity",
			Do: func(ctx context.Context) error {
				created, err := p.identities.CreateIdentity(ctx, identity.CreateRequest{
					Email:    req.Email,
					Password: req.Password,
					FullName: req.FullName,
				})
				if errors.Is(err, identity.ErrAlreadyExists) {
					return apperr.Conflict("an account with this email already exists", err)
				}
				if err != nil {
					return fmt.Errorf("failed to create identity: %w", err)
				}
				ident = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return p.identities.DeleteIdentity(ctx, ident.ID)
			},
			ResourceID: func() string { return ident.ID },
		},
		saga.Step{
			Name:     "profile-created",
			Resource: "profile",
			Do: func(ctx context.Context) error {
				candidate := req.Principal(ident.ID)
				if err := p.profiles.Create(ctx, candidate); err != nil {
					return err
				}
				profile = candidate
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return p.profiles.Delete(ctx, profile.ID)
			},
			ResourceID: func() string { return profile.ID },
		},
		saga.Step{
			Name:     "managers-assigned",
			Resource: "store_managers",
			Do: func(ctx context.Context) error {
				return p.managers.AssignManagerToStores(ctx, ident.ID, req.StoreIDs)
			},
		},
	).WithRetryPolicy(p.opts.retry()).WithMetrics(p.opts.Metrics)

	res := run.Run(ctx)
	if err := p.opts.outcome(ctx, res, "identity", "account"); err != nil {
		return nil, err
	}

	p.opts.logger(ctx).WithFields(map[string]interface{}{
		"actor_id":   actor.ID,
		"account_id": profile.ID,
		"role":       string(profile.Role),
	}).Info("account created")
	return profile, nil
}

var _ accounts.Creator = (*AccountProvisioner)(nil)
