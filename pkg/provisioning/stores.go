package provisioning

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/saga"
	"github.com/platinummonkey/retailops/pkg/stores"
)

// StoreRows creates stores, hard-deletes them and replaces their managers.
type StoreRows interface {
	Create(ctx context.Context, s *stores.Store) error
	Delete(ctx context.Context, id string) error
	AssignManagers(ctx context.Context, storeID string, managerIDs []string) error
}

// StoreProvisioner creates a store and its manager assignments as one unit.
type StoreProvisioner struct {
	rows StoreRows
	opts Options
}

// NewStoreProvisioner creates a store provisioner
func NewStoreProvisioner(rows StoreRows, opts Options) *StoreProvisioner {
	return &StoreProvisioner{rows: rows, opts: opts}
}

// CreateStore implements stores.Creator.
func (p *StoreProvisioner) CreateStore(ctx context.Context, actor *rbac.Principal, req *stores.CreateRequest) (*stores.Store, error) {
	store := req.Store(uuid.NewString())

	run := saga.New("create-store",
		saga.Step{
			Name:     "store-created",
			Resource: "store",
			Do: func(ctx context.Context) error {
				return p.rows.Create(ctx, store)
			},
			Compensate: func(ctx context.Context) error {
				return p.rows.Delete(ctx, store.ID)
			},
			ResourceID: func() string { return store.ID },
		},
		saga.Step{
			Name:     "managers-assigned",
			Resource: "store_managers",
			Do: func(ctx context.Context) error {
				if len(req.ManagerIDs) == 0 {
					return nil
				}
				return p.rows.AssignManagers(ctx, store.ID, req.ManagerIDs)
			},
		},
	).WithRetryPolicy(p.opts.retry()).WithMetrics(p.opts.Metrics)

	res := run.Run(ctx)
	if err := p.opts.outcome(ctx, res, "store", "store"); err != nil {
		return nil, err
	}

	p.opts.logger(ctx).WithFields(map[string]interface{}{
		"actor_id": actor.ID,
		"store_id": store.ID,
		"managers": len(req.ManagerIDs),
	}).Info("store created")
	return store, nil
}

var _ stores.Creator = (*StoreProvisioner)(nil)
