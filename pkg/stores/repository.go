package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

const storeColumns = `id, organization_id, region_id, code, name, address, is_active, created_at, updated_at`

// Repository persists stores and store-manager assignments in Postgres.
// List reads from the replica when one is set.
type Repository struct {
	db     *sql.DB
	reader *sql.DB
}

// NewRepository creates a store repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, reader: db}
}

// WithReplica routes List to db.
func (r *Repository) WithReplica(db *sql.DB) *Repository {
	if db != nil {
		r.reader = db
	}
	return r
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStore(row rowScanner) (*Store, error) {
	s := &Store{}
	err := row.Scan(
		&s.ID, &s.OrganizationID, &s.RegionID, &s.Code, &s.Name, &s.Address,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func translate(err error, action string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.Conflict("a store with this code already exists", err)
	}
	return fmt.Errorf("failed to %s store: %w", action, err)
}

// translateAssign maps the organization check in the assignment procedures
// to a cross-organization denial.
func translateAssign(err error, action string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == checkViolation {
		return apperr.Authorization(string(rbac.ReasonCrossOrganization))
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// Create inserts s, assigning an id when it has none.
func (r *Repository) Create(ctx context.Context, s *Store) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	query := `
		INSERT INTO stores (id, organization_id, region_id, code, name, address, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.OrganizationID, s.RegionID, s.Code, s.Name, s.Address, s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return translate(err, "create")
	}
	return nil
}

// Get loads a store by id, including soft-deleted ones.
func (r *Repository) Get(ctx context.Context, id string) (*Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE id = $1`
	s, err := scanStore(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store: %w", err)
	}
	return s, nil
}

// Update writes the mutable fields of s.
func (r *Repository) Update(ctx context.Context, s *Store) error {
	query := `
		UPDATE stores
		SET region_id = $2, code = $3, name = $4, address = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query, s.ID, s.RegionID, s.Code, s.Name, s.Address).Scan(&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("store not found")
	}
	if err != nil {
		return translate(err, "update")
	}
	return nil
}

// SoftDelete marks the store inactive.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stores SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`, id)
	if err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("store not found")
	}
	return nil
}

// Delete removes the row and its manager assignments. Only the creation
// rollback hard-deletes; a missing row is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stores WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	return nil
}

// AssignManagers replaces the managers of a store.
func (r *Repository) AssignManagers(ctx context.Context, storeID string, managerIDs []string) error {
	if _, err := r.db.ExecContext(ctx, `SELECT assign_store_managers($1, $2)`, storeID, pq.Array(managerIDs)); err != nil {
		return translateAssign(err, "assign store managers")
	}
	return nil
}

// AssignManagerToStores makes userID a manager of every store in storeIDs.
// It is a no-op for an empty list.
func (r *Repository) AssignManagerToStores(ctx context.Context, userID string, storeIDs []string) error {
	if len(storeIDs) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `SELECT assign_user_store_managers($1, $2)`, userID, pq.Array(storeIDs)); err != nil {
		return translateAssign(err, "assign user to stores")
	}
	return nil
}

// ListFilter narrows List. Regions and Stores are applied as scope lists:
// Unrestricted adds no predicate and NoAccess matches nothing.
type ListFilter struct {
	OrganizationID string
	Regions        rbac.ScopeList
	Stores         rbac.ScopeList
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// List returns stores ordered by code.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Store, error) {
	if f.Regions.IsEmpty() || f.Stores.IsEmpty() {
		return []*Store{}, nil
	}

	query := `SELECT ` + storeColumns + ` FROM stores WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OrganizationID != "" {
		query += " AND organization_id = " + arg(f.OrganizationID)
	}
	if !f.Regions.IsUnrestricted() {
		query += " AND region_id = ANY(" + arg(pq.Array(f.Regions.IDs())) + ")"
	}
	if !f.Stores.IsUnrestricted() {
		query += " AND id::text = ANY(" + arg(pq.Array(f.Stores.IDs())) + ")"
	}
	if !f.IncludeDeleted {
		query += " AND is_active = TRUE"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY code LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	out := make([]*Store, 0)
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stores: %w", err)
	}
	return out, nil
}
