package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

const uniqueViolation = "23505"

const profileColumns = `id, email, full_name, role, organization_id,
	allowed_regions, allowed_stores, allowed_categories, is_active, created_at, updated_at`

// Repository persists profiles in Postgres.
type Repository struct {
	db     *sql.DB
	reader *sql.DB
}

// NewRepository creates a profile repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, reader: db}
}

// WithReplica routes List to db. Point reads stay on the primary so a
// principal is never loaded stale right after a mutation.
func (r *Repository) WithReplica(db *sql.DB) *Repository {
	if db != nil {
		r.reader = db
	}
	return r
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*rbac.Principal, error) {
	p := &rbac.Principal{}
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Role, &p.OrganizationID,
		&p.AllowedRegions, &p.AllowedStores, &p.AllowedCategories,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func translate(err error, action string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.Conflict("an account with this email already exists", err)
	}
	return fmt.Errorf("failed to %s profile: %w", action, err)
}

// Create inserts p. Its ID must already be the identity id.
func (r *Repository) Create(ctx context.Context, p *rbac.Principal) error {
	query := `
		INSERT INTO profiles (id, email, full_name, role, organization_id,
			allowed_regions, allowed_stores, allowed_categories, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.Email, p.FullName, string(p.Role), p.OrganizationID,
		p.AllowedRegions, p.AllowedStores, p.AllowedCategories, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return translate(err, "create")
	}
	return nil
}

// Get loads a profile by id.
func (r *Repository) Get(ctx context.Context, id string) (*rbac.Principal, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// LoadPrincipal is Get for the route guard.
func (r *Repository) LoadPrincipal(ctx context.Context, id string) (*rbac.Principal, error) {
	return r.Get(ctx, id)
}

// ProfileExists reports whether a profile row exists for the identity id.
func (r *Repository) ProfileExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe profile: %w", err)
	}
	return exists, nil
}

// Update writes the mutable fields of p.
func (r *Repository) Update(ctx context.Context, p *rbac.Principal) error {
	query := `
		UPDATE profiles
		SET full_name = $2, role = $3, allowed_regions = $4, allowed_stores = $5,
		    allowed_categories = $6, is_active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.FullName, string(p.Role),
		p.AllowedRegions, p.AllowedStores, p.AllowedCategories, p.IsActive,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("account not found")
	}
	if err != nil {
		return translate(err, "update")
	}
	return nil
}

// SetActive flips is_active.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set profile active state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set profile active state: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("account not found")
	}
	return nil
}

// Deactivate soft-deletes a profile.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	return r.SetActive(ctx, id, false)
}

// Activate reverses Deactivate.
func (r *Repository) Activate(ctx context.Context, id string) error {
	return r.SetActive(ctx, id, true)
}

// Delete removes the row. Only the creation rollback hard-deletes; a
// missing row is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// ListFilter narrows List.
type ListFilter struct {
	OrganizationID string
	Role           rbac.Role
	ActiveOnly     bool
	Limit          int
	Offset         int
}

// List returns profiles ordered by email.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*rbac.Principal, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OrganizationID != "" {
		query += " AND organization_id = " + arg(f.OrganizationID)
	}
	if f.Role != "" {
		query += " AND role = " + arg(string(f.Role))
	}
	if f.ActiveOnly {
		query += " AND is_active = TRUE"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY email LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	out := make([]*rbac.Principal, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return out, nil
}
