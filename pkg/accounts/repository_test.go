package accounts

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

var profileRowColumns = []string{
	"id", "email", "full_name", "role", "organization_id",
	"allowed_regions", "allowed_stores", "allowed_categories", "is_active", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestRepository_CreatePersistsScopeTriState(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WithArgs("u1", "sm@example.com", "Store Manager", "store_manager", "org-a", nil, `{"S1"}`, "{}", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	p := &rbac.Principal{
		ID:                "u1",
		Email:             "sm@example.com",
		FullName:          "Store Manager",
		Role:              rbac.RoleStoreManager,
		OrganizationID:    "org-a",
		AllowedRegions:    rbac.Unrestricted(),
		AllowedStores:     rbac.AllowOnly("S1"),
		AllowedCategories: rbac.NoAccess(),
		IsActive:          true,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateDuplicateEmailIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &rbac.Principal{ID: "u1", Role: rbac.RoleViewer})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestRepository_GetScansScopes(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow("u1", "a@example.com", "A", "regional_manager", "org-a", []byte(`{R1,R2}`), nil, []byte(`{}`), true, now, now))

	p, err := repo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleRegionalManager, p.Role)
	assert.Equal(t, []string{"R1", "R2"}, p.AllowedRegions.IDs())
	assert.True(t, p.AllowedStores.IsUnrestricted())
	assert.True(t, p.AllowedCategories.IsEmpty())
}

func TestRepository_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestRepository_SetActive(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET is_active = $2")).
		WithArgs("u1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Deactivate(context.Background(), "u1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET is_active = $2")).
		WithArgs("ghost", true).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Activate(context.Background(), "ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Update(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles")).
		WithArgs("u1", "New Name", "analyst", `{"R1"}`, nil, nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	p := &rbac.Principal{ID: "u1", FullName: "New Name", Role: rbac.RoleAnalyst, AllowedRegions: rbac.AllowOnly("R1"), IsActive: true}
	require.NoError(t, repo.Update(context.Background(), p))
	assert.Equal(t, now, p.UpdatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles")).WillReturnError(sql.ErrNoRows)
	assert.True(t, apperr.IsKind(repo.Update(context.Background(), p), apperr.KindNotFound))
}

func TestRepository_DeleteAndProfileExists(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM profiles WHERE id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.Delete(context.Background(), "u1"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	exists, err := repo.ProfileExists(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("AND organization_id = $1 AND is_active = TRUE ORDER BY email LIMIT $2")).
		WithArgs("org-a", 100).
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow("u1", "a@example.com", "A", "viewer", "org-a", nil, []byte(`{S1}`), nil, true, now, now))

	list, err := repo.List(context.Background(), ListFilter{OrganizationID: "org-a", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"S1"}, list[0].AllowedStores.IDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListReadsFromReplica(t *testing.T) {
	repo, primary := newMockRepo(t)
	replicaDB, replica, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()
	repo.WithReplica(replicaDB)

	replica.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows(profileRowColumns))

	list, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, replica.ExpectationsWereMet())
	assert.NoError(t, primary.ExpectationsWereMet())
}
