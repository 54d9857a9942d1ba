package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditColumns = []string{
	"id", "user_id", "organization_id", "action", "resource", "resource_id", "details",
	"ip_address", "user_agent", "success", "error_message", "created_at",
}

func TestDBStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs("u1", "org-a", "create", "store", "s1", []byte(`{"code":"NYC1"}`), "10.0.0.1", nil, true, nil, created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	e := &Entry{
		UserID:         "u1",
		OrganizationID: "org-a",
		Action:         ActionCreate,
		Resource:       ResourceStore,
		ResourceID:     "s1",
		Details:        map[string]interface{}{"code": "NYC1"},
		IPAddress:      "10.0.0.1",
		Success:        true,
		CreatedAt:      created,
	}
	require.NoError(t, NewDBStore(db).Insert(context.Background(), e))
	assert.Equal(t, int64(42), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnError(errors.New("db down"))

	err = NewDBStore(db).Insert(context.Background(), &Entry{Action: ActionLogin, Resource: ResourceUser})
	assert.ErrorContains(t, err, "failed to insert audit log")
}

func TestDBStore_Search(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	success := false
	start := created.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("AND organization_id = $1 AND user_id = $2 AND action = ANY($3) AND resource = $4 AND success = $5 AND created_at >= $6 ORDER BY created_at DESC, id DESC LIMIT $7 OFFSET $8")).
		WithArgs("org-a", "u1", sqlmock.AnyArg(), "user", false, start, 50, 10).
		WillReturnRows(sqlmock.NewRows(auditColumns).
			AddRow(int64(7), "u1", "org-a", "role_change", "user", "u2", []byte(`{"from":"viewer","to":"analyst"}`), nil, nil, false, "denied", created).
			AddRow(int64(6), nil, "org-a", "create", "user", nil, nil, "10.0.0.1", "curl", false, nil, created))

	entries, err := NewDBStore(db).Search(context.Background(), SearchFilter{
		OrganizationID: "org-a",
		UserID:         "u1",
		Actions:        []Action{ActionRoleChange, ActionCreate},
		Resource:       ResourceUser,
		Success:        &success,
		StartTime:      &start,
		Limit:          50,
		Offset:         10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ActionRoleChange, entries[0].Action)
	assert.Equal(t, "analyst", entries[0].Details["to"])
	assert.Equal(t, "denied", entries[0].ErrorMessage)
	assert.Equal(t, "org-a", entries[0].OrganizationID)
	assert.Equal(t, "", entries[1].UserID)
	assert.Equal(t, "10.0.0.1", entries[1].IPAddress)
	assert.Nil(t, entries[1].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_SearchClampsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $1")).
		WithArgs(maxSearchLimit).
		WillReturnRows(sqlmock.NewRows(auditColumns))

	entries, err := NewDBStore(db).Search(context.Background(), SearchFilter{Limit: 50000})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_SearchReadsFromReplica(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	replicaMock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs")).
		WillReturnRows(sqlmock.NewRows(auditColumns))

	_, err = NewDBStore(primary).WithReplica(replica).Search(context.Background(), SearchFilter{})
	require.NoError(t, err)
	assert.NoError(t, replicaMock.ExpectationsWereMet())
	assert.NoError(t, primaryMock.ExpectationsWereMet())
}
