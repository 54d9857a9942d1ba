package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/retailops/pkg/accounts"
	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/identity"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/rbac"
	"github.com/platinummonkey/retailops/pkg/reconcile"
	"github.com/platinummonkey/retailops/pkg/saga"
	"github.com/platinummonkey/retailops/pkg/stores"
)

var fastRetry = saga.RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond}

type undeletable struct {
	*identity.MemoryProvider
	deletes int
}

func (u *undeletable) DeleteIdentity(context.Context, string) error {
	u.deletes++
	return errors.New("identity provider unavailable")
}

type accountFixture struct {
	provider *identity.MemoryProvider
	mock     sqlmock.Sqlmock
	logs     *bytes.Buffer
	registry *prometheus.Registry
	profiles *accounts.Repository
	stores   *stores.Repository
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &accountFixture{
		provider: identity.NewMemoryProvider(),
		mock:     mock,
		logs:     &bytes.Buffer{},
		registry: prometheus.NewRegistry(),
		profiles: accounts.NewRepository(db),
		stores:   stores.NewRepository(db),
	}
}

func (f *accountFixture) provisioner(ids Identities) *AccountProvisioner {
	return NewAccountProvisioner(ids, f.profiles, f.stores, Options{
		Retry:   fastRetry,
		Metrics: observability.NewMetrics(f.registry),
		Logger:  observability.NewLogger(observability.DebugLevel, f.logs),
	})
}

func createRequest(storeIDs ...string) *accounts.CreateRequest {
	return &accounts.CreateRequest{
		Email:          "new@example.com",
		Password:       "longenough",
		FullName:       "New Manager",
		Role:           rbac.RoleStoreManager,
		OrganizationID: "org-a",
		AllowedStores:  rbac.AllowOnly(storeIDs...),
		StoreIDs:       storeIDs,
	}
}

var actor = &rbac.Principal{ID: "gm", Role: rbac.RoleGeneralManager, OrganizationID: "org-a", IsActive: true}

func (f *accountFixture) identityCount(t *testing.T) int {
	t.Helper()
	all, err := f.provider.ListIdentities(context.Background(), 1, 100)
	require.NoError(t, err)
	return len(all)
}

func TestCreateAccount_Completes(t *testing.T) {
	f := newAccountFixture(t)
	now := time.Now().UTC()

	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	f.mock.ExpectExec(regexp.QuoteMeta("SELECT assign_user_store_managers($1, $2)")).
		WithArgs(sqlmock.AnyArg(), `{"S1"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p, err := f.provisioner(f.provider).CreateAccount(context.Background(), actor, createRequest("S1"))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "new@example.com", p.Email)
	assert.Equal(t, 1, f.identityCount(t))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateAccount_DuplicateEmailIsConflict(t *testing.T) {
	f := newAccountFixture(t)
	f.provider.Seed(identity.Identity{ID: "existing", Email: "new@example.com"})

	_, err := f.provisioner(f.provider).CreateAccount(context.Background(), actor, createRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateAccount_ProfileFailureRemovesIdentity(t *testing.T) {
	f := newAccountFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnError(errors.New("connection refused"))

	_, err := f.provisioner(f.provider).CreateAccount(context.Background(), actor, createRequest())
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInternal, appErr.Kind)
	assert.True(t, appErr.Public)
	assert.Equal(t, "account creation failed and was rolled back", appErr.Message)
	assert.Zero(t, f.identityCount(t))

	// A reconciliation pass afterwards has nothing to clean up.
	logger, _ := test.NewNullLogger()
	report, err := reconcile.NewJob(f.provider, f.profiles, reconcile.Config{}, logger, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TotalChecked)
	assert.Zero(t, report.OrphanedFound)
}

func TestCreateAccount_ProfileConflictKeepsKind(t *testing.T) {
	f := newAccountFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := f.provisioner(f.provider).CreateAccount(context.Background(), actor, createRequest())
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.Zero(t, f.identityCount(t))
}

func TestCreateAccount_AssignmentFailureUndoesProfileAndIdentity(t *testing.T) {
	f := newAccountFixture(t)
	now := time.Now().UTC()

	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	f.mock.ExpectExec(regexp.QuoteMeta("SELECT assign_user_store_managers($1, $2)")).
		WillReturnError(errors.New("foreign key violation"))
	f.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM profiles WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := f.provisioner(f.provider).CreateAccount(context.Background(), actor, createRequest("S1"))
	require.Error(t, err)
	assert.True(t, saga.IsRollback(err))
	assert.Zero(t, f.identityCount(t))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateAccount_CompensationFailureReportsOrphan(t *testing.T) {
	f := newAccountFixture(t)
	ids := &undeletable{MemoryProvider: f.provider}
	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnError(errors.New("disk full"))

	_, err := f.provisioner(ids).CreateAccount(context.Background(), actor, createRequest())
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindSagaCompensationFailure, appErr.Kind)
	require.Len(t, appErr.OrphanIDs, 1)
	assert.Equal(t, "identity", appErr.OrphanResource)
	assert.Equal(t, apperr.SupportContact, appErr.Support)
	assert.Equal(t, 3, ids.deletes)

	all, err := f.provider.ListIdentities(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, all[0].ID, appErr.OrphanIDs[0])

	var critical map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["level"] == "CRITICAL" {
			critical = entry
		}
	}
	require.NotNil(t, critical, "expected a CRITICAL log line")
	assert.Equal(t, all[0].ID, critical["orphan_id"])
	assert.Equal(t, "identity", critical["orphan_resource"])
	assert.Contains(t, critical["error"], "disk full")
	assert.Contains(t, critical["compensation_error"], "identity provider unavailable")

	orphans, err := testutil.GatherAndCount(f.registry, "retailops_saga_orphans_total")
	require.NoError(t, err)
	assert.Equal(t, 1, orphans)
}
