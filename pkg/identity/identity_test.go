package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *AdminClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"admin-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer admin-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewAdminClient(context.Background(), AdminConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "retailops",
		ClientSecret: "secret",
	})
	return srv, client
}

func TestAdminClient_CreateIdentity(t *testing.T) {
	_, client := newAdminServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/admin/users", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["email"] == "taken@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		assert.Equal(t, true, body["email_confirm"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"11111111-1111-1111-1111-111111111111","email":"new@example.com","created_at":"2026-10-18T10:00:00Z"}`))
	})

	id, err := client.CreateIdentity(context.Background(), CreateRequest{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", id.ID)
	assert.Equal(t, 2026, id.CreatedAt.Year())

	_, err = client.CreateIdentity(context.Background(), CreateRequest{Email: "taken@example.com"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestAdminClient_DeleteIdentityTreatsNotFoundAsDone(t *testing.T) {
	_, client := newAdminServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Path {
		case "/admin/users/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/admin/users/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	assert.NoError(t, client.DeleteIdentity(context.Background(), "u1"))
	assert.NoError(t, client.DeleteIdentity(context.Background(), "gone"))

	err := client.DeleteIdentity(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestAdminClient_ListIdentities(t *testing.T) {
	_, client := newAdminServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		w.Write([]byte(`{"users":[{"id":"a","email":"a@example.com","created_at":"2026-01-01T00:00:00Z"}]}`))
	})

	ids, err := client.ListIdentities(context.Background(), 2, 50)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "a", ids[0].ID)
}

func newOIDCServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/oauth/token",
			"jwks_uri":               srv.URL + "/jwks",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"user-1","email":"user@example.com","email_verified":true}`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionValidator(t *testing.T) {
	srv := newOIDCServer(t)

	v, err := NewSessionValidator(context.Background(), srv.URL)
	require.NoError(t, err)

	s, err := v.ValidateSession(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, "user@example.com", s.Email)

	_, err = v.ValidateSession(context.Background(), "revoked")
	assert.True(t, errors.Is(err, ErrInvalidSession))

	_, err = v.ValidateSession(context.Background(), "")
	assert.True(t, errors.Is(err, ErrInvalidSession))
}

func TestMemoryProvider_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()

	a, err := m.CreateIdentity(ctx, CreateRequest{Email: "A@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", a.Email)

	_, err = m.CreateIdentity(ctx, CreateRequest{Email: "a@example.com"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	token, err := m.IssueSession(a.ID)
	require.NoError(t, err)
	s, err := m.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, s.UserID)

	require.NoError(t, m.DeleteIdentity(ctx, a.ID))
	require.NoError(t, m.DeleteIdentity(ctx, a.ID))
	_, err = m.ValidateSession(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestMemoryProvider_ListIdentitiesPagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, email := range []string{"c@x.io", "a@x.io", "b@x.io"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		m.SetClock(func() time.Time { return ts })
		_, err := m.CreateIdentity(ctx, CreateRequest{Email: email})
		require.NoError(t, err)
	}

	p1, err := m.ListIdentities(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, "c@x.io", p1[0].Email)
	assert.Equal(t, "a@x.io", p1[1].Email)

	p2, err := m.ListIdentities(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, p2, 1)
	assert.Equal(t, "b@x.io", p2[0].Email)

	p3, err := m.ListIdentities(ctx, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, p3)
}
