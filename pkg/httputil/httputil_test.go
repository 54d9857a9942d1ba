package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"authentication", apperr.Authentication("session expired"), http.StatusUnauthorized, "session expired"},
		{"authorization", apperr.Authorization("out of scope"), http.StatusForbidden, "out of scope"},
		{"validation", apperr.Validation("invalid input", map[string]string{"email": "required"}), http.StatusBadRequest, "invalid input"},
		{"conflict", fmt.Errorf("wrapped: %w", apperr.Conflict("email already registered", nil)), http.StatusConflict, "email already registered"},
		{"not found", apperr.NotFound("account not found"), http.StatusNotFound, "account not found"},
		{"rate limited", apperr.RateLimited("Too many requests"), http.StatusTooManyRequests, "Too many requests"},
		{"internal is sanitized", apperr.Internal("db exploded at 10.0.0.3", errors.New("secret")), http.StatusInternalServerError, "internal server error"},
		{"rollback message is shown", apperr.RolledBack("account creation failed and was rolled back", errors.New("insert failed")), http.StatusInternalServerError, "account creation failed and was rolled back"},
		{"plain error is sanitized", errors.New("pq: password authentication failed"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/x", nil)

			WriteAppError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotContains(t, w.Body.String(), "secret")
		})
	}
}

func TestWriteAppError_ValidationFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/accounts", nil)

	WriteAppError(w, r, apperr.Validation("invalid input", map[string]string{"email": "required"}))

	resp := decodeError(t, w)
	assert.Equal(t, "required", resp.Fields["email"])
}

func TestWriteAppError_CompensationFailureIncludesOrphans(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/accounts", nil)

	WriteAppError(w, r, apperr.CompensationFailure("account creation failed", "identity", []string{"ident-1"}, errors.New("idp down")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, []string{"ident-1"}, resp.OrphanIDs)
	assert.Equal(t, apperr.SupportContact, resp.Details)
	assert.Empty(t, resp.StoreID)
}

func TestWriteAppError_StoreCompensationFailureIncludesStoreID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/stores", nil)

	WriteAppError(w, r, apperr.CompensationFailure("store creation failed", "store", []string{"store-9"}, errors.New("db down")))

	resp := decodeError(t, w)
	assert.Equal(t, "store-9", resp.StoreID)
}

func TestParseJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	var ok body
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, ParseJSON(r, &ok))
	assert.Equal(t, "a", ok.Name)

	var bad body
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","role":"super_admin"}`))
	assert.Error(t, ParseJSON(r, &bad))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, ParseJSON(r, &bad))
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&since=2026-01-02T03:04:05Z&bad=x", nil)

	n, err := ParseQueryInt(r, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = ParseQueryInt(r, "offset", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = ParseQueryInt(r, "bad", 0)
	assert.Error(t, err)

	ts, err := ParseQueryTime(r, "since")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	ts, err = ParseQueryTime(r, "until")
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = ParseQueryTime(r, "bad")
	assert.Error(t, err)
}

func TestParsePathString(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/accounts/abc", nil), map[string]string{"id": "abc"})
	id, err := ParsePathString(r, "id")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = ParsePathString(r, "missing")
	assert.Error(t, err)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), internalErrorMessage)
}

func TestRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	h := RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
	r.Header.Set("X-Request-ID", "req-123")
	h.ServeHTTP(w, r)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
	assert.Contains(t, buf.String(), `"status":418`)
}

func TestRouteMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := mux.NewRouter()
	router.Use(RouteMetrics(metrics))
	router.HandleFunc("/api/stores/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stores/s-1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSetRateLimitHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	reset := time.Unix(1700000000, 0)
	SetRateLimitHeaders(w, 5, 2, reset)

	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000000", w.Header().Get("X-RateLimit-Reset"))
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.9:5555", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", BearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, BearerToken(r))
}
