package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saksflyt/saksflyt/internal/auth"
	"github.com/saksflyt/saksflyt/internal/model"
)

func testServer(t *testing.T) (*Server, *auth.JWTManager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	jwtMgr, err := auth.NewJWTManager("test-secret-key-for-server-tests", time.Hour)
	require.NoError(t, err)

	srv := New(ServerConfig{
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, jwtMgr
}

func bearerFor(t *testing.T, mgr *auth.JWTManager, user model.User) string {
	t.Helper()
	token, _, err := mgr.IssueToken(user)
	require.NoError(t, err)
	return "Bearer " + token
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) model.APIError {
	t.Helper()
	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestMissingAuthorizationHeader(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeAPIError(t, rec)
	assert.Equal(t, model.ErrCodeUnauthorized, body.Error.Code)
	assert.NotEmpty(t, body.Meta.RequestID)
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	srv, _ := testServer(t)

	for _, header := range []string{"Basic abc", "Bearer", "token-without-scheme"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDEchoedBack(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
	body := decodeAPIError(t, rec)
	assert.Equal(t, "client-supplied-id", body.Meta.RequestID)
}

func TestSecurityHeadersSet(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestQueueEndpointsRequireReviewer(t *testing.T) {
	srv, mgr := testServer(t)
	owner := model.User{ID: newUUID(t), Email: "owner@example.com", IsReviewer: false}

	for _, path := range []string{
		"/api/v1/applications/queue/review",
		"/api/v1/applications/queue/metrics",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", bearerFor(t, mgr, owner))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code, "path %s", path)
		body := decodeAPIError(t, rec)
		assert.Equal(t, model.ErrCodeForbidden, body.Error.Code)
	}
}

func TestReviewDecisionRequiresReviewer(t *testing.T) {
	srv, mgr := testServer(t)
	owner := model.User{ID: newUUID(t), Email: "owner@example.com", IsReviewer: false}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/"+newUUID(t).String()+"/review-decision", nil)
	req.Header.Set("Authorization", bearerFor(t, mgr, owner))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNonUUIDCasePathIs404(t *testing.T) {
	srv, mgr := testServer(t)
	user := model.User{ID: newUUID(t), Email: "u@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/not-a-uuid", nil)
	req.Header.Set("Authorization", bearerFor(t, mgr, user))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeAPIError(t, rec)
	assert.Equal(t, model.ErrCodeNotFound, body.Error.Code)
}

func TestPanicRecoveredWithIncidentID(t *testing.T) {
	srv, mgr := testServer(t)
	user := model.User{ID: newUUID(t), Email: "u@example.com"}

	// No DB is wired, so the profile handler panics; the recovery
	// middleware must turn that into a 500 with an incident id.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", bearerFor(t, mgr, user))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeAPIError(t, rec)
	assert.Equal(t, model.ErrCodeInternalError, body.Error.Code)
	assert.NotEmpty(t, body.Error.IncidentID)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, mgr := testServer(t)
	user := model.User{ID: newUUID(t), Email: "u@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.Header.Set("Authorization", bearerFor(t, mgr, user))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
