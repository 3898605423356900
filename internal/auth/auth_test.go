package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(&config.AuthConfig{DevToken: "dev-secret"}, "http://localhost:8080")
}

func TestVerifyIssuedToken(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.issue("g-123", "alex@example.org", "Alex")
	require.NoError(t, err)

	userID, email, err := m.Verify(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "g-123", userID)
	assert.Equal(t, "alex@example.org", email)
}

func TestVerifyRejectsUnknownAndExpired(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.Verify("nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	sess, err := m.issue("g-123", "alex@example.org", "Alex")
	require.NoError(t, err)
	sess.ExpiresAt = time.Now().Add(-time.Minute)

	_, _, err = m.Verify(sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The expired token is dropped, not retried.
	m.mu.RLock()
	_, stillThere := m.sessions[sess.Token]
	m.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestVerifyDevToken(t *testing.T) {
	m := newTestManager(t)
	userID, _, err := m.Verify("dev-secret")
	require.NoError(t, err)
	assert.Equal(t, "dev", userID)
}

func TestBearerTokenSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?token=xyz", nil)
	assert.Equal(t, "xyz", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(r))
}

func TestRequireAuthInjectsIdentity(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.issue("g-123", "alex@example.org", "Alex")
	require.NoError(t, err)

	var gotUser, gotEmail string
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
		gotEmail = UserEmail(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/lists", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g-123", gotUser)
	assert.Equal(t, "alex@example.org", gotEmail)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lists", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCleanupExpiredDropsSessions(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.issue("g-123", "alex@example.org", "Alex")
	require.NoError(t, err)
	sess.ExpiresAt = time.Now().Add(-time.Minute)

	m.CleanupExpired()
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Empty(t, m.sessions)
}
