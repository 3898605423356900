// Package auth is the Google OAuth login flow and the bearer-token
// session registry that gates the REST API and WebSocket transport.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/meridian/voter-gateway/internal/config"
	"github.com/meridian/voter-gateway/internal/pkg/httputil"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

const sessionTTL = 24 * time.Hour

// GoogleUserInfo is the profile returned by Google's userinfo endpoint.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HD            string `json:"hd"` // hosted workspace domain
}

// Session is one authenticated user. Its token doubles as the bearer
// credential for both REST calls and WebSocket upgrades.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrInvalidToken is returned by Verify for unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Manager runs the OAuth flow and holds the token registry.
type Manager struct {
	cfg          *config.AuthConfig
	oauth2Config *oauth2.Config
	userInfoURL  string

	mu       sync.RWMutex
	sessions map[string]*Session // token -> session
	states   map[string]time.Time
}

// NewManager wires an auth manager. baseURL is the public origin used
// to build the OAuth redirect URL.
func NewManager(cfg *config.AuthConfig, baseURL string) *Manager {
	return &Manager{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  baseURL + "/auth/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		sessions:    make(map[string]*Session),
		states:      make(map[string]time.Time),
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin starts the Google OAuth flow.
func (m *Manager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	m.mu.Lock()
	m.states[state] = time.Now().Add(10 * time.Minute)
	m.mu.Unlock()

	http.Redirect(w, r, m.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the flow and issues a bearer token.
func (m *Manager) HandleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	m.mu.Lock()
	expiry, known := m.states[state]
	delete(m.states, state)
	m.mu.Unlock()
	if !known || time.Now().After(expiry) {
		httputil.BadRequest(w, "invalid oauth state")
		return
	}

	tok, err := m.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		logger.Warn("oauth exchange failed", "error", err.Error())
		httputil.Error(w, http.StatusUnauthorized, "oauth exchange failed")
		return
	}

	info, err := m.fetchUserInfo(r.Context(), tok.AccessToken)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !info.VerifiedEmail {
		httputil.Forbidden(w, "email not verified")
		return
	}
	if m.cfg.AllowedDomain != "" && info.HD != m.cfg.AllowedDomain {
		logger.Warn("login from outside workspace domain", "domain", info.HD)
		httputil.Forbidden(w, "account not in the allowed workspace")
		return
	}

	sess, err := m.issue(info.ID, info.Email, info.Name)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Info("user logged in", "user_id", sess.UserID, "email", sess.Email)
	httputil.OK(w, map[string]interface{}{
		"token":      sess.Token,
		"user_id":    sess.UserID,
		"email":      sess.Email,
		"expires_at": sess.ExpiresAt,
	})
}

// HandleLogout revokes the caller's token.
func (m *Manager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := BearerToken(r); token != "" {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
	}
	httputil.NoContent(w)
}

// HandleUserInfo returns the identity behind the caller's token.
func (m *Manager) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	userID, email, err := m.Verify(BearerToken(r))
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.OK(w, map[string]string{"user_id": userID, "email": email})
}

// Verify resolves a bearer token to its user. Expired tokens are
// dropped on sight.
func (m *Manager) Verify(token string) (userID, email string, err error) {
	if token == "" {
		return "", "", ErrInvalidToken
	}
	if m.cfg.DevToken != "" && token == m.cfg.DevToken {
		return "dev", "dev@localhost", nil
	}

	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return "", "", ErrInvalidToken
	}
	if time.Now().After(sess.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return "", "", ErrInvalidToken
	}
	return sess.UserID, sess.Email, nil
}

// RequireAuth guards a route subtree. The verified identity lands on
// the request context for handlers to read with UserID/UserEmail.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, email, err := m.Verify(BearerToken(r))
		if err != nil {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID{}, userID)
		ctx = context.WithValue(ctx, ctxUserEmail{}, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxUserID struct{}
type ctxUserEmail struct{}

// UserID returns the authenticated user id placed by RequireAuth.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID{}).(string)
	return v
}

// UserEmail returns the authenticated email placed by RequireAuth.
func UserEmail(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserEmail{}).(string)
	return v
}

// BearerToken extracts the credential from the Authorization header or,
// for WebSocket upgrades from browsers, a token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// CleanupExpired drops expired sessions and stale oauth states.
func (m *Manager) CleanupExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, token)
		}
	}
	for state, expiry := range m.states {
		if now.After(expiry) {
			delete(m.states, state)
		}
	}
}

func (m *Manager) issue(userID, email, name string) (*Session, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Token:     token,
		UserID:    userID,
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) fetchUserInfo(ctx context.Context, accessToken string) (*GoogleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
