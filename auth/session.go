package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/Harish1404/Anozon-E-commerce/errors"
	"github.com/Harish1404/Anozon-E-commerce/httpclient"
	"github.com/Harish1404/Anozon-E-commerce/validator"
)

// API paths used by the session lifecycle.
const (
	signupPath  = "/auth/signup"
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"
	mePath      = "/secure/me"
)

// State describes the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// User is the identity derived from the access token and/or the profile endpoint.
type User struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"-"`
}

// Profile is the response of the current-user endpoint.
type Profile struct {
	Email   string `json:"email"`
	Message string `json:"message,omitempty"`
}

// TokenPair is the token response of the login and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

var refreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_token_refresh_total",
		Help: "Total number of token refresh round trips by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(refreshTotal)
}

// SessionManager owns the authentication lifecycle: sign-up, login, logout,
// silent refresh, expiry checks, and identity derivation. All session state
// (token pair plus derived user/role) is owned here; other components read it
// through accessor methods only.
type SessionManager struct {
	baseURL string
	store   TokenStore
	http    *httpclient.Client
	logger  *slog.Logger

	// refreshGroup collapses concurrent refresh calls onto one round trip,
	// preventing refresh-token rotation races.
	refreshGroup singleflight.Group

	mu    sync.RWMutex
	state State
	user  *User
	role  any
}

// NewSessionManager creates a session manager against the given API base URL.
func NewSessionManager(baseURL string, store TokenStore, client *httpclient.Client, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		http:    client,
		logger:  logger,
		state:   StateUninitialized,
	}
}

// Initialize restores the session from persisted tokens at startup. It always
// resolves to a terminal state (Authenticated or Unauthenticated) and never
// returns an error to the caller.
func (m *SessionManager) Initialize(ctx context.Context) {
	m.mu.Lock()
	m.state = StateInitializing
	m.mu.Unlock()

	access := m.store.Access()
	switch {
	case access != "" && !IsExpired(access):
		m.adoptToken(access)
		m.hydrateUser(ctx)

	case m.store.Refresh() != "":
		if err := m.Refresh(ctx); err != nil {
			// Refresh already cleared tokens and reset the state.
			m.logger.WarnContext(ctx, "silent refresh failed during initialization",
				slog.String("error", err.Error()),
			)
			return
		}
		m.hydrateUser(ctx)

	default:
		m.becomeUnauthenticated()
	}

	m.logger.InfoContext(ctx, "session initialized",
		slog.String("state", m.State().String()),
	)
}

// signupInput holds the parameters for registering a new account.
type signupInput struct {
	Username string `json:"username" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Signup registers a new account. It does not establish a session: no tokens
// are stored, and the caller is expected to log in afterwards. Returns the
// server's confirmation message.
func (m *SessionManager) Signup(ctx context.Context, username, email, password string) (string, error) {
	input := signupInput{Username: username, Email: email, Password: password}
	if err := validator.Validate(input); err != nil {
		return "", apperrors.Validation(err.Error())
	}

	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode signup request: %w", err)
	}

	resp, err := m.http.Post(ctx, m.baseURL+signupPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Network(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", mapSignupError(resp.StatusCode, apperrors.Detail(resp))
	}

	var out struct {
		Message string `json:"message"`
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A 2xx with an unreadable body is still a successful registration.
		out.Message = "registered"
	}

	m.logger.InfoContext(ctx, "account registered", slog.String("email", email))
	return out.Message, nil
}

// mapSignupError translates signup rejections into the client taxonomy. The
// API reports a taken email as a plain 400, which is a conflict to callers.
func mapSignupError(status int, detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case status == http.StatusConflict,
		status == http.StatusBadRequest && strings.Contains(lower, "already registered"),
		status == http.StatusBadRequest && strings.Contains(lower, "already exists"):
		if detail == "" {
			detail = "account already exists"
		}
		return apperrors.Conflict(detail)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if detail == "" {
			detail = "invalid signup input"
		}
		return apperrors.Validation(detail)
	case status >= 500:
		return apperrors.Server(status, detail)
	default:
		return &apperrors.AppError{
			Code:    "SIGNUP_FAILED",
			Message: detail,
			Status:  status,
		}
	}
}

// Login exchanges credentials for a token pair. The login endpoint is
// form-encoded and expects the email in the "username" field. On any failure
// the session is left fully unauthenticated with no tokens stored.
func (m *SessionManager) Login(ctx context.Context, email, password string) error {
	if email == "" {
		return apperrors.Validation("email is required")
	}
	if password == "" {
		return apperrors.Validation("password is required")
	}

	form := url.Values{
		"username": {email},
		"password": {password},
	}

	resp, err := m.http.Post(ctx, m.baseURL+loginPath, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Network(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := apperrors.Detail(resp)
		if detail == "" {
			detail = "invalid credentials"
		}
		m.clearSession()
		return apperrors.Authentication(detail)
	}

	var pair TokenPair
	func() {
		defer func() { _ = resp.Body.Close() }()
		err = json.NewDecoder(resp.Body).Decode(&pair)
	}()
	if err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		m.clearSession()
		return apperrors.Server(resp.StatusCode, "login response did not contain a token pair")
	}

	if err := m.store.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		m.clearSession()
		return fmt.Errorf("store tokens: %w", err)
	}

	m.adoptToken(pair.AccessToken)
	m.logger.InfoContext(ctx, "logged in", slog.String("email", email))
	return nil
}

// Logout invalidates the session server-side on a best-effort basis, then
// unconditionally clears local tokens and state. A failed server call is
// logged and swallowed; only a local storage failure is returned.
func (m *SessionManager) Logout(ctx context.Context) error {
	if access := m.store.Access(); access != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+logoutPath, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+access)
			resp, doErr := m.http.Do(ctx, req)
			if doErr != nil {
				m.logger.WarnContext(ctx, "server-side logout failed",
					slog.String("error", doErr.Error()),
				)
			} else {
				_ = resp.Body.Close()
			}
		}
	}

	clearErr := m.store.Clear()
	m.becomeUnauthenticated()
	m.logger.InfoContext(ctx, "logged out")
	return clearErr
}

// Refresh exchanges the refresh token for a new token pair. Concurrent
// callers collapse onto a single in-flight round trip and all receive the
// same outcome. On failure all tokens and session state are cleared.
func (m *SessionManager) Refresh(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(ctx)
	})
	return err
}

func (m *SessionManager) doRefresh(ctx context.Context) error {
	refresh := m.store.Refresh()
	if refresh == "" {
		m.clearSession()
		refreshTotal.WithLabelValues("failure").Inc()
		return apperrors.SessionExpired("no refresh token stored")
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return fmt.Errorf("encode refresh request: %w", err)
	}

	resp, err := m.http.Post(ctx, m.baseURL+refreshPath, "application/json", bytes.NewReader(body))
	if err != nil {
		m.clearSession()
		refreshTotal.WithLabelValues("failure").Inc()
		return apperrors.SessionExpired(fmt.Sprintf("refresh request failed: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := apperrors.Detail(resp)
		if detail == "" {
			detail = fmt.Sprintf("refresh rejected with status %d", resp.StatusCode)
		}
		m.clearSession()
		refreshTotal.WithLabelValues("failure").Inc()
		return apperrors.SessionExpired(detail)
	}

	var pair TokenPair
	func() {
		defer func() { _ = resp.Body.Close() }()
		err = json.NewDecoder(resp.Body).Decode(&pair)
	}()
	if err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		m.clearSession()
		refreshTotal.WithLabelValues("failure").Inc()
		return apperrors.SessionExpired("refresh response did not contain a token pair")
	}

	if err := m.store.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		m.clearSession()
		refreshTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("store rotated tokens: %w", err)
	}

	m.adoptToken(pair.AccessToken)
	refreshTotal.WithLabelValues("success").Inc()
	m.logger.DebugContext(ctx, "token pair rotated")
	return nil
}

// CurrentUser fetches the profile of the signed-in user. The access token is
// refreshed first when already expired.
func (m *SessionManager) CurrentUser(ctx context.Context) (*Profile, error) {
	access := m.store.Access()
	if access == "" {
		return nil, apperrors.NotAuthenticated("fetching the current user")
	}
	if IsExpired(access) {
		if err := m.Refresh(ctx); err != nil {
			return nil, err
		}
		access = m.store.Access()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+mePath, nil)
	if err != nil {
		return nil, fmt.Errorf("create current-user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := m.http.Do(ctx, req)
	if err != nil {
		return nil, apperrors.Network(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.FromResponse(resp)
	}

	var profile Profile
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode current-user response: %w", err)
	}
	return &profile, nil
}

// IsAuthenticated reports whether a non-expired access token is present.
// This is always computed from the store so that a concurrent refresh or
// forced logout is observed immediately.
func (m *SessionManager) IsAuthenticated() bool {
	access := m.store.Access()
	return access != "" && !IsExpired(access)
}

// HasCredentials reports whether any token is stored, regardless of expiry.
// An expired pair may still be refreshable, so this is the precondition for
// account-scoped calls; the dispatcher sorts out expiry on the way out.
func (m *SessionManager) HasCredentials() bool {
	return m.store.Access() != "" || m.store.Refresh() != ""
}

// IsAdmin reports whether the session's role claim carries the admin marker.
// This is a UX convenience only; the server revalidates the role per request.
func (m *SessionManager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return roleContains(m.role, AdminRole)
}

// State returns the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// User returns a copy of the derived identity, or nil when signed out.
func (m *SessionManager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Role returns the role claim as a display string, or "" when absent.
func (m *SessionManager) Role() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return roleString(m.role)
}

// adoptToken derives identity from the access token and marks the session
// authenticated.
func (m *SessionManager) adoptToken(access string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateAuthenticated
	claims, err := ClaimsFromToken(access)
	if err != nil {
		m.user = nil
		m.role = nil
		return
	}
	m.user = &User{Email: claims.Email, ExpiresAt: claims.ExpiresAt}
	m.role = claims.Role
}

// hydrateUser fetches the profile, falling back silently to the token-derived
// identity when the call fails.
func (m *SessionManager) hydrateUser(ctx context.Context) {
	profile, err := m.CurrentUser(ctx)
	if err != nil {
		m.logger.DebugContext(ctx, "profile fetch failed, using token identity",
			slog.String("error", err.Error()),
		)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		m.user = &User{}
	}
	if profile.Email != "" {
		m.user.Email = profile.Email
	}
}

// clearSession drops tokens and resets state. Used on refresh failure, login
// failure, and forced logout.
func (m *SessionManager) clearSession() {
	_ = m.store.Clear()
	m.becomeUnauthenticated()
}

func (m *SessionManager) becomeUnauthenticated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUnauthenticated
	m.user = nil
	m.role = nil
}
