package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Harish1404/Anozon-E-commerce/errors"
	"github.com/Harish1404/Anozon-E-commerce/httpclient"
	"github.com/Harish1404/Anozon-E-commerce/internal/testtoken"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHTTPClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Timeout:         2 * time.Second,
		MaxRetries:      0,
		MaxConnsPerHost: 10,
	})
}

func newTestSession(baseURL string) (*SessionManager, *MemoryStore) {
	store := NewMemoryStore()
	return NewSessionManager(baseURL, store, testHTTPClient(), testLogger()), store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_Success(t *testing.T) {
	access := testtoken.Mint(t, "shopper@example.com", "customer", time.Now().Add(time.Hour))
	refresh := testtoken.Mint(t, "shopper@example.com", nil, time.Now().Add(24*time.Hour))

	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		// The API reads the email from the form "username" field.
		assert.Equal(t, "shopper@example.com", req.PostFormValue("username"))
		assert.Equal(t, "hunter2hunter2", req.PostFormValue("password"))
		writeJSON(w, http.StatusOK, TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "bearer",
		})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)

	err := session.Login(context.Background(), "shopper@example.com", "hunter2hunter2")

	require.NoError(t, err)
	assert.True(t, session.IsAuthenticated())
	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, access, store.Access())
	assert.Equal(t, refresh, store.Refresh())
	require.NotNil(t, session.User())
	assert.Equal(t, "shopper@example.com", session.User().Email)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)

	err := session.Login(context.Background(), "shopper@example.com", "wrong")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	assert.Contains(t, err.Error(), "Invalid credentials")
	assert.False(t, session.IsAuthenticated())
	assert.Empty(t, store.Access())
	assert.Empty(t, store.Refresh())
}

func TestLogin_EmptyInputs(t *testing.T) {
	session, _ := newTestSession("http://localhost:0")

	err := session.Login(context.Background(), "", "pw")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = session.Login(context.Background(), "a@example.com", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestLogin_MalformedTokenResponse(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"unexpected": "shape"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)

	err := session.Login(context.Background(), "a@example.com", "hunter2hunter2")

	require.Error(t, err)
	assert.False(t, session.IsAuthenticated())
	assert.Empty(t, store.Access())
}

func TestLogout_ClearsStateWhenServerUnreachable(t *testing.T) {
	// Nothing listens here: the server-side call fails, logout still succeeds.
	session, store := newTestSession("http://127.0.0.1:1")
	access := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(time.Hour))
	require.NoError(t, store.SetTokens(access, "refresh"))

	err := session.Logout(context.Background())

	require.NoError(t, err)
	assert.False(t, session.IsAuthenticated())
	assert.Equal(t, StateUnauthenticated, session.State())
	assert.Empty(t, store.Access())
	assert.Empty(t, store.Refresh())
}

func TestLogout_InvalidatesServerSide(t *testing.T) {
	var sawBearer atomic.Bool
	access := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(time.Hour))

	r := chi.NewRouter()
	r.Post("/auth/logout", func(w http.ResponseWriter, req *http.Request) {
		sawBearer.Store(req.Header.Get("Authorization") == "Bearer "+access)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens(access, "refresh"))

	require.NoError(t, session.Logout(context.Background()))
	assert.True(t, sawBearer.Load())
	assert.Empty(t, store.Access())
}

func TestRefresh_RotatesTokenPair(t *testing.T) {
	oldRefresh := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(24*time.Hour))
	newAccess := testtoken.Mint(t, "a@example.com", "customer", time.Now().Add(time.Hour))
	newRefresh := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(48*time.Hour))

	r := chi.NewRouter()
	r.Post("/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, oldRefresh, body["refresh_token"])
		writeJSON(w, http.StatusOK, TokenPair{AccessToken: newAccess, RefreshToken: newRefresh})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens("expired-or-missing", oldRefresh))

	err := session.Refresh(context.Background())

	require.NoError(t, err)
	assert.Equal(t, newAccess, store.Access())
	assert.Equal(t, newRefresh, store.Refresh())
	assert.True(t, session.IsAuthenticated())
}

func TestRefresh_SingleFlight(t *testing.T) {
	var calls int32
	newAccess := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(time.Hour))
	newRefresh := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(48*time.Hour))

	r := chi.NewRouter()
	r.Post("/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, TokenPair{AccessToken: newAccess, RefreshToken: newRefresh})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	refresh := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(24*time.Hour))
	require.NoError(t, store.SetTokens("stale", refresh))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = session.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	// All callers share the outcome of exactly one network refresh.
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, newAccess, store.Access())
}

func TestRefresh_NoTokenStored(t *testing.T) {
	session, _ := newTestSession("http://localhost:0")

	err := session.Refresh(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.Equal(t, StateUnauthenticated, session.State())
}

func TestRefresh_RejectedClearsEverything(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid refresh token"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens("stale", "bad-refresh"))

	err := session.Refresh(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.Contains(t, err.Error(), "Invalid refresh token")
	assert.Empty(t, store.Access())
	assert.Empty(t, store.Refresh())
	assert.Equal(t, StateUnauthenticated, session.State())
}

func TestInitialize_ValidAccessToken(t *testing.T) {
	access := testtoken.Mint(t, "claims@example.com", "customer", time.Now().Add(time.Hour))

	r := chi.NewRouter()
	r.Get("/secure/me", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Profile{Email: "profile@example.com"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens(access, "refresh"))

	session.Initialize(context.Background())

	assert.Equal(t, StateAuthenticated, session.State())
	assert.True(t, session.IsAuthenticated())
	require.NotNil(t, session.User())
	// The profile call wins over the token payload.
	assert.Equal(t, "profile@example.com", session.User().Email)
}

func TestInitialize_ProfileFetchFailsFallsBackToClaims(t *testing.T) {
	access := testtoken.Mint(t, "claims@example.com", nil, time.Now().Add(time.Hour))

	r := chi.NewRouter()
	r.Get("/secure/me", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens(access, "refresh"))

	session.Initialize(context.Background())

	assert.Equal(t, StateAuthenticated, session.State())
	require.NotNil(t, session.User())
	assert.Equal(t, "claims@example.com", session.User().Email)
}

func TestInitialize_ExpiredAccessRefreshes(t *testing.T) {
	expired := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(-time.Hour))
	refresh := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(24*time.Hour))
	fresh := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(time.Hour))

	r := chi.NewRouter()
	r.Post("/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, TokenPair{AccessToken: fresh, RefreshToken: refresh})
	})
	r.Get("/secure/me", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Profile{Email: "a@example.com"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens(expired, refresh))

	session.Initialize(context.Background())

	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, fresh, store.Access())
	assert.True(t, session.IsAuthenticated())
}

func TestInitialize_RefreshFailureEndsUnauthenticated(t *testing.T) {
	expired := testtoken.Mint(t, "a@example.com", nil, time.Now().Add(-time.Hour))

	r := chi.NewRouter()
	r.Post("/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid refresh token"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)
	require.NoError(t, store.SetTokens(expired, "bad-refresh"))

	session.Initialize(context.Background())

	assert.Equal(t, StateUnauthenticated, session.State())
	assert.False(t, session.IsAuthenticated())
	assert.Empty(t, store.Access())
	assert.Empty(t, store.Refresh())
}

func TestInitialize_NoTokens(t *testing.T) {
	session, _ := newTestSession("http://localhost:0")

	session.Initialize(context.Background())

	assert.Equal(t, StateUnauthenticated, session.State())
	assert.False(t, session.IsAuthenticated())
}

func TestSignup_Success(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/signup", func(w http.ResponseWriter, req *http.Request) {
		var body signupInput
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "harish", body.Username)
		assert.Equal(t, "harish@example.com", body.Email)
		writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, store := newTestSession(server.URL)

	msg, err := session.Signup(context.Background(), "harish", "harish@example.com", "s3cretpass")

	require.NoError(t, err)
	assert.Equal(t, "User registered successfully", msg)
	// Signup does not establish a session.
	assert.Empty(t, store.Access())
	assert.False(t, session.IsAuthenticated())
}

func TestSignup_EmailTaken(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/signup", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already registered"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	session, _ := newTestSession(server.URL)

	_, err := session.Signup(context.Background(), "harish", "taken@example.com", "s3cretpass")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "Email already registered")
}

func TestSignup_LocalValidation(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	session, _ := newTestSession(server.URL)

	_, err := session.Signup(context.Background(), "h", "not-an-email", "short")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	// Rejected before any network call.
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestIsAdmin(t *testing.T) {
	tests := []struct {
		name string
		role any
		want bool
	}{
		{"admin string", "admin", true},
		{"customer string", "customer", false},
		{"delimited string", "customer,admin", true},
		{"array claim", []string{"customer", "admin"}, true},
		{"no role claim", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, _ := newTestSession("http://localhost:0")
			access := testtoken.Mint(t, "a@example.com", tt.role, time.Now().Add(time.Hour))
			session.adoptToken(access)
			assert.Equal(t, tt.want, session.IsAdmin())
		})
	}
}

func TestCurrentUser_NotAuthenticated(t *testing.T) {
	session, _ := newTestSession("http://localhost:0")

	_, err := session.CurrentUser(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}
