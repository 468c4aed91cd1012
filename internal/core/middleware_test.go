package core

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"inkwell/internal/config"
	"inkwell/internal/types"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return srv
}

// --- Recoverer ---

func TestRecoverer_CatchesPanic(t *testing.T) {
	srv := testServer(t)

	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeInternalUnexpected))
	assert.NotContains(t, w.Body.String(), "boom")
}

// --- RequestID ---

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var ctxID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = types.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.NotEmpty(t, ctxID)
	assert.Equal(t, ctxID, w.Header().Get("X-Request-Id"))
}

func TestRequestIDMiddleware_HonorsIncomingHeader(t *testing.T) {
	var ctxID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = types.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.Header.Set("X-Request-Id", "upstream-id-1")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "upstream-id-1", ctxID)
}

// --- ContextTimeout ---

func TestContextTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := ContextTimeoutMiddleware(5 * time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.True(t, hasDeadline)
}

// --- AuthMiddleware ---

type staticAuthenticator struct {
	accountID string
	err       error
}

func (a *staticAuthenticator) Authenticate(_ context.Context, _ string) (string, error) {
	return a.accountID, a.err
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &staticAuthenticator{accountID: "acct_1"}

	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeNotAuthenticated))
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &staticAuthenticator{
		err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found or expired", nil),
	}

	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a bad token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	r.Header.Set("Authorization", "Bearer stale-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeAuthTokenInvalid))
}

func TestAuthMiddleware_ValidTokenSetsAccountID(t *testing.T) {
	srv := testServer(t)
	srv.Authenticator = &staticAuthenticator{accountID: "acct_42"}

	var gotID string
	handler := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = types.GetAccountID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	r.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acct_42", gotID)
}

// --- AdminAuthMiddleware ---

func TestAdminAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("topsecret"), bcrypt.MinCost)
	require.NoError(t, err)

	var sawAdmin bool
	handler := AdminAuthMiddleware(string(hash))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAdmin = types.IsAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/admin/credits", nil)
		r.Header.Set("Authorization", "Bearer topsecret")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, sawAdmin)
	})

	t.Run("wrong token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/admin/credits", nil)
		r.Header.Set("Authorization", "Bearer wrong")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), string(types.ErrCodePermissionAdmin))
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/admin/credits", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// --- bearerToken ---

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"Bearer ", "", false},
		{"Basic abc123", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		token, ok := bearerToken(r)
		assert.Equal(t, tc.ok, ok, "header %q", tc.header)
		assert.Equal(t, tc.token, token, "header %q", tc.header)
	}
}
