package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBlacklist struct {
	revoked bool
	err     error
	seen    string
}

func (s *stubBlacklist) IsBlacklisted(ctx context.Context, rawToken string) (bool, error) {
	s.seen = rawToken
	return s.revoked, s.err
}

type stubUsers struct {
	user *models.User
	err  error
}

func (s *stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.user, s.err
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		claims := GetUserFromContext(r)
		if claims == nil || GetRawToken(r) == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Minute, time.Hour)
	token := accessToken(t, tm, testUser(models.RoleUser))

	bl := &stubBlacklist{}
	called := false
	rec := serve(AuthMiddleware(tm, bl)(okHandler(&called)), token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.Equal(t, token, bl.seen)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Minute, time.Hour)
	called := false

	rec := serve(AuthMiddleware(tm, nil)(okHandler(&called)), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_RejectsRefreshToken(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Minute, time.Hour)
	pair, err := tm.IssuePair(testUser(models.RoleUser))
	require.NoError(t, err)
	called := false

	rec := serve(AuthMiddleware(tm, nil)(okHandler(&called)), pair.RefreshToken)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_RevokedToken(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Minute, time.Hour)
	token := accessToken(t, tm, testUser(models.RoleUser))
	called := false

	rec := serve(AuthMiddleware(tm, &stubBlacklist{revoked: true})(okHandler(&called)), token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "revoked")
	assert.False(t, called)
}

func TestAuthMiddleware_BlacklistErrorFailsClosed(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Minute, time.Hour)
	token := accessToken(t, tm, testUser(models.RoleUser))
	called := false

	rec := serve(AuthMiddleware(tm, &stubBlacklist{err: errors.New("db down")})(okHandler(&called)), token)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		users    *stubUsers
		claims   *models.TokenClaims
		wantCode int
	}{
		{"no claims", &stubUsers{}, nil, http.StatusUnauthorized},
		{"admin", &stubUsers{user: testUser(models.RoleAdmin)}, &models.TokenClaims{UserID: "u1"}, http.StatusOK},
		{"demoted user", &stubUsers{user: testUser(models.RoleUser)}, &models.TokenClaims{UserID: "u1", Role: models.RoleAdmin}, http.StatusForbidden},
		{"deleted user", &stubUsers{err: models.ErrNotFound}, &models.TokenClaims{UserID: "u1"}, http.StatusUnauthorized},
		{"lookup error", &stubUsers{err: errors.New("timeout")}, &models.TokenClaims{UserID: "u1"}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireRole(tt.users, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims, "raw"))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc.def.ghi")
	token, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, ok = BearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer ")
	_, ok = BearerToken(req)
	assert.False(t, ok)
}
