package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

type roleLookup map[string]*models.User

func (r roleLookup) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := r[id]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

type neverRevoked struct{}

func (neverRevoked) IsBlacklisted(ctx context.Context, rawToken string) (bool, error) {
	return false, nil
}

const adminUserID = "7d0f3c1e-6a8b-4e55-9a0c-2b1f4f7d9e01"

func newRouter(t *testing.T) (http.Handler, *auth.TokenManager) {
	t.Helper()
	tm := auth.NewTokenManager("test-secret-32-characters-long!!", "gatekeeper", time.Minute, time.Hour)
	users := roleLookup{
		adminUserID: {ID: adminUserID, Email: "root@example.com", Role: models.RoleAdmin},
		"u1":        {ID: "u1", Email: "alice@example.com", Role: models.RoleUser},
	}

	r := chi.NewRouter()
	RegisterRoutes(r, Dependencies{
		AuthHandler:  handlers.NewAuthHandler(&handlers.MockAuthService{}, nil),
		AdminHandler: handlers.NewAdminHandler(&handlers.MockAdminService{}, &handlers.MockAuthService{}, nil),
		TokenManager: tm,
		Blacklist:    neverRevoked{},
		Users:        users,
		RateLimit:    middleware.RateLimitConfig{Requests: 100},
	})
	return r, tm
}

func bearer(t *testing.T, tm *auth.TokenManager, user *models.User) string {
	t.Helper()
	pair, err := tm.IssuePair(user)
	require.NoError(t, err)
	return "Bearer " + pair.AccessToken
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	router, tm := newRouter(t)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"regular user", bearer(t, tm, &models.User{ID: "u1", Email: "alice@example.com", Role: models.RoleUser}), http.StatusForbidden},
		{"admin", bearer(t, tm, &models.User{ID: adminUserID, Email: "root@example.com", Role: models.RoleAdmin}), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminRoutes_LockByPath(t *testing.T) {
	router, tm := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/users/3a5c9e2d-1b4f-4c7a-8e6d-0f2a1b3c4d5e/lock", nil)
	req.Header.Set("Authorization", bearer(t, tm, &models.User{ID: adminUserID, Email: "root@example.com", Role: models.RoleAdmin}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogout_RequiresToken(t *testing.T) {
	router, _ := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
