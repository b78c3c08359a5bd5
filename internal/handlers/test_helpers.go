package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access-token claims and the raw token to the request context
func WithAuthContext(req *http.Request, userID, email string, role models.Role) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims, "raw-access-token"))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface and TokenRevoker for testing
type MockAuthService struct {
	LoginFunc       func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResponse, error)
	LogoutFunc      func(ctx context.Context, rawAccess, rawRefresh, ipAddress, userAgent string) error
	RefreshFunc     func(ctx context.Context, rawRefresh, ipAddress, userAgent string) (*services.AuthResponse, error)
	RevokeTokenFunc func(ctx context.Context, meta services.RequestMeta, rawToken, reason string) error
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, ipAddress, userAgent)
}

func (m *MockAuthService) Logout(ctx context.Context, rawAccess, rawRefresh, ipAddress, userAgent string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, rawAccess, rawRefresh, ipAddress, userAgent)
}

func (m *MockAuthService) Refresh(ctx context.Context, rawRefresh, ipAddress, userAgent string) (*services.AuthResponse, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.RefreshFunc(ctx, rawRefresh, ipAddress, userAgent)
}

func (m *MockAuthService) RevokeToken(ctx context.Context, meta services.RequestMeta, rawToken, reason string) error {
	if m.RevokeTokenFunc == nil {
		return nil
	}
	return m.RevokeTokenFunc(ctx, meta, rawToken, reason)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	LockUserFunc         func(ctx context.Context, meta services.RequestMeta, targetID, note string) error
	UnlockUserFunc       func(ctx context.Context, meta services.RequestMeta, targetID string) error
	ListUsersFunc        func(ctx context.Context, limit, offset int) (*services.UserListResponse, error)
	GetLockoutStatusFunc func(ctx context.Context, userID string) (models.LockoutStatus, error)
	ListAuditEventsFunc  func(ctx context.Context, userID string, limit, offset int) (*services.AuditTrailResponse, error)
}

func (m *MockAdminService) LockUser(ctx context.Context, meta services.RequestMeta, targetID, note string) error {
	if m.LockUserFunc == nil {
		return nil
	}
	return m.LockUserFunc(ctx, meta, targetID, note)
}

func (m *MockAdminService) UnlockUser(ctx context.Context, meta services.RequestMeta, targetID string) error {
	if m.UnlockUserFunc == nil {
		return nil
	}
	return m.UnlockUserFunc(ctx, meta, targetID)
}

func (m *MockAdminService) ListUsers(ctx context.Context, limit, offset int) (*services.UserListResponse, error) {
	if m.ListUsersFunc == nil {
		return &services.UserListResponse{Users: []services.UserWithLockout{}}, nil
	}
	return m.ListUsersFunc(ctx, limit, offset)
}

func (m *MockAdminService) GetLockoutStatus(ctx context.Context, userID string) (models.LockoutStatus, error) {
	if m.GetLockoutStatusFunc == nil {
		return models.LockoutStatus{RemainingAttempts: 5}, nil
	}
	return m.GetLockoutStatusFunc(ctx, userID)
}

func (m *MockAdminService) ListAuditEvents(ctx context.Context, userID string, limit, offset int) (*services.AuditTrailResponse, error) {
	if m.ListAuditEventsFunc == nil {
		return &services.AuditTrailResponse{Events: []*models.AuditEvent{}}, nil
	}
	return m.ListAuditEventsFunc(ctx, userID, limit, offset)
}
