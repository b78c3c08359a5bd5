package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResponse, error)
	Logout(ctx context.Context, rawAccess, rawRefresh, ipAddress, userAgent string) error
	Refresh(ctx context.Context, rawRefresh, ipAddress, userAgent string) (*services.AuthResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		now:      time.Now,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke with the session.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.LockedResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	authResp, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress, userAgent)
	if err != nil {
		writeAuthError(w, err, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// RefreshToken handles token refresh
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.LockedResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Refresh(r.Context(), req.RefreshToken,
		pkghttp.ExtractClientIP(r, h.ipConfig), r.Header.Get("User-Agent"))
	if err != nil {
		writeAuthError(w, err, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Logout revokes the caller's access token and, if supplied, its refresh token.
// @Summary User logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken := auth.GetRawToken(r)
	if accessToken == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	// the body is optional
	var req LogoutRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	err := h.service.Logout(r.Context(), accessToken, req.RefreshToken,
		pkghttp.ExtractClientIP(r, h.ipConfig), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
