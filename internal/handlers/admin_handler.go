package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// AdminServiceInterface defines the lockout administration contract.
type AdminServiceInterface interface {
	LockUser(ctx context.Context, meta services.RequestMeta, targetID, note string) error
	UnlockUser(ctx context.Context, meta services.RequestMeta, targetID string) error
	ListUsers(ctx context.Context, limit, offset int) (*services.UserListResponse, error)
	GetLockoutStatus(ctx context.Context, userID string) (models.LockoutStatus, error)
	ListAuditEvents(ctx context.Context, userID string, limit, offset int) (*services.AuditTrailResponse, error)
}

// TokenRevoker revokes a single token on an administrator's behalf.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, meta services.RequestMeta, rawToken, reason string) error
}

// AdminHandler handles admin lockout HTTP requests.
type AdminHandler struct {
	service  AdminServiceInterface
	tokens   TokenRevoker
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, tokens TokenRevoker, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		service:  service,
		tokens:   tokens,
		ipConfig: ipConfig,
		now:      time.Now,
	}
}

// LockUserRequest carries an optional note stored on the lock event.
type LockUserRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RevokeTokenRequest names the token to revoke.
type RevokeTokenRequest struct {
	Token  string `json:"token" validate:"required"`
	Reason string `json:"reason" validate:"max=100"`
}

// LockoutStatusResponse is returned by GET /admin/users/{id}/lockout.
type LockoutStatusResponse struct {
	UserID  string               `json:"user_id"`
	Reason  models.LockoutReason `json:"reason,omitempty"`
	Lockout models.LockoutStatus `json:"lockout"`
}

// LockUser handles POST /admin/users/{id}/lock
func (h *AdminHandler) LockUser(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.requestMeta(w, r)
	if !ok {
		return
	}
	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req LockUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.LockUser(r.Context(), meta, targetID, req.Reason); err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnlockUser handles POST /admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.requestMeta(w, r)
	if !ok {
		return
	}
	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.UnlockUser(r.Context(), meta, targetID); err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListUsers handles GET /admin/users?limit=N&offset=M
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", services.DefaultPageSize)
	offset := parseIntParam(r, "offset", 0)

	resp, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// GetLockoutStatus handles GET /admin/users/{id}/lockout
func (h *AdminHandler) GetLockoutStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetLockoutStatus(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockoutStatusResponse{
		UserID:  userID,
		Reason:  status.Reason(),
		Lockout: status,
	})
}

// ListAuditEvents handles GET /admin/users/{id}/audit?limit=N&offset=M
func (h *AdminHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit := parseIntParam(r, "limit", services.DefaultPageSize)
	offset := parseIntParam(r, "offset", 0)

	resp, err := h.service.ListAuditEvents(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RevokeToken handles POST /admin/tokens/revoke
func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.requestMeta(w, r)
	if !ok {
		return
	}

	var req RevokeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.tokens.RevokeToken(r.Context(), meta, req.Token, req.Reason); err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			pkghttp.WriteBadRequest(w, "Token is malformed or expired")
			return
		}
		writeServiceError(w, err, h.now())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) requestMeta(w http.ResponseWriter, r *http.Request) (services.RequestMeta, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return services.RequestMeta{}, false
	}
	return services.RequestMeta{
		ActorID:   claims.UserID,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}, true
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID format")
		return "", false
	}
	return id, true
}

// parseIntParam reads a non-negative integer query parameter, falling back
// to def when it is absent or malformed.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
