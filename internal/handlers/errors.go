package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// writeLockout renders the 423 contract. Admin locks never disclose an
// expiry; automatic locks carry the time left.
func writeLockout(w http.ResponseWriter, status models.LockoutStatus, now time.Time) {
	if status.IsAdminLocked {
		pkghttp.WriteLocked(w,
			"This account has been locked by an administrator. Please contact support.",
			string(models.LockoutReasonAdminLocked), 0, nil)
		return
	}
	pkghttp.WriteLocked(w,
		"Too many failed login attempts. Please try again later.",
		string(models.LockoutReasonTooManyAttempts), status.RetryAfter(now), status.LockoutExpiresAt)
}

// writeAuthError is writeServiceError for login and refresh, where a storage
// failure means the lockout state could not be read.
func writeAuthError(w http.ResponseWriter, err error, now time.Time) {
	if errors.Is(err, models.ErrStorage) {
		pkghttp.WriteServiceUnavailable(w, "Unable to verify account status. Please try again shortly.")
		return
	}
	writeServiceError(w, err, now)
}

// writeServiceError maps service errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error, now time.Time) {
	var lockErr *models.LockoutError
	switch {
	case errors.As(err, &lockErr):
		writeLockout(w, lockErr.Status, now)
	case errors.Is(err, models.ErrStorage):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable. Please try again shortly.")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrTokenRevoked):
		pkghttp.WriteUnauthorized(w, "Token has been revoked")
	case errors.Is(err, models.ErrInvalidToken), errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid or expired token")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Insufficient permissions")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
