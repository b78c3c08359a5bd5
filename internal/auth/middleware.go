package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// rawTokenContextKey carries the bearer string for logout and revocation.
	rawTokenContextKey contextKey = "raw_token"
)

// BlacklistChecker reports whether a raw bearer token was revoked.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, rawToken string) (bool, error)
}

// UserRepository is the lookup RequireRole uses to read the current role.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware validates the bearer access token and rejects revoked ones.
// A blacklist lookup failure denies the request with 503.
func AuthMiddleware(tm *TokenManager, blacklist BlacklistChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			// Refresh tokens are only accepted by /auth/refresh
			if claims.Type != models.TokenTypeAccess {
				pkghttp.WriteUnauthorized(w, "refresh tokens cannot be used for API access")
				return
			}

			if blacklist != nil {
				revoked, err := blacklist.IsBlacklisted(r.Context(), tokenString)
				if err != nil {
					pkghttp.WriteServiceUnavailable(w, "unable to verify token status")
					return
				}
				if revoked {
					pkghttp.WriteUnauthorized(w, "token has been revoked")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, rawTokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role on the caller's current user row, so a demotion
// takes effect before the access token expires.
func RequireRole(userRepo UserRepository, role models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			user, err := userRepo.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "user not found")
					return
				}
				pkghttp.WriteServiceUnavailable(w, "unable to verify permissions")
				return
			}

			if user.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetRawToken returns the bearer string validated by AuthMiddleware.
func GetRawToken(r *http.Request) string {
	token, _ := r.Context().Value(rawTokenContextKey).(string)
	return token
}

// WithClaims returns ctx carrying claims, as AuthMiddleware would. Handler
// tests use it to skip token minting.
func WithClaims(ctx context.Context, claims *models.TokenClaims, rawToken string) context.Context {
	ctx = context.WithValue(ctx, UserContextKey, claims)
	return context.WithValue(ctx, rawTokenContextKey, rawToken)
}
