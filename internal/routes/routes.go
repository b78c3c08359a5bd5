package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Dependencies groups what RegisterRoutes needs from main.
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	TokenManager *auth.TokenManager
	Blacklist    auth.BlacklistChecker
	Users        auth.UserRepository
	// RateLimit throttles the unauthenticated endpoints.
	RateLimit middleware.RateLimitConfig
	Health    http.HandlerFunc
	Metrics   http.Handler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	if deps.Health != nil {
		router.Get("/health", deps.Health)
	}
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit))
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/refresh", deps.AuthHandler.RefreshToken)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Blacklist))

		r.Post("/auth/logout", deps.AuthHandler.Logout)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Users, models.RoleAdmin))

			r.Get("/users", deps.AdminHandler.ListUsers)
			r.Get("/users/{id}/lockout", deps.AdminHandler.GetLockoutStatus)
			r.Get("/users/{id}/audit", deps.AdminHandler.ListAuditEvents)
			r.Post("/users/{id}/lock", deps.AdminHandler.LockUser)
			r.Post("/users/{id}/unlock", deps.AdminHandler.UnlockUser)
			r.Post("/tokens/revoke", deps.AdminHandler.RevokeToken)
		})
	})
}
