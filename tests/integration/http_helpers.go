package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/cache"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/lockout"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/ratelimit"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
)

const testJWTSecret = "test-secret-32-characters-long-for-testing"

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server  *httptest.Server
	DB      *database.DB
	Repos   Repositories
	Redis   *miniredis.Miniredis
	Metrics *metrics.Metrics

	redisClient *redis.Client
}

// NewTestServer wires the production router over a real database and an
// in-process Redis.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New("gatekeeper-test")
	repos := InitializeRepositories(db)

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clock := services.SystemClock{}
	policy := lockout.DefaultPolicy()
	tokenManager := auth.NewTokenManager(testJWTSecret, "gatekeeper", 15*time.Minute, time.Hour)

	lockoutService := services.NewLockoutService(repos.Users, repos.Attempts, repos.Events, policy, clock, m, logger)
	auditService := services.NewAuditService(repos.Events, repos.Attempts, nil, clock, m, logger)
	blacklistService := services.NewBlacklistService(repos.Blacklist,
		cache.NewBlacklistCache(rdb, cache.WithKeyPrefix("gk-test")), clock, m, logger)
	authService := services.NewAuthService(repos.Users, lockoutService, auditService, blacklistService, repos.Events,
		tokenManager, nil, nil, m, logger)
	adminService := services.NewAdminService(repos.Users, repos.Attempts, repos.Events, lockoutService, auditService, nil, m, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(middlewareCustom.SecureLogger(logger, m))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler:  handlers.NewAuthHandler(authService, nil),
		AdminHandler: handlers.NewAdminHandler(adminService, authService, nil),
		TokenManager: tokenManager,
		Blacklist:    blacklistService,
		Users:        repos.Users,
		RateLimit: middlewareCustom.RateLimitConfig{
			Requests: 1000,
			Window:   time.Minute,
			Counter:  ratelimit.NewRedisCounter(rdb, "gk-test"),
		},
		Metrics: m.Handler(),
	})

	return &TestServer{
		Server:      httptest.NewServer(r),
		DB:          db,
		Repos:       repos,
		Redis:       mr,
		Metrics:     m,
		redisClient: rdb,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.redisClient != nil {
		_ = ts.redisClient.Close()
	}
	if ts.Redis != nil {
		ts.Redis.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// Login posts credentials and returns the raw response.
func (ts *TestServer) Login(email, password string) (*http.Response, error) {
	return ts.Request(http.MethodPost, "/auth/login", handlers.LoginRequest{Email: email, Password: password}, nil)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
