package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/cache"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/lockout"
	"github.com/BradenHooton/gatekeeper/internal/messaging"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/ratelimit"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	m := metrics.New("gatekeeper")

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewFailedAttemptRepository(db)
	eventRepo := repositories.NewAuditEventRepository(db)
	blacklistRepo := repositories.NewTokenBlacklistRepository(db)

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	// Optional Redis: shared rate-limit counters and blacklist cache
	rateLimit := middlewareCustom.RateLimitConfig{
		Requests: cfg.Server.RateLimitRequests,
		Window:   cfg.Server.RateLimitWindow,
		IPConfig: ipConfig,
	}
	var revocationCache services.RevocationCache
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		blacklistCache := cache.NewBlacklistCache(rdb,
			cache.WithKeyPrefix(cfg.Redis.KeyPrefix),
			cache.WithMaxTTL(cfg.Redis.BlacklistTTL))
		if err := blacklistCache.Ping(ctx); err != nil {
			// the database remains authoritative; run without the cache
			logger.Warn("redis unavailable, blacklist cache disabled", slog.Any("error", err))
		} else {
			revocationCache = blacklistCache
			rateLimit.Counter = ratelimit.NewRedisCounter(rdb, cfg.Redis.KeyPrefix)
		}
	}

	// Optional Kafka audit fan-out
	var publisher services.AuditPublisher
	if cfg.Kafka.Enabled() {
		p := messaging.NewAuditPublisher(cfg.Kafka)
		defer p.Close()
		publisher = p
	}

	// Notifications
	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.Email.Enabled() {
		ses, err := services.NewSESNotifier(ctx, cfg.Email.SESRegion, cfg.Email.SESFromAddress, cfg.Email.SupportAddress, logger)
		if err != nil {
			return err
		}
		notifier = ses
	}

	// Initialize services
	clock := services.SystemClock{}
	policy := lockout.Policy{
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		Window:            cfg.Lockout.Window,
	}
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Floor:  cfg.Auth.FailureDelay,
		Jitter: cfg.Auth.FailureJitter,
	})

	lockoutService := services.NewLockoutService(userRepo, attemptRepo, eventRepo, policy, clock, m, logger)
	auditService := services.NewAuditService(eventRepo, attemptRepo, publisher, clock, m, logger)
	blacklistService := services.NewBlacklistService(blacklistRepo, revocationCache, clock, m, logger)
	authService := services.NewAuthService(userRepo, lockoutService, auditService, blacklistService, eventRepo,
		tokenManager, notifier, timingDelay, m, logger)
	adminService := services.NewAdminService(userRepo, attemptRepo, eventRepo, lockoutService, auditService, notifier, m, logger)

	// Bootstrap first admin user if configured
	if cfg.Bootstrap.AdminEmail != "" {
		bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, created, err := services.NewUserService(userRepo, auditService, logger).EnsureAdmin(bootstrapCtx,
			cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminName)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("bootstrap admin checked", slog.Bool("created", created))
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService, authService, ipConfig)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, m))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:  authHandler,
		AdminHandler: adminHandler,
		TokenManager: tokenManager,
		Blacklist:    blacklistService,
		Users:        userRepo,
		RateLimit:    rateLimit,
		Health:       healthHandler(db),
		Metrics:      m.Handler(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupManager := background.NewCleanupManager(blacklistRepo, attemptRepo, policy.Window, cfg.Cleanup.Interval, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleanupManager.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports database reachability.
func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
