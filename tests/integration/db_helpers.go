package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatekeeper"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	db := database.NewFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		DB:         db,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (tdb *TestDB) Teardown(ctx context.Context) error {
	if tdb.DB != nil {
		tdb.DB.Close()
	}
	if tdb.Container != nil {
		return tdb.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (tdb *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"token_blacklist",
		"audit_events",
		"failed_login_attempts",
		"users",
	}

	for _, table := range tables {
		if _, err := tdb.DB.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// Repositories bundles the PostgreSQL repositories under test.
type Repositories struct {
	Users     *repositories.UserRepository
	Attempts  *repositories.FailedAttemptRepository
	Events    *repositories.AuditEventRepository
	Blacklist *repositories.TokenBlacklistRepository
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) Repositories {
	return Repositories{
		Users:     repositories.NewUserRepository(db),
		Attempts:  repositories.NewFailedAttemptRepository(db),
		Events:    repositories.NewAuditEventRepository(db),
		Blacklist: repositories.NewTokenBlacklistRepository(db),
	}
}

// SeedUser inserts a test user. The hash uses the minimum bcrypt cost to keep tests fast.
func SeedUser(ctx context.Context, repos Repositories, email, password string, role models.Role) (*models.User, error) {
	hash, err := auth.HashPasswordWithCost(password, bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := repos.Users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// SeedFailures records n failed attempts for email at the given times.
func SeedFailures(ctx context.Context, repos Repositories, email string, at ...time.Time) error {
	for _, ts := range at {
		if err := repos.Attempts.Record(ctx, &models.FailedAttempt{Email: email, AttemptedAt: ts}); err != nil {
			return err
		}
	}
	return nil
}
