package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// UserProvisioner is the write side of the identity store.
type UserProvisioner interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// UserService provisions accounts outside the HTTP API. The service has no
// public signup; the first administrator is created at startup.
type UserService struct {
	repo   UserProvisioner
	audit  *AuditService
	hash   func(password string) (string, error)
	logger *slog.Logger
}

func NewUserService(repo UserProvisioner, audit *AuditService, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		audit:  audit,
		hash:   auth.HashPassword,
		logger: logger,
	}
}

// EnsureAdmin creates an admin account for email unless one already exists.
// It returns the existing or new user and whether it was created. An
// existing account with another role is left untouched.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password, name string) (*models.User, bool, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, false, fmt.Errorf("%w: admin email is required", models.ErrBadRequest)
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsAdmin() {
			s.logger.WarnContext(ctx, "bootstrap admin email belongs to a non-admin account",
				slog.String("email", logger.SanitizedEmail(email)))
		}
		return existing, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, models.NewStorageError("get user by email", err)
	}

	if err := auth.ValidatePassword(password); err != nil {
		return nil, false, fmt.Errorf("%w: bootstrap admin password rejected: %v", models.ErrBadRequest, err)
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password: %w", err)
	}

	if name == "" {
		name = "Administrator"
	}
	created, err := s.repo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// lost a race with another instance
			existing, getErr := s.repo.GetByEmail(ctx, email)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, models.NewStorageError("create admin", err)
	}

	s.audit.AppendAuditEvent(ctx, models.AuditEventSignup, created.ID, true,
		models.AuditMetadata{models.MetadataReason: "bootstrap_admin"}, "", "")
	s.logger.InfoContext(ctx, "bootstrap admin created",
		slog.String("user_id", created.ID),
		slog.String("email", logger.SanitizedEmail(email)),
	)
	return created, true, nil
}
