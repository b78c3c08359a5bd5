package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// AdminUserRepository is the subset of UserRepository methods needed by AdminService.
type AdminUserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Count(ctx context.Context) (int64, error)
}

// FailedAttemptCleaner clears an email's failure stream on admin unlock.
type FailedAttemptCleaner interface {
	DeleteByEmail(ctx context.Context, email string) (int64, error)
}

// AuditTrailReader pages through a user's audit events.
type AuditTrailReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditEvent, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

// LockoutResolver is implemented by LockoutService.
type LockoutResolver interface {
	ResolveLockout(ctx context.Context, email string) (models.LockoutStatus, error)
	ResolveLockoutBatch(ctx context.Context, identities []models.LockoutIdentity) (map[string]models.LockoutStatus, error)
}

// UserWithLockout is one row of the admin user listing.
type UserWithLockout struct {
	ID        string               `json:"id"`
	Email     string               `json:"email"`
	Name      string               `json:"name"`
	Role      models.Role          `json:"role"`
	CreatedAt time.Time            `json:"created_at"`
	Lockout   models.LockoutStatus `json:"lockout"`
}

type UserListResponse struct {
	Users  []UserWithLockout `json:"users"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type AuditTrailResponse struct {
	Events []*models.AuditEvent `json:"events"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// RequestMeta is the caller context recorded on admin audit rows.
type RequestMeta struct {
	ActorID   string
	IPAddress string
	UserAgent string
}

// AdminService performs administrative lock, unlock and inspection.
type AdminService struct {
	users    AdminUserRepository
	attempts FailedAttemptCleaner
	trail    AuditTrailReader
	lockouts LockoutResolver
	audit    *AuditService
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAdminService(
	users AdminUserRepository,
	attempts FailedAttemptCleaner,
	trail AuditTrailReader,
	lockouts LockoutResolver,
	audit *AuditService,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AdminService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &AdminService{
		users:    users,
		attempts: attempts,
		trail:    trail,
		lockouts: lockouts,
		audit:    audit,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// LockUser places an admin lock on targetID. The lock is the audit row
// itself, so a failed append is returned to the caller.
func (s *AdminService) LockUser(ctx context.Context, meta RequestMeta, targetID, note string) error {
	if meta.ActorID == targetID {
		return fmt.Errorf("%w: administrators cannot lock their own account", models.ErrBadRequest)
	}

	user, err := s.getUser(ctx, targetID)
	if err != nil {
		return err
	}

	actorID := meta.ActorID
	_, err = s.audit.Append(ctx, &models.AuditEvent{
		UserID:    optional(user.ID),
		EventType: models.AuditEventAccountLocked,
		Success:   true,
		IPAddress: optional(meta.IPAddress),
		UserAgent: optional(meta.UserAgent),
		Metadata:  models.NewLockMetadata(models.ReasonAdminLocked, &actorID, note),
	})
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}

	s.logger.InfoContext(ctx, "account locked by admin",
		slog.String("user_id", user.ID),
		slog.String("actor_id", meta.ActorID),
	)

	status := models.LockoutStatus{IsLocked: true, IsAdminLocked: true}
	if err := s.notifier.NotifyAccountLocked(ctx, user, status); err != nil {
		s.notifyFailed(ctx, "notify_account_locked", user, err)
	}
	return nil
}

// UnlockUser clears the failure stream and records the unlock. The two
// writes are not atomic; a failure recorded between them counts toward the
// next lockout.
func (s *AdminService) UnlockUser(ctx context.Context, meta RequestMeta, targetID string) error {
	user, err := s.getUser(ctx, targetID)
	if err != nil {
		return err
	}

	cleared, err := s.attempts.DeleteByEmail(ctx, user.Email)
	if err != nil {
		return models.NewStorageError("clear failed attempts", err)
	}

	actorID := meta.ActorID
	_, err = s.audit.Append(ctx, &models.AuditEvent{
		UserID:    optional(user.ID),
		EventType: models.AuditEventAccountUnlocked,
		Success:   true,
		IPAddress: optional(meta.IPAddress),
		UserAgent: optional(meta.UserAgent),
		Metadata:  models.NewLockMetadata(models.ReasonAdminUnlocked, &actorID, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}

	s.logger.InfoContext(ctx, "account unlocked by admin",
		slog.String("user_id", user.ID),
		slog.String("actor_id", meta.ActorID),
		slog.Int64("attempts_cleared", cleared),
	)

	if err := s.notifier.NotifyAccountUnlocked(ctx, user); err != nil {
		s.notifyFailed(ctx, "notify_account_unlocked", user, err)
	}
	return nil
}

// ListUsers returns a page of users with their lockout status, resolved in
// one batch at a single instant.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) (*UserListResponse, error) {
	limit, offset = normalizePage(limit, offset)

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, models.NewStorageError("list users", err)
	}
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, models.NewStorageError("count users", err)
	}

	identities := make([]models.LockoutIdentity, 0, len(users))
	for _, u := range users {
		identities = append(identities, models.LockoutIdentity{ID: u.ID, Email: u.Email})
	}
	statuses, err := s.lockouts.ResolveLockoutBatch(ctx, identities)
	if err != nil {
		return nil, err
	}

	resp := &UserListResponse{
		Users:  make([]UserWithLockout, 0, len(users)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, u := range users {
		resp.Users = append(resp.Users, UserWithLockout{
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.Name,
			Role:      u.Role,
			CreatedAt: u.CreatedAt,
			Lockout:   statuses[u.ID],
		})
	}
	return resp, nil
}

func (s *AdminService) GetLockoutStatus(ctx context.Context, userID string) (models.LockoutStatus, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return models.LockoutStatus{}, err
	}
	return s.lockouts.ResolveLockout(ctx, user.Email)
}

func (s *AdminService) ListAuditEvents(ctx context.Context, userID string, limit, offset int) (*AuditTrailResponse, error) {
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)

	events, err := s.trail.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, models.NewStorageError("list audit events", err)
	}
	total, err := s.trail.CountByUser(ctx, userID)
	if err != nil {
		return nil, models.NewStorageError("count audit events", err)
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	return &AuditTrailResponse{Events: events, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *AdminService) getUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.NewStorageError("get user", err)
	}
	return user, nil
}

func (s *AdminService) notifyFailed(ctx context.Context, op string, user *models.User, err error) {
	s.metrics.ObserveSideEffectFailure(metrics.SinkEmail, op)
	s.logger.WarnContext(ctx, "failed to send security notice",
		slog.String("operation", op),
		slog.String("email", logger.SanitizedEmail(user.Email)),
		slog.Any("error", err),
	)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
