package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// UserRepository is the identity lookup used by login and refresh.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// IPHistory answers whether a user has logged in from an address before.
type IPHistory interface {
	HasSeenIP(ctx context.Context, userID, ip string) (bool, error)
}

// TokenBlacklister is implemented by BlacklistService.
type TokenBlacklister interface {
	Blacklist(ctx context.Context, rawToken, userID string, expiresAt time.Time, reason string) error
	Claim(ctx context.Context, rawToken, userID string, expiresAt time.Time, reason string) (bool, error)
	IsBlacklisted(ctx context.Context, rawToken string) (bool, error)
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	*models.TokenPair
	User *UserResponse `json:"user"`
}

// AuthService runs the login, logout and refresh flows.
type AuthService struct {
	users     UserRepository
	lockouts  LockoutResolver
	audit     *AuditService
	blacklist TokenBlacklister
	ips       IPHistory
	tm        *auth.TokenManager
	notifier  Notifier
	timing    *auth.TimingDelay
	auditLog  *logger.AuditLogger
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewAuthService(
	users UserRepository,
	lockouts LockoutResolver,
	audit *AuditService,
	blacklist TokenBlacklister,
	ips IPHistory,
	tm *auth.TokenManager,
	notifier Notifier,
	timing *auth.TimingDelay,
	m *metrics.Metrics,
	log *slog.Logger,
) *AuthService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &AuthService{
		users:     users,
		lockouts:  lockouts,
		audit:     audit,
		blacklist: blacklist,
		ips:       ips,
		tm:        tm,
		notifier:  notifier,
		timing:    timing,
		auditLog:  logger.NewAuditLogger(log),
		metrics:   m,
		logger:    log,
	}
}

// Login checks lockout before credentials. A locked identity gets a
// LockoutError even with the right password; a resolver failure denies
// the attempt without issuing tokens.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*AuthResponse, error) {
	start := time.Now()
	email = models.NormalizeEmail(email)

	status, err := s.lockouts.ResolveLockout(ctx, email)
	if err != nil {
		s.metrics.ObserveLogin(metrics.LoginError)
		s.audit.AppendAuditEvent(ctx, models.AuditEventLogin, "", false,
			models.AuditMetadata{models.MetadataReason: models.ReasonLockoutPending}, ipAddress, userAgent)
		return nil, err
	}

	if status.IsLocked {
		s.denyLocked(ctx, email, status, ipAddress, userAgent)
		s.timing.WaitFrom(ctx, start, false)
		return nil, &models.LockoutError{Status: status}
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkgauth.CompareDummy(password)
		s.loginFailed(ctx, email, nil, status, ipAddress, userAgent)
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidCredentials
	case err != nil:
		s.metrics.ObserveLogin(metrics.LoginError)
		return nil, models.NewStorageError("get user by email", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, pkgauth.ErrPasswordMismatch) {
			s.logger.ErrorContext(ctx, "stored password hash unusable",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		}
		s.loginFailed(ctx, email, user, status, ipAddress, userAgent)
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidCredentials
	}

	seen := true
	if ipAddress != "" && s.ips != nil {
		if seen, err = s.ips.HasSeenIP(ctx, user.ID, ipAddress); err != nil {
			s.logger.WarnContext(ctx, "failed to check login ip history",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
			seen = true
		}
	}

	pair, err := s.tm.IssuePair(user)
	if err != nil {
		s.metrics.ObserveLogin(metrics.LoginError)
		s.logger.ErrorContext(ctx, "failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to issue tokens", models.ErrInternalServer)
	}

	s.audit.AppendAuditEvent(ctx, models.AuditEventLogin, user.ID, true, nil, ipAddress, userAgent)
	s.audit.AppendAuditEvent(ctx, models.AuditEventSessionCreated, user.ID, true, nil, ipAddress, userAgent)
	if !seen {
		s.audit.AppendAuditEvent(ctx, models.AuditEventNewIPDetected, user.ID, true,
			models.AuditMetadata{"ip_address": ipAddress}, ipAddress, userAgent)
	}

	s.metrics.ObserveLogin(metrics.LoginSuccess)
	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return &AuthResponse{
		TokenPair: pair,
		User: &UserResponse{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  user.Role,
		},
	}, nil
}

func (s *AuthService) denyLocked(ctx context.Context, email string, status models.LockoutStatus, ipAddress, userAgent string) {
	var userID string
	if user, err := s.users.GetByEmail(ctx, email); err == nil {
		userID = user.ID
	}

	s.metrics.ObserveLogin(metrics.LoginLocked)
	s.auditLog.LogLockoutDenied(ctx, email, string(status.Reason()), status.LockoutExpiresAt)
	s.audit.AppendAuditEvent(ctx, models.AuditEventLogin, userID, false,
		models.AuditMetadata{models.MetadataReason: models.ReasonAccountLocked}, ipAddress, userAgent)
}

// loginFailed records the failure. When this failure is the one that
// reaches the threshold, the transition is flagged and the owner notified.
func (s *AuthService) loginFailed(ctx context.Context, email string, user *models.User, before models.LockoutStatus, ipAddress, userAgent string) {
	var userID string
	if user != nil {
		userID = user.ID
	}

	s.metrics.ObserveLogin(metrics.LoginInvalid)
	s.audit.RecordFailedAttempt(ctx, email, ipAddress, userAgent)
	s.audit.AppendAuditEvent(ctx, models.AuditEventLogin, userID, false,
		models.AuditMetadata{models.MetadataReason: models.ReasonInvalidCreds}, ipAddress, userAgent)

	if user == nil || before.RemainingAttempts > 1 {
		return
	}

	after, err := s.lockouts.ResolveLockout(ctx, email)
	if err != nil || !after.IsLocked || after.IsAdminLocked {
		return
	}

	s.logger.WarnContext(ctx, "account entered automatic lockout",
		slog.String("user_id", user.ID),
		slog.String("status", describeLockout(after)),
	)
	s.audit.AppendAuditEvent(ctx, models.AuditEventSuspiciousActivity, user.ID, true,
		models.AuditMetadata{models.MetadataReason: string(models.LockoutReasonTooManyAttempts)}, ipAddress, userAgent)

	if err := s.notifier.NotifyAccountLocked(ctx, user, after); err != nil {
		s.metrics.ObserveSideEffectFailure(metrics.SinkEmail, "notify_account_locked")
		s.logger.WarnContext(ctx, "failed to send security notice",
			slog.String("email", logger.SanitizedEmail(user.Email)),
			slog.Any("error", err),
		)
	}
}

// Logout revokes the access token and, when given, its refresh token.
// The refresh token is checked before anything is revoked.
func (s *AuthService) Logout(ctx context.Context, rawAccess, rawRefresh, ipAddress, userAgent string) error {
	claims, err := s.tm.ValidateToken(rawAccess)
	if err != nil {
		return err
	}

	var refresh *models.TokenClaims
	if rawRefresh != "" {
		refresh, err = s.tm.ValidateToken(rawRefresh)
		if err != nil || refresh.Type != models.TokenTypeRefresh || refresh.UserID != claims.UserID {
			return fmt.Errorf("%w: refresh token does not belong to this session", models.ErrInvalidToken)
		}
	}

	if err := s.blacklist.Blacklist(ctx, rawAccess, claims.UserID, claims.ExpiresAt.Time, models.ReasonLogout); err != nil {
		return err
	}

	revoked := 1
	if refresh != nil {
		if err := s.blacklist.Blacklist(ctx, rawRefresh, refresh.UserID, refresh.ExpiresAt.Time, models.ReasonLogout); err != nil {
			return err
		}
		revoked++
	}

	s.audit.AppendAuditEvent(ctx, models.AuditEventLogout, claims.UserID, true, nil, ipAddress, userAgent)
	s.audit.AppendAuditEvent(ctx, models.AuditEventTokenRevoked, claims.UserID, true,
		models.AuditMetadata{models.MetadataReason: models.ReasonLogout, "tokens": revoked}, ipAddress, userAgent)

	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// claimed on the blacklist before the new pair is issued, so a token can be
// redeemed once even under concurrent requests.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh, ipAddress, userAgent string) (*AuthResponse, error) {
	claims, err := s.tm.ValidateToken(rawRefresh)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", models.ErrInvalidToken)
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, models.ErrTokenRevoked
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", models.ErrInvalidToken)
		}
		return nil, models.NewStorageError("get user", err)
	}

	status, err := s.lockouts.ResolveLockout(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if status.IsLocked {
		s.auditLog.LogLockoutDenied(ctx, user.Email, string(status.Reason()), status.LockoutExpiresAt)
		return nil, &models.LockoutError{Status: status}
	}

	claimed, err := s.blacklist.Claim(ctx, rawRefresh, user.ID, claims.ExpiresAt.Time, models.ReasonRotated)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, models.ErrTokenRevoked
	}

	pair, err := s.tm.IssuePair(user)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to issue tokens", models.ErrInternalServer)
	}

	s.audit.AppendAuditEvent(ctx, models.AuditEventSessionCreated, user.ID, true,
		models.AuditMetadata{"refreshed": true}, ipAddress, userAgent)

	return &AuthResponse{
		TokenPair: pair,
		User:      &UserResponse{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role},
	}, nil
}

// RevokeToken blacklists any token on behalf of an administrator.
func (s *AuthService) RevokeToken(ctx context.Context, meta RequestMeta, rawToken, reason string) error {
	claims, err := s.tm.ValidateToken(rawToken)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = models.ReasonAdminRevoked
	}

	if err := s.blacklist.Blacklist(ctx, rawToken, claims.UserID, claims.ExpiresAt.Time, reason); err != nil {
		return err
	}

	s.audit.AppendAuditEvent(ctx, models.AuditEventTokenRevoked, claims.UserID, true,
		models.AuditMetadata{
			models.MetadataReason:  reason,
			models.MetadataActorID: meta.ActorID,
			"token_type":           claims.Type,
		}, meta.IPAddress, meta.UserAgent)

	s.logger.InfoContext(ctx, "token revoked by admin",
		slog.String("user_id", claims.UserID),
		slog.String("actor_id", meta.ActorID),
	)
	return nil
}
