package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/gatekeeper/internal/lockout"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// IdentityLookup resolves an email to a registered user.
type IdentityLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// FailedAttemptReader is the read side of the failed-attempt stream.
type FailedAttemptReader interface {
	RecentFailures(ctx context.Context, email string, since time.Time, limit int) ([]time.Time, error)
	RecentFailuresBatch(ctx context.Context, emails []string, since time.Time, limit int) (map[string][]time.Time, error)
}

// LockEventReader reads the latest successful lock and unlock events.
type LockEventReader interface {
	LatestByType(ctx context.Context, userID string, eventType models.AuditEventType, since time.Time) (*models.AuditEvent, error)
	LatestByTypeBatch(ctx context.Context, userIDs []string, eventType models.AuditEventType, since time.Time) (map[string]*models.AuditEvent, error)
}

// LockoutService answers "is this identity locked right now". Every read
// error is returned as a StorageError; callers must deny on error.
type LockoutService struct {
	users    IdentityLookup
	attempts FailedAttemptReader
	events   LockEventReader
	policy   lockout.Policy
	clock    Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewLockoutService(users IdentityLookup, attempts FailedAttemptReader, events LockEventReader, policy lockout.Policy, clock Clock, m *metrics.Metrics, logger *slog.Logger) *LockoutService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &LockoutService{
		users:    users,
		attempts: attempts,
		events:   events,
		policy:   policy,
		clock:    clock,
		metrics:  m,
		logger:   logger,
	}
}

func (s *LockoutService) Policy() lockout.Policy { return s.policy }

// ResolveLockout derives the current status for email. An unregistered
// email has no admin history and is judged on failed attempts alone.
func (s *LockoutService) ResolveLockout(ctx context.Context, email string) (models.LockoutStatus, error) {
	email = models.NormalizeEmail(email)
	now := s.clock.Now()
	since := s.policy.Since(now)

	var userID string
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		userID = user.ID
	case errors.Is(err, models.ErrNotFound):
	default:
		s.metrics.ObserveLockout(metrics.ResultError, "single")
		return models.LockoutStatus{}, models.NewStorageError("resolve identity", err)
	}

	var ev lockout.Evidence
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		failures, err := s.attempts.RecentFailures(gctx, email, since, s.policy.MaxFailedAttempts)
		if err != nil {
			return models.NewStorageError("read failed attempts", err)
		}
		ev.Failures = failures
		return nil
	})

	if userID != "" {
		g.Go(func() error {
			lock, err := s.events.LatestByType(gctx, userID, models.AuditEventAccountLocked, since)
			if err != nil {
				return models.NewStorageError("read lock event", err)
			}
			ev.LastLock = lock
			return nil
		})
		g.Go(func() error {
			unlock, err := s.events.LatestByType(gctx, userID, models.AuditEventAccountUnlocked, since)
			if err != nil {
				return models.NewStorageError("read unlock event", err)
			}
			ev.LastUnlock = unlock
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.metrics.ObserveLockout(metrics.ResultError, "single")
		s.logger.ErrorContext(ctx, "lockout resolution failed",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err),
		)
		return models.LockoutStatus{}, err
	}

	status := lockout.Derive(ev, now, s.policy)
	s.metrics.ObserveLockout(resultLabel(status), "single")
	return status, nil
}

// ResolveLockoutBatch resolves many identities with three set queries. For
// the same instant it returns exactly what ResolveLockout would per identity.
// Identities with an empty ID are treated as unregistered.
func (s *LockoutService) ResolveLockoutBatch(ctx context.Context, identities []models.LockoutIdentity) (map[string]models.LockoutStatus, error) {
	result := make(map[string]models.LockoutStatus, len(identities))
	if len(identities) == 0 {
		return result, nil
	}

	now := s.clock.Now()
	since := s.policy.Since(now)

	emails := make([]string, 0, len(identities))
	userIDs := make([]string, 0, len(identities))
	seenEmail := make(map[string]struct{}, len(identities))
	seenID := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		email := models.NormalizeEmail(id.Email)
		if _, ok := seenEmail[email]; !ok {
			seenEmail[email] = struct{}{}
			emails = append(emails, email)
		}
		if id.ID == "" {
			continue
		}
		if _, ok := seenID[id.ID]; !ok {
			seenID[id.ID] = struct{}{}
			userIDs = append(userIDs, id.ID)
		}
	}

	var (
		failures map[string][]time.Time
		locks    map[string]*models.AuditEvent
		unlocks  map[string]*models.AuditEvent
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		failures, err = s.attempts.RecentFailuresBatch(gctx, emails, since, s.policy.MaxFailedAttempts)
		if err != nil {
			return models.NewStorageError("read failed attempts batch", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		locks, err = s.events.LatestByTypeBatch(gctx, userIDs, models.AuditEventAccountLocked, since)
		if err != nil {
			return models.NewStorageError("read lock events batch", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		unlocks, err = s.events.LatestByTypeBatch(gctx, userIDs, models.AuditEventAccountUnlocked, since)
		if err != nil {
			return models.NewStorageError("read unlock events batch", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.metrics.ObserveLockout(metrics.ResultError, "batch")
		s.logger.ErrorContext(ctx, "batch lockout resolution failed",
			slog.Int("identities", len(identities)),
			slog.Any("error", err),
		)
		return nil, err
	}

	for _, id := range identities {
		ev := lockout.Evidence{Failures: failures[models.NormalizeEmail(id.Email)]}
		if id.ID != "" {
			ev.LastLock = locks[id.ID]
			ev.LastUnlock = unlocks[id.ID]
		}
		status := lockout.Derive(ev, now, s.policy)
		s.metrics.ObserveLockout(resultLabel(status), "batch")
		result[lookupKey(id)] = status
	}

	return result, nil
}

// lookupKey indexes batch results by user ID, or by email for identities
// that have none.
func lookupKey(id models.LockoutIdentity) string {
	if id.ID != "" {
		return id.ID
	}
	return models.NormalizeEmail(id.Email)
}

func resultLabel(status models.LockoutStatus) string {
	switch {
	case status.IsAdminLocked:
		return metrics.ResultAdminLocked
	case status.IsLocked:
		return metrics.ResultAutoLocked
	default:
		return metrics.ResultUnlocked
	}
}

// describeLockout renders a status for log lines.
func describeLockout(status models.LockoutStatus) string {
	if !status.IsLocked {
		return fmt.Sprintf("unlocked (%d remaining)", status.RemainingAttempts)
	}
	if status.LockoutExpiresAt == nil {
		return string(status.Reason())
	}
	return fmt.Sprintf("%s until %s", status.Reason(), status.LockoutExpiresAt.Format(time.RFC3339))
}
