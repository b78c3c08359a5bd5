package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
)

// ExpiredTokenPurger deletes blacklist rows whose token has expired.
type ExpiredTokenPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// StaleAttemptPurger deletes failed attempts recorded before a cutoff.
type StaleAttemptPurger interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CleanupManager periodically removes expired blacklist rows and failed
// attempts that can no longer influence a lockout decision. Audit events
// are never deleted.
type CleanupManager struct {
	tokens   ExpiredTokenPurger
	attempts StaleAttemptPurger
	// attemptRetention must be at least twice the lockout window so the
	// resolver always sees every failure it could count.
	attemptRetention time.Duration
	interval         time.Duration
	metrics          *metrics.Metrics
	logger           *slog.Logger
	now              func() time.Time
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	tokens ExpiredTokenPurger,
	attempts StaleAttemptPurger,
	lockoutWindow time.Duration,
	interval time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		tokens:           tokens,
		attempts:         attempts,
		attemptRetention: 2 * lockoutWindow,
		interval:         interval,
		metrics:          m,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the cleanup loop until ctx is cancelled. A non-positive
// interval disables it.
func (cm *CleanupManager) Start(ctx context.Context) {
	if cm.interval <= 0 {
		cm.logger.Info("cleanup manager disabled")
		return
	}

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-ctx.Done():
			cm.logger.Info("cleanup manager stopped")
			return
		}
	}
}

// RunOnce performs a single cleanup pass. Failures are logged and retried
// on the next tick.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()

	if rows, err := cm.tokens.DeleteExpired(cleanupCtx, now); err != nil {
		cm.logger.Error("failed to cleanup expired blacklist entries", slog.Any("error", err))
	} else {
		cm.metrics.ObserveCleanup("token_blacklist", rows)
		if rows > 0 {
			cm.logger.Info("expired blacklist entries removed", slog.Int64("rows_deleted", rows))
		}
	}

	cutoff := now.Add(-cm.attemptRetention)
	if rows, err := cm.attempts.DeleteOlderThan(cleanupCtx, cutoff); err != nil {
		cm.logger.Error("failed to cleanup stale failed attempts", slog.Any("error", err))
	} else {
		cm.metrics.ObserveCleanup("failed_login_attempts", rows)
		if rows > 0 {
			cm.logger.Info("stale failed attempts removed",
				slog.Int64("rows_deleted", rows),
				slog.Time("cutoff", cutoff))
		}
	}
}
