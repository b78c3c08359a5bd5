package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// TokenBlacklistRepository persists hashed revoked tokens.
type TokenBlacklistRepository interface {
	Insert(ctx context.Context, token *models.BlacklistedToken) (bool, error)
	IsActive(ctx context.Context, tokenHash string, now time.Time) (bool, error)
}

// RevocationCache is an optional positive cache in front of the repository.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, tokenHash string, expiresAt, now time.Time) error
	IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error)
}

// BlacklistService revokes bearer tokens by hash. The raw token never
// leaves this service.
type BlacklistService struct {
	repo    TokenBlacklistRepository
	cache   RevocationCache
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBlacklistService(repo TokenBlacklistRepository, cache RevocationCache, clock Clock, m *metrics.Metrics, logger *slog.Logger) *BlacklistService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &BlacklistService{
		repo:    repo,
		cache:   cache,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// HashToken is the lowercase hex SHA-256 of the raw token.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Blacklist records rawToken as revoked until expiresAt. Blacklisting the
// same token twice is a no-op.
func (s *BlacklistService) Blacklist(ctx context.Context, rawToken, userID string, expiresAt time.Time, reason string) error {
	_, err := s.insert(ctx, rawToken, userID, expiresAt, reason)
	return err
}

// Claim blacklists rawToken and reports whether this call was the one that
// revoked it. Only one of any number of concurrent callers gets true.
func (s *BlacklistService) Claim(ctx context.Context, rawToken, userID string, expiresAt time.Time, reason string) (bool, error) {
	return s.insert(ctx, rawToken, userID, expiresAt, reason)
}

func (s *BlacklistService) insert(ctx context.Context, rawToken, userID string, expiresAt time.Time, reason string) (bool, error) {
	hash := HashToken(rawToken)
	now := s.clock.Now()

	inserted, err := s.repo.Insert(ctx, &models.BlacklistedToken{
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		RevokedAt: now,
		Reason:    reason,
	})
	if err != nil {
		return false, models.NewStorageError("blacklist token", err)
	}

	if s.cache != nil {
		if err := s.cache.MarkRevoked(ctx, hash, expiresAt, now); err != nil {
			s.metrics.ObserveSideEffectFailure(metrics.SinkRedis, "cache_revocation")
			s.logger.WarnContext(ctx, "failed to cache token revocation", slog.Any("error", err))
		}
	}

	if inserted {
		s.logger.InfoContext(ctx, "token blacklisted",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.Time("expires_at", expiresAt),
		)
	}
	return inserted, nil
}

// IsBlacklisted reports whether rawToken has an unexpired blacklist entry.
// A cache failure falls through to the database; a database failure is
// returned so the caller can deny.
func (s *BlacklistService) IsBlacklisted(ctx context.Context, rawToken string) (bool, error) {
	hash := HashToken(rawToken)
	now := s.clock.Now()

	if s.cache != nil {
		revoked, err := s.cache.IsRevoked(ctx, hash, now)
		switch {
		case err != nil:
			s.metrics.ObserveSideEffectFailure(metrics.SinkRedis, "read_revocation")
			s.logger.WarnContext(ctx, "blacklist cache unavailable", slog.Any("error", err))
		case revoked:
			s.metrics.ObserveBlacklist("hit", "cache")
			return true, nil
		}
	}

	active, err := s.repo.IsActive(ctx, hash, now)
	if err != nil {
		s.metrics.ObserveBlacklist("error", "database")
		return false, models.NewStorageError("check blacklist", err)
	}

	if active {
		s.metrics.ObserveBlacklist("hit", "database")
	} else {
		s.metrics.ObserveBlacklist("miss", "database")
	}
	return active, nil
}
