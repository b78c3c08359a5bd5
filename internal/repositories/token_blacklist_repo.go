package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenBlacklistRepository struct {
	pool *pgxpool.Pool
}

func NewTokenBlacklistRepository(db *database.DB) *TokenBlacklistRepository {
	return &TokenBlacklistRepository{pool: db.Pool}
}

// Insert adds a hashed token and reports whether a new row was written.
// Re-inserting the same hash is a no-op that returns false.
func (r *TokenBlacklistRepository) Insert(ctx context.Context, token *models.BlacklistedToken) (bool, error) {
	query := `
		INSERT INTO token_blacklist (token_hash, user_id, expires_at, revoked_at, reason)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, NOW()), $5)
		ON CONFLICT (token_hash) DO NOTHING
	`

	var revokedAt *time.Time
	if !token.RevokedAt.IsZero() {
		revokedAt = &token.RevokedAt
	}

	result, err := r.pool.Exec(ctx, query, token.TokenHash, token.UserID, token.ExpiresAt, revokedAt, token.Reason)
	if err != nil {
		return false, fmt.Errorf("failed to blacklist token: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected() > 0, nil
}

// IsActive reports whether tokenHash is blacklisted with expires_at after now.
func (r *TokenBlacklistRepository) IsActive(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM token_blacklist WHERE token_hash = $1 AND expires_at > $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tokenHash, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", database.MapPostgresError(err))
	}

	return exists, nil
}

// DeleteExpired removes rows that can no longer match IsActive.
func (r *TokenBlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM token_blacklist WHERE expires_at <= $1`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune blacklist: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}
