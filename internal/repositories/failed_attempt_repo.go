package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// FailedAttemptRepository reads and appends the failed_login_attempts stream.
type FailedAttemptRepository struct {
	pool *pgxpool.Pool
}

func NewFailedAttemptRepository(db *database.DB) *FailedAttemptRepository {
	return &FailedAttemptRepository{pool: db.Pool}
}

// Record appends one attempt. A zero AttemptedAt lets the database stamp it.
func (r *FailedAttemptRepository) Record(ctx context.Context, attempt *models.FailedAttempt) error {
	query := `
		INSERT INTO failed_login_attempts (email, ip_address, user_agent, attempted_at, success)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, NOW()), $5)
	`

	var attemptedAt *time.Time
	if !attempt.AttemptedAt.IsZero() {
		attemptedAt = &attempt.AttemptedAt
	}

	_, err := r.pool.Exec(ctx, query,
		models.NormalizeEmail(attempt.Email),
		attempt.IPAddress,
		attempt.UserAgent,
		attemptedAt,
		attempt.Success,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", database.MapPostgresError(err))
	}
	return nil
}

// RecentFailures returns up to limit failure timestamps at or after since, newest first.
func (r *FailedAttemptRepository) RecentFailures(ctx context.Context, email string, since time.Time, limit int) ([]time.Time, error) {
	query := `
		SELECT attempted_at FROM failed_login_attempts
		WHERE email = $1 AND success = false AND attempted_at >= $2
		ORDER BY attempted_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, models.NormalizeEmail(email), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	failures := make([]time.Time, 0, limit)
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rows: %w", err)
	}

	return failures, nil
}

// RecentFailuresBatch is RecentFailures for many emails in one round trip.
// Emails with no failures are absent from the result.
func (r *FailedAttemptRepository) RecentFailuresBatch(ctx context.Context, emails []string, since time.Time, limit int) (map[string][]time.Time, error) {
	result := make(map[string][]time.Time, len(emails))
	if len(emails) == 0 {
		return result, nil
	}

	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = models.NormalizeEmail(e)
	}

	query := `
		SELECT email, attempted_at FROM (
			SELECT email, attempted_at,
			       ROW_NUMBER() OVER (PARTITION BY email ORDER BY attempted_at DESC) AS rn
			FROM failed_login_attempts
			WHERE email = ANY($1::text[]) AND success = false AND attempted_at >= $2
		) ranked
		WHERE rn <= $3
		ORDER BY email, attempted_at DESC
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(normalized), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures batch: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		var at time.Time
		if err := rows.Scan(&email, &at); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		result[email] = append(result[email], at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rows: %w", err)
	}

	return result, nil
}

// DeleteByEmail clears an email's attempts. Admin unlock is the only caller.
func (r *FailedAttemptRepository) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	query := `DELETE FROM failed_login_attempts WHERE email = $1`

	result, err := r.pool.Exec(ctx, query, models.NormalizeEmail(email))
	if err != nil {
		return 0, fmt.Errorf("failed to delete attempts: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}

// DeleteOlderThan prunes attempts that can no longer count toward any lock.
func (r *FailedAttemptRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM failed_login_attempts WHERE attempted_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}
