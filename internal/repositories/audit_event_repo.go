package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// AuditEventRepository handles the append-only audit_events relation.
type AuditEventRepository struct {
	pool *pgxpool.Pool
}

func NewAuditEventRepository(db *database.DB) *AuditEventRepository {
	return &AuditEventRepository{pool: db.Pool}
}

const auditEventColumns = `id, user_id, event_type, success, ip_address, user_agent, metadata, created_at`

// scanAuditEventRow populates an AuditEvent and rejects event types outside the enum.
func scanAuditEventRow(row rowScanner) (*models.AuditEvent, error) {
	var event models.AuditEvent
	var eventType string

	err := row.Scan(
		&event.ID, &event.UserID, &eventType, &event.Success,
		&event.IPAddress, &event.UserAgent, &event.Metadata, &event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	event.EventType, err = models.ParseAuditEventType(eventType)
	if err != nil {
		return nil, err
	}

	return &event, nil
}

func scanAuditEventRows(rows pgx.Rows) ([]*models.AuditEvent, error) {
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)

	for rows.Next() {
		event, err := scanAuditEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}

// Create appends an event. A zero CreatedAt lets the database stamp it.
func (r *AuditEventRepository) Create(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	if !event.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown audit event type %q", models.ErrBadRequest, event.EventType)
	}

	query := `
		INSERT INTO audit_events (user_id, event_type, success, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, NOW()))
		RETURNING ` + auditEventColumns

	var createdAt *time.Time
	if !event.CreatedAt.IsZero() {
		createdAt = &event.CreatedAt
	}

	created, err := scanAuditEventRow(r.pool.QueryRow(ctx, query,
		event.UserID, string(event.EventType), event.Success,
		event.IPAddress, event.UserAgent, event.Metadata, createdAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit event: %w", err)
	}

	return created, nil
}

// LatestByType returns the newest successful event of eventType at or after
// since, or nil when there is none.
func (r *AuditEventRepository) LatestByType(ctx context.Context, userID string, eventType models.AuditEventType, since time.Time) (*models.AuditEvent, error) {
	query := `
		SELECT ` + auditEventColumns + `
		FROM audit_events
		WHERE user_id = $1 AND event_type = $2 AND success = true AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	event, err := scanAuditEventRow(r.pool.QueryRow(ctx, query, userID, string(eventType), since))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest %s event: %w", eventType, err)
	}

	return event, nil
}

// LatestByTypeBatch is LatestByType for many users in one round trip.
// Users without a matching event are absent from the result.
func (r *AuditEventRepository) LatestByTypeBatch(ctx context.Context, userIDs []string, eventType models.AuditEventType, since time.Time) (map[string]*models.AuditEvent, error) {
	result := make(map[string]*models.AuditEvent, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT DISTINCT ON (user_id) ` + auditEventColumns + `
		FROM audit_events
		WHERE user_id = ANY($1::uuid[]) AND event_type = $2 AND success = true AND created_at >= $3
		ORDER BY user_id, created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(userIDs), string(eventType), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest %s events: %w", eventType, database.MapPostgresError(err))
	}

	events, err := scanAuditEventRows(rows)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		if e.UserID != nil {
			result[*e.UserID] = e
		}
	}
	return result, nil
}

// ListByUser returns a user's events, newest first.
func (r *AuditEventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditEventColumns + `
		FROM audit_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", database.MapPostgresError(err))
	}

	return scanAuditEventRows(rows)
}

func (r *AuditEventRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_events WHERE user_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", database.MapPostgresError(err))
	}

	return count, nil
}

// HasSeenIP reports whether the user ever logged in successfully from ip.
func (r *AuditEventRepository) HasSeenIP(ctx context.Context, userID, ip string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM audit_events
			WHERE user_id = $1 AND event_type = 'login' AND success = true AND ip_address = $2
		)
	`

	var seen bool
	if err := r.pool.QueryRow(ctx, query, userID, ip).Scan(&seen); err != nil {
		return false, fmt.Errorf("failed to check ip history: %w", database.MapPostgresError(err))
	}

	return seen, nil
}
