package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// AuditEventWriter appends to audit_events.
type AuditEventWriter interface {
	Create(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error)
}

// FailedAttemptWriter appends to failed_login_attempts.
type FailedAttemptWriter interface {
	Record(ctx context.Context, attempt *models.FailedAttempt) error
}

// AuditPublisher forwards stored events to a message broker.
type AuditPublisher interface {
	Publish(ctx context.Context, event *models.AuditEvent) error
}

// AuditService writes the attempt and audit streams. Every write goes to
// the structured log first, then the database, then the broker if one is
// configured.
type AuditService struct {
	events    AuditEventWriter
	attempts  FailedAttemptWriter
	publisher AuditPublisher
	auditLog  *logger.AuditLogger
	clock     Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewAuditService(events AuditEventWriter, attempts FailedAttemptWriter, publisher AuditPublisher, clock Clock, m *metrics.Metrics, log *slog.Logger) *AuditService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AuditService{
		events:    events,
		attempts:  attempts,
		publisher: publisher,
		auditLog:  logger.NewAuditLogger(log),
		clock:     clock,
		metrics:   m,
		logger:    log,
	}
}

// RecordFailedAttempt appends a failure for email. Errors are logged and
// swallowed so a storage outage never blocks the login response.
func (s *AuditService) RecordFailedAttempt(ctx context.Context, email, ipAddress, userAgent string) {
	attempt := &models.FailedAttempt{
		Email:       models.NormalizeEmail(email),
		IPAddress:   optional(ipAddress),
		UserAgent:   optional(userAgent),
		AttemptedAt: s.clock.Now(),
		Success:     false,
	}

	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.metrics.ObserveSideEffectFailure(metrics.SinkDatabase, "record_failed_attempt")
		s.logger.ErrorContext(ctx, "failed to record failed attempt",
			slog.String("email", logger.SanitizedEmail(attempt.Email)),
			slog.Any("error", err),
		)
	}
}

// AppendAuditEvent appends an advisory event. Failures are logged and counted.
func (s *AuditService) AppendAuditEvent(ctx context.Context, eventType models.AuditEventType, userID string, success bool, metadata models.AuditMetadata, ipAddress, userAgent string) {
	_, err := s.Append(ctx, &models.AuditEvent{
		UserID:    optional(userID),
		EventType: eventType,
		Success:   success,
		IPAddress: optional(ipAddress),
		UserAgent: optional(userAgent),
		Metadata:  metadata,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit event",
			slog.String("event_type", string(eventType)),
			slog.Any("error", err),
		)
	}
}

// Append writes event and returns the stored row. Use it where the event is
// the action itself, such as an admin lock; the error is the caller's to
// surface. Broker failures are still only logged.
func (s *AuditService) Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	if !event.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown audit event type %q", models.ErrBadRequest, event.EventType)
	}
	if event.Metadata == nil {
		event.Metadata = models.AuditMetadata{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}

	s.auditLog.Log(ctx, toLogEvent(event))

	stored, err := s.events.Create(ctx, event)
	if err != nil {
		s.metrics.ObserveSideEffectFailure(metrics.SinkDatabase, string(event.EventType))
		return nil, models.NewStorageError("append audit event", err)
	}

	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.publisher.Publish(pubCtx, stored); err != nil {
			s.metrics.ObserveSideEffectFailure(metrics.SinkKafka, string(event.EventType))
			s.logger.WarnContext(ctx, "failed to publish audit event",
				slog.String("event_type", string(event.EventType)),
				slog.Any("error", err),
			)
		}
	}

	return stored, nil
}

func toLogEvent(event *models.AuditEvent) logger.AuditEvent {
	out := logger.AuditEvent{
		EventType: string(event.EventType),
		Success:   event.Success,
		Reason:    event.Reason(),
	}
	if event.UserID != nil {
		out.UserID = *event.UserID
	}
	if event.IPAddress != nil {
		out.IPAddress = *event.IPAddress
	}
	if event.UserAgent != nil {
		out.UserAgent = *event.UserAgent
	}
	for k, v := range event.Metadata {
		if k == models.MetadataReason {
			continue
		}
		if out.Metadata == nil {
			out.Metadata = make(map[string]string, len(event.Metadata))
		}
		out.Metadata[k] = fmt.Sprint(v)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
