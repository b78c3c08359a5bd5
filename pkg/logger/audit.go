package logger

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// AuditEvent is the structured-log half of an audit write. The database row
// is written separately; this line survives a database outage.
type AuditEvent struct {
	EventType string
	UserID    string
	IPAddress string
	UserAgent string
	Success   bool
	Reason    string
	Metadata  map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log writes one audit line: info on success, warn on failure.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("meta_"+k, event.Metadata[k]))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLockoutDenied records a login refused because the identity is locked.
// The email is masked.
func (al *AuditLogger) LogLockoutDenied(ctx context.Context, email, reason string, expiresAt *time.Time) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lockout"),
		slog.String("email", SanitizedEmail(email)),
		slog.String("reason", reason),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if expiresAt != nil {
		attrs = append(attrs, slog.String("lockout_expires_at", expiresAt.UTC().Format(time.RFC3339)))
	}

	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
}
