package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger() (*AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil))), &buf
}

func TestAuditLogger_Log(t *testing.T) {
	al, buf := captureLogger()

	al.Log(context.Background(), AuditEvent{
		EventType: "account_locked",
		UserID:    "user-1",
		Success:   true,
		Reason:    "admin_locked",
		Metadata:  map[string]string{"actor_id": "admin-1"},
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "account_locked", line["event_type"])
	assert.Equal(t, "admin_locked", line["reason"])
	assert.Equal(t, "admin-1", line["meta_actor_id"])
	assert.NotContains(t, line, "ip_address")
}

func TestAuditLogger_LogFailureIsWarn(t *testing.T) {
	al, buf := captureLogger()

	al.Log(context.Background(), AuditEvent{EventType: "login", Success: false})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
}

func TestAuditLogger_LogLockoutDeniedMasksEmail(t *testing.T) {
	al, buf := captureLogger()
	expires := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)

	al.LogLockoutDenied(context.Background(), "alice@example.com", "too_many_attempts", &expires)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "a****@*******.com", line["email"])
	assert.Equal(t, "2026-01-01T12:30:00Z", line["lockout_expires_at"])
}
