package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEventType is the closed set of security events recorded in audit_events.
type AuditEventType string

const (
	AuditEventLogin              AuditEventType = "login"
	AuditEventLogout             AuditEventType = "logout"
	AuditEventSignup             AuditEventType = "signup"
	AuditEventPasswordChange     AuditEventType = "password_change"
	AuditEventAccountLocked      AuditEventType = "account_locked"
	AuditEventAccountUnlocked    AuditEventType = "account_unlocked"
	AuditEventAccountDeleted     AuditEventType = "account_deleted"
	AuditEventAccountRestored    AuditEventType = "account_restored"
	AuditEventTokenRevoked       AuditEventType = "token_revoked"
	AuditEventSessionCreated     AuditEventType = "session_created"
	AuditEventSessionRevoked     AuditEventType = "session_revoked"
	AuditEventNewIPDetected      AuditEventType = "new_ip_detected"
	AuditEventSuspiciousActivity AuditEventType = "suspicious_activity"
	AuditEventRoleChanged        AuditEventType = "role_changed"
)

var auditEventTypes = map[AuditEventType]struct{}{
	AuditEventLogin:              {},
	AuditEventLogout:             {},
	AuditEventSignup:             {},
	AuditEventPasswordChange:     {},
	AuditEventAccountLocked:      {},
	AuditEventAccountUnlocked:    {},
	AuditEventAccountDeleted:     {},
	AuditEventAccountRestored:    {},
	AuditEventTokenRevoked:       {},
	AuditEventSessionCreated:     {},
	AuditEventSessionRevoked:     {},
	AuditEventNewIPDetected:      {},
	AuditEventSuspiciousActivity: {},
	AuditEventRoleChanged:        {},
}

// ParseAuditEventType rejects event types outside the closed set.
func ParseAuditEventType(s string) (AuditEventType, error) {
	t := AuditEventType(s)
	if _, ok := auditEventTypes[t]; !ok {
		return "", fmt.Errorf("%w: unknown audit event type %q", ErrBadRequest, s)
	}
	return t, nil
}

func (t AuditEventType) Valid() bool {
	_, ok := auditEventTypes[t]
	return ok
}

// Metadata keys with meaning to the lockout policy.
const (
	MetadataReason  = "reason"
	MetadataActorID = "actor_id"

	ReasonAdminLocked    = "admin_locked"
	ReasonAdminUnlocked  = "admin_unlocked"
	ReasonAccountLocked  = "account_locked"
	ReasonInvalidCreds   = "invalid_credentials"
	ReasonLogout         = "logout"
	ReasonAdminRevoked   = "admin_revoked"
	ReasonLockoutPending = "lockout_check_failed"
	ReasonRotated        = "rotated"
)

// AuditEvent is one security-relevant occurrence. UserID is nil when the
// event happened before an identity was resolved.
type AuditEvent struct {
	ID        string         `db:"id" json:"id"`
	UserID    *string        `db:"user_id" json:"user_id,omitempty"`
	EventType AuditEventType `db:"event_type" json:"event_type"`
	Success   bool           `db:"success" json:"success"`
	IPAddress *string        `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string        `db:"user_agent" json:"user_agent,omitempty"`
	Metadata  AuditMetadata  `db:"metadata" json:"metadata"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Reason returns metadata["reason"] when it is a string.
func (e *AuditEvent) Reason() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	reason, _ := e.Metadata[MetadataReason].(string)
	return reason
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: unsupported metadata type %T", ErrBadRequest, value)
	}

	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// NewLockMetadata builds the metadata for lock, unlock and revocation events.
// actorID is omitted when the event is system-originated.
func NewLockMetadata(reason string, actorID *string, note string) AuditMetadata {
	m := AuditMetadata{MetadataReason: reason}
	if actorID != nil && *actorID != "" {
		m[MetadataActorID] = *actorID
	}
	if note != "" {
		m["note"] = note
	}
	return m
}
