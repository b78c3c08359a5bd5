package models

import (
	"strings"
	"time"
)

// FailedAttempt represents one unsuccessful authentication try.
// Rows are append-only; only an admin unlock or maintenance deletes them.
type FailedAttempt struct {
	ID          string    `db:"id"`
	Email       string    `db:"email"`
	IPAddress   *string   `db:"ip_address"`
	UserAgent   *string   `db:"user_agent"`
	AttemptedAt time.Time `db:"attempted_at"`
	Success     bool      `db:"success"`
}

// NormalizeEmail case-folds and trims an email so lookups match regardless of input casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
