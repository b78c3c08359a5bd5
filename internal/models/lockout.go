package models

import "time"

// LockoutStatus is derived on every call from the failed-attempt and audit
// streams. Nothing about it is persisted.
type LockoutStatus struct {
	IsLocked          bool       `json:"is_locked"`
	RemainingAttempts int        `json:"remaining_attempts"`
	LockoutExpiresAt  *time.Time `json:"lockout_expires_at,omitempty"`
	IsAdminLocked     bool       `json:"is_admin_locked"`
}

// LockoutReason is the stable, enumerable reason surfaced to a locked-out caller.
type LockoutReason string

const (
	LockoutReasonNone            LockoutReason = ""
	LockoutReasonAdminLocked     LockoutReason = "admin_locked"
	LockoutReasonTooManyAttempts LockoutReason = "too_many_attempts"
)

func (s LockoutStatus) Reason() LockoutReason {
	switch {
	case !s.IsLocked:
		return LockoutReasonNone
	case s.IsAdminLocked:
		return LockoutReasonAdminLocked
	default:
		return LockoutReasonTooManyAttempts
	}
}

// RetryAfter is the time left until an automatic lock ages out. Zero for
// admin locks and for unlocked identities.
func (s LockoutStatus) RetryAfter(now time.Time) time.Duration {
	if !s.IsLocked || s.IsAdminLocked || s.LockoutExpiresAt == nil {
		return 0
	}
	if d := s.LockoutExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LockoutIdentity is one row of a batch lockout lookup.
type LockoutIdentity struct {
	ID    string
	Email string
}
