// Package lockout derives an identity's current lock state from the
// failed-attempt stream and the admin lock/unlock audit events.
//
// Nothing here touches storage: callers gather Evidence with whatever
// queries suit them (one identity or many) and Derive merges it.
package lockout

import (
	"sort"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultWindow            = 30 * time.Minute
)

// Policy bounds both the failed-attempt count and the lock/unlock lookback.
type Policy struct {
	MaxFailedAttempts int
	Window            time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		Window:            DefaultWindow,
	}
}

// Since is the inclusive lower bound of the lookback window.
func (p Policy) Since(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// Evidence is everything Derive needs for one identity. LastLock and
// LastUnlock are the most recent successful account_locked and
// account_unlocked events; both are nil for unregistered emails.
// Failures may be in any order.
type Evidence struct {
	LastLock   *models.AuditEvent
	LastUnlock *models.AuditEvent
	Failures   []time.Time
}

// Unlocked is the status of an identity with no evidence against it.
func (p Policy) Unlocked() models.LockoutStatus {
	return models.LockoutStatus{RemainingAttempts: p.MaxFailedAttempts}
}

// Derive computes the lock state at now.
//
// An admin lock inside the window wins unless an unlock is strictly newer.
// Otherwise MaxFailedAttempts in-window failures lock the identity until
// the oldest of them leaves the window.
func Derive(ev Evidence, now time.Time, p Policy) models.LockoutStatus {
	since := p.Since(now)

	if lock := inWindow(ev.LastLock, since); lock != nil && lock.Reason() == models.ReasonAdminLocked {
		unlock := inWindow(ev.LastUnlock, since)
		if unlock == nil || !unlock.CreatedAt.After(lock.CreatedAt) {
			expires := lock.CreatedAt.Add(p.Window)
			return models.LockoutStatus{
				IsLocked:          true,
				RemainingAttempts: 0,
				LockoutExpiresAt:  &expires,
				IsAdminLocked:     true,
			}
		}
	}

	failures := recentFailures(ev.Failures, since, p.MaxFailedAttempts)
	if p.MaxFailedAttempts > 0 && len(failures) >= p.MaxFailedAttempts {
		expires := failures[len(failures)-1].Add(p.Window)
		return models.LockoutStatus{
			IsLocked:          true,
			RemainingAttempts: 0,
			LockoutExpiresAt:  &expires,
		}
	}

	remaining := p.MaxFailedAttempts - len(failures)
	if remaining < 0 {
		remaining = 0
	}
	return models.LockoutStatus{RemainingAttempts: remaining}
}

func inWindow(e *models.AuditEvent, since time.Time) *models.AuditEvent {
	if e == nil || !e.Success || e.CreatedAt.Before(since) {
		return nil
	}
	return e
}

// recentFailures returns at most limit failures at or after since, newest first.
func recentFailures(all []time.Time, since time.Time, limit int) []time.Time {
	out := make([]time.Time, 0, len(all))
	for _, t := range all {
		if !t.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
