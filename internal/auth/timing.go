package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls how long a failed login is held before responding.
type TimingConfig struct {
	Floor          time.Duration // minimum total time for a failed attempt
	Jitter         time.Duration // random extra added on top of Floor
	DelayOnSuccess bool
}

// TimingDelay pads failed logins so that "unknown email", "wrong password",
// and "locked" responses are not distinguishable by latency.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// jitter returns a crypto-random duration in [0, max).
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

func (td *TimingDelay) target() time.Duration {
	return td.config.Floor + jitter(td.config.Jitter)
}

// WaitFrom sleeps until at least the target delay has passed since start.
// It returns early when ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
