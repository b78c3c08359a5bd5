package services

import "time"

// Clock supplies "now" for lockout and blacklist decisions.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Used to pin time in tests
// and to make a batch resolution consistent across identities.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
