package models

import "time"

// BlacklistedToken is one revoked bearer credential, keyed by the SHA-256 hex
// of the raw token. ExpiresAt is copied from the token itself; once it passes
// the row is ignored.
type BlacklistedToken struct {
	ID        string    `db:"id"`
	TokenHash string    `db:"token_hash"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	RevokedAt time.Time `db:"revoked_at"`
	Reason    string    `db:"reason"`
}
