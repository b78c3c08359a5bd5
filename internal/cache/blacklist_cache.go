// Package cache holds a Redis read-through layer in front of the token
// blacklist table. Only positive entries are cached: a token can become
// revoked at any moment, but once revoked it stays revoked until expiry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type BlacklistCache struct {
	client    redis.Cmdable
	keyPrefix string
	maxTTL    time.Duration
}

type Option func(*BlacklistCache)

func WithKeyPrefix(prefix string) Option {
	return func(c *BlacklistCache) {
		c.keyPrefix = prefix
	}
}

// WithMaxTTL caps how long an entry may live regardless of token expiry.
func WithMaxTTL(ttl time.Duration) Option {
	return func(c *BlacklistCache) {
		c.maxTTL = ttl
	}
}

func NewBlacklistCache(client redis.Cmdable, opts ...Option) *BlacklistCache {
	c := &BlacklistCache{client: client}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BlacklistCache) key(tokenHash string) string {
	if c.keyPrefix == "" {
		return "blacklist:" + tokenHash
	}
	return c.keyPrefix + ":blacklist:" + tokenHash
}

// MarkRevoked caches a revocation until the token would expire anyway.
// Tokens already past expiry are not cached.
func (c *BlacklistCache) MarkRevoked(ctx context.Context, tokenHash string, expiresAt, now time.Time) error {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	if err := c.client.Set(ctx, c.key(tokenHash), expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("cache revoked token: %w", err)
	}
	return nil
}

// IsRevoked reports a cached revocation. A miss says nothing; callers must
// fall back to the database.
func (c *BlacklistCache) IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	expiresUnix, err := c.client.Get(ctx, c.key(tokenHash)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read revoked token: %w", err)
	}
	return time.Unix(expiresUnix, 0).After(now), nil
}

// Ping is used by the health endpoint.
func (c *BlacklistCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
