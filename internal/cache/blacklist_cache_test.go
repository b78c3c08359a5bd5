package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, opts ...Option) (*BlacklistCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBlacklistCache(rdb, opts...), mr
}

func TestBlacklistCache_Key(t *testing.T) {
	assert.Equal(t, "blacklist:abc", NewBlacklistCache(nil).key("abc"))
	assert.Equal(t, "gk:blacklist:abc", NewBlacklistCache(nil, WithKeyPrefix("gk")).key("abc"))
}

func TestBlacklistCache_RoundTrip(t *testing.T) {
	c, mr := setupMiniredis(t, WithKeyPrefix("gk"))
	ctx := context.Background()
	now := time.Now()

	revoked, err := c.IsRevoked(ctx, "hash-1", now)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, c.MarkRevoked(ctx, "hash-1", now.Add(10*time.Minute), now))

	revoked, err = c.IsRevoked(ctx, "hash-1", now)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, mr.Exists("gk:blacklist:hash-1"))

	ttl := mr.TTL("gk:blacklist:hash-1")
	assert.InDelta(t, (10 * time.Minute).Seconds(), ttl.Seconds(), 1)
}

func TestBlacklistCache_StoredExpiryIsHonoured(t *testing.T) {
	c, _ := setupMiniredis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.MarkRevoked(ctx, "hash-2", now.Add(time.Minute), now))

	revoked, err := c.IsRevoked(ctx, "hash-2", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklistCache_MaxTTL(t *testing.T) {
	c, mr := setupMiniredis(t, WithMaxTTL(time.Minute))
	now := time.Now()

	require.NoError(t, c.MarkRevoked(context.Background(), "hash-3", now.Add(time.Hour), now))
	assert.Equal(t, time.Minute, mr.TTL("blacklist:hash-3"))

	mr.FastForward(2 * time.Minute)
	revoked, err := c.IsRevoked(context.Background(), "hash-3", now)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklistCache_SkipsExpiredTokens(t *testing.T) {
	c, mr := setupMiniredis(t)
	now := time.Now()

	require.NoError(t, c.MarkRevoked(context.Background(), "hash-4", now.Add(-time.Second), now))
	assert.False(t, mr.Exists("blacklist:hash-4"))
}

func TestBlacklistCache_ConnectionError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()
	c := NewBlacklistCache(rdb)

	_, err := c.IsRevoked(context.Background(), "hash", time.Now())
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
