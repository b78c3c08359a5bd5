package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewRedisCounter(rdb, "gk")
	c.Config(10, time.Minute)
	return c, mr
}

func TestRedisCounter_IncrementAndGet(t *testing.T) {
	c, mr := newCounter(t)

	curr := time.Unix(1_700_000_040, 0)
	prev := curr.Add(-time.Minute)

	require.NoError(t, c.Increment("10.0.0.1", curr))
	require.NoError(t, c.IncrementBy("10.0.0.1", curr, 2))
	require.NoError(t, c.Increment("10.0.0.1", prev))

	gotCurr, gotPrev, err := c.Get("10.0.0.1", curr, prev)
	require.NoError(t, err)
	assert.Equal(t, 3, gotCurr)
	assert.Equal(t, 1, gotPrev)

	assert.Equal(t, 3*time.Minute, mr.TTL(c.windowKey("10.0.0.1", curr)))
}

func TestRedisCounter_MissingKeysReadAsZero(t *testing.T) {
	c, _ := newCounter(t)

	now := time.Now()
	curr, prev, err := c.Get("unknown", now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, curr)
	assert.Zero(t, prev)
}

func TestRedisCounter_WithHTTPRate(t *testing.T) {
	c, _ := newCounter(t)

	limiter := httprate.Limit(2, time.Minute,
		httprate.WithKeyByIP(),
		httprate.WithLimitCounter(c),
	)
	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:4321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
