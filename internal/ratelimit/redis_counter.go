// Package ratelimit provides a Redis-backed httprate.LimitCounter so the
// per-IP limiter is shared across instances.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

var _ httprate.LimitCounter = (*RedisCounter)(nil)

// RedisCounter stores one integer per (key, window start). Keys live for
// three windows so the sliding estimate can still read the previous one.
type RedisCounter struct {
	client       redis.Cmdable
	keyPrefix    string
	windowLength time.Duration
	timeout      time.Duration
}

func NewRedisCounter(client redis.Cmdable, keyPrefix string) *RedisCounter {
	return &RedisCounter{
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   100 * time.Millisecond,
	}
}

func (c *RedisCounter) Config(requestLimit int, windowLength time.Duration) {
	c.windowLength = windowLength
}

func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	k := c.windowKey(key, currentWindow)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, k, int64(amount))
		pipe.Expire(ctx, k, 3*c.windowLength)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment rate counter: %w", err)
	}
	return nil
}

func (c *RedisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	values, err := c.client.MGet(ctx, c.windowKey(key, currentWindow), c.windowKey(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read rate counters: %w", err)
	}

	curr, err := toInt(values[0])
	if err != nil {
		return 0, 0, err
	}
	prev, err := toInt(values[1])
	if err != nil {
		return 0, 0, err
	}
	return curr, prev, nil
}

func (c *RedisCounter) windowKey(key string, window time.Time) string {
	return fmt.Sprintf("%s:httprate:%s:%d", c.keyPrefix, key, window.Unix())
}

// MGET yields nil for a missing key and a string otherwise.
func toInt(v interface{}) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("parse rate counter: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected rate counter type %T", v)
	}
}
