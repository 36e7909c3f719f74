package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockWait is returned when another instance held the fetch lock for a
// key and the value never appeared.
var ErrLockWait = errors.New("cache value not populated by lock holder")

const (
	defaultLockTTL = 10 * time.Second
	minLockBackoff = 10 * time.Millisecond
	maxLockBackoff = 250 * time.Millisecond
	scanBatch      = 256
	lockSuffix     = ":lock"
)

var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var _ Cacher[string] = (*RedisCacher[string])(nil)

// RedisCacher stores JSON-encoded values in Redis under a key prefix, so
// several server instances share lookups. A short SETNX lock per key keeps
// concurrent misses across instances down to one fetch.
type RedisCacher[T any] struct {
	counters
	client  redis.UniversalClient
	prefix  string
	lockTTL time.Duration
}

// NewRedisCacher creates a Redis-backed cache.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	names := NewRedisCacher[string](client, "connserver:rdns:", 0)
//
// Parameters:
//   - client: A connected client, cluster client or ring
//   - prefix: Prepended to every key; Clear and Len only touch this prefix
//   - lockTTL: Upper bound on one fetch; 0 selects 10s
//
// Returns:
//   - A new RedisCacher
func NewRedisCacher[T any](client redis.UniversalClient, prefix string, lockTTL time.Duration) *RedisCacher[T] {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &RedisCacher[T]{client: client, prefix: prefix, lockTTL: lockTTL}
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	full := c.prefix + key

	v, found, err := c.get(ctx, full)
	if err != nil {
		return zero, err
	}
	if found {
		c.hit()
		return v, nil
	}
	c.miss()

	lockKey := full + lockSuffix
	token := strconv.FormatInt(time.Now().UnixNano(), 36)
	acquired, err := c.client.SetNX(ctx, lockKey, token, c.lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("redis lock %s: %w", key, err)
	}

	if !acquired {
		return c.waitFor(ctx, full, lockKey)
	}

	defer releaseLock.Run(context.Background(), c.client, []string{lockKey}, token)

	v, err = fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", key, err)
	}

	if err := c.client.Set(ctx, full, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("redis set %s: %w", key, err)
	}

	return v, nil
}

func (c *RedisCacher[T]) get(ctx context.Context, full string) (T, bool, error) {
	var v T

	raw, err := c.client.Get(ctx, full).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("redis get %s: %w", full, err)
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", full, err)
	}

	return v, true, nil
}

// waitFor polls until the lock holder stores the value, gives up the lock,
// or ctx ends.
func (c *RedisCacher[T]) waitFor(ctx context.Context, full, lockKey string) (T, error) {
	var zero T

	backoff := minLockBackoff
	for {
		v, found, err := c.get(ctx, full)
		if err != nil {
			return zero, err
		}
		if found {
			return v, nil
		}

		n, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("redis exists %s: %w", lockKey, err)
		}
		if n == 0 {
			// The holder may have stored the value right before unlocking.
			if v, found, err := c.get(ctx, full); err == nil && found {
				return v, nil
			}
			return zero, ErrLockWait
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxLockBackoff)
	}
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}

	return nil
}

// Clear implements Cacher. Only keys under the prefix are removed, so the
// database may be shared with other data.
func (c *RedisCacher[T]) Clear(ctx context.Context) error {
	keys, err := c.keys(ctx)
	if err != nil {
		return err
	}

	for len(keys) > 0 {
		n := min(len(keys), scanBatch)
		if err := c.client.Unlink(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("redis unlink: %w", err)
		}
		keys = keys[n:]
	}

	return nil
}

// Len implements Cacher. Fetch locks are not counted.
func (c *RedisCacher[T]) Len(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, k := range keys {
		if !strings.HasSuffix(k, lockSuffix) {
			n++
		}
	}
	return n, nil
}

func (c *RedisCacher[T]) keys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := c.client.Scan(ctx, 0, c.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", c.prefix, err)
	}

	return keys, nil
}
