package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var _ Cacher[string] = (*MemoryCacher[string])(nil)

// MemoryCacher keeps values in process memory using go-cache. Concurrent
// misses on the same key share one fetch through singleflight.
type MemoryCacher[T any] struct {
	counters
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cache.
//
// Parameters:
//   - defaultExpiration: TTL used when GetOrFetch is called with ttl 0
//     (cache.NoExpiration keeps such values forever)
//   - cleanupInterval: How often expired items are purged
//
// Returns:
//   - A new MemoryCacher
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(defaultExpiration, cleanupInterval),
	}
}

// GetOrFetch implements Cacher. A caller whose ctx ends while another
// caller's fetch is in flight returns ctx.Err(); the fetch itself continues
// and still populates the cache.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		c.hit()
		return v, nil
	}
	c.miss()

	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the key while we queued.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		if ttl == 0 {
			ttl = cache.DefaultExpiration
		}
		c.cache.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected type %T cached for key %s", res.Val, key)
		}
		return v, nil
	}
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	if raw, found := c.cache.Get(key); found {
		if v, ok := raw.(T); ok {
			return v, true
		}
	}

	var zero T
	return zero, false
}

// Delete implements Cacher.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// Clear implements Cacher.
func (c *MemoryCacher[T]) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Flush()
	return nil
}

// Len implements Cacher. Expired items not yet purged are counted.
func (c *MemoryCacher[T]) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}
