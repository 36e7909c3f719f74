// Package cacher provides read-through caches with stampede protection. The
// peer resolver uses them to remember reverse DNS answers, in process memory
// or shared through Redis between several server instances.
package cacher

import (
	"context"
	"sync/atomic"
	"time"
)

// FetchFunc loads a value from its source on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T by string key. Implementations are safe for
// concurrent use and run at most one fetch per key at a time.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn and caches
	// its result for ttl. Fetch errors are returned and never cached.
	//
	// Parameters:
	//   - ctx: Bounds the wait for the value, including a fetch in progress
	//   - key: The cache key
	//   - ttl: Lifetime of a freshly fetched value
	//   - fetchFn: Loads the value on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the cache or the fetch failed
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes one key.
	Delete(ctx context.Context, key string) error

	// Clear removes every key owned by this cache.
	Clear(ctx context.Context) error

	// Len returns the number of cached keys.
	Len(ctx context.Context) (int, error)

	// Stats returns hit and miss counters since creation.
	Stats() Stats
}

// Stats counts cache lookups.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

type counters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (c *counters) hit()  { c.hits.Add(1) }
func (c *counters) miss() { c.misses.Add(1) }

func (c *counters) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
