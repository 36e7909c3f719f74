package cacher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) (string, error) {
		fetches++
		return "mail.example.org", nil
	}

	name, err := c.GetOrFetch(ctx, "192.0.2.1", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.org", name)

	name, err = c.GetOrFetch(ctx, "192.0.2.1", time.Minute, func(context.Context) (string, error) {
		return "", errors.New("must not be called")
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.example.org", name)

	assert.Equal(t, 1, fetches)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestMemoryCacher_GetOrFetch_ErrorNotCached(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()
	lookupErr := errors.New("servfail")

	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) {
		return "", lookupErr
	})
	assert.ErrorIs(t, err, lookupErr)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	v, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestMemoryCacher_GetOrFetch_Expiry(t *testing.T) {
	c := NewMemoryCacher[int](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		return int(fetches.Add(1)), nil
	}

	v, err := c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	time.Sleep(40 * time.Millisecond)
	v, err = c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMemoryCacher_GetOrFetch_DefaultTTL(t *testing.T) {
	c := NewMemoryCacher[int](20*time.Millisecond, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, "k", 0, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	v, err := c.GetOrFetch(ctx, "k", 0, func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMemoryCacher_GetOrFetch_Singleflight(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		fetches.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
			if err == nil {
				results[i] = v
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestMemoryCacher_GetOrFetch_CallerGivesUp(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
			<-release
			return "late", nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) {
		return "unused", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done

	// The slow fetch still populated the cache.
	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestMemoryCacher_DeleteClearLen(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := c.GetOrFetch(ctx, k, time.Minute, func(context.Context) (string, error) { return k, nil })
		require.NoError(t, err)
	}

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "missing"))
	n, _ = c.Len(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Clear(ctx))
	n, _ = c.Len(ctx)
	assert.Zero(t, n)
}

func TestMemoryCacher_CancelledContext(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Delete(ctx, "k"), context.Canceled)
	assert.ErrorIs(t, c.Clear(ctx), context.Canceled)
	_, err := c.Len(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
