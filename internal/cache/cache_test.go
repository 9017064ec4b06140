package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutBasic(t *testing.T) {
	c := New[string](time.Minute, 10)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestExpiry(t *testing.T) {
	c := New[int](time.Millisecond, 10)
	defer c.Close()
	c.now = func() time.Time { return time.Unix(0, 0) }

	c.Put("k", 42)
	c.now = func() time.Time { return time.Unix(0, 0).Add(2 * time.Millisecond) }

	_, ok := c.Get("k")
	assert.False(t, ok, "entry should be expired")
}

func TestLRUEviction(t *testing.T) {
	c := New[int](time.Minute, 2)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // touch a, making b the LRU entry
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted as least-recently-used")

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := New[int](time.Minute, 10)
	defer c.Close()

	var calls int32
	var wg sync.WaitGroup
	results := make([]int, 20)

	release := make(chan struct{})
	loader := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "shared", loader)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "only one loader should have run")
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestGetOrComputeCacheableSkipsUncacheableValues(t *testing.T) {
	c := New[int](time.Minute, 10)
	defer c.Close()

	var calls int32
	loader := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}
	cacheable := func(v int) bool { return v != 0 }

	_, err := c.GetOrComputeCacheable(context.Background(), "k", loader, cacheable)
	require.NoError(t, err)
	_, err = c.GetOrComputeCacheable(context.Background(), "k", loader, cacheable)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "uncacheable result should not be cached")
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New[int](time.Minute, 10)
	defer c.Close()

	boom := errors.New("boom")
	var calls int32
	loader := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, boom
		}
		return 99, nil
	}

	_, err := c.GetOrCompute(context.Background(), "k", loader)
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute(context.Background(), "k", loader)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
