package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Body      []byte
	FetchedAt time.Time
}

func TestNewMemory_InvalidBounds(t *testing.T) {
	_, err := NewMemory[payload](0, 100)
	assert.Error(t, err)

	_, err = NewMemory[payload](time.Minute, 0)
	assert.Error(t, err)
}

func TestMemoryGet_NotFound(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[payload](time.Minute, 100)
	require.NoError(t, err)

	value, found, err := cache.Get(ctx, "nonexistent")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, payload{}, value)
}

func TestMemorySetAndGet_Success(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[payload](time.Minute, 100)
	require.NoError(t, err)

	expected := payload{
		Body:      []byte(`[{"id":1,"name":"Acme"}]`),
		FetchedAt: time.Now(),
	}

	err = cache.Set(ctx, "customers", expected)
	require.NoError(t, err)

	value, found, err := cache.Get(ctx, "customers")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expected, value)
}

func TestMemoryInvalidate_RemovesValue(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[payload](time.Minute, 100)
	require.NoError(t, err)

	err = cache.Set(ctx, "customers", payload{Body: []byte(`[]`)})
	require.NoError(t, err)

	err = cache.Invalidate(ctx, "customers")
	require.NoError(t, err)

	_, found, err := cache.Get(ctx, "customers")
	assert.NoError(t, err)
	assert.False(t, found)

	// invalidating a missing key is harmless
	assert.NoError(t, cache.Invalidate(ctx, "customers"))
}

func TestMemoryClose_DropsEntries(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[payload](time.Minute, 100)
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "a", payload{}))
	require.NoError(t, cache.Set(ctx, "b", payload{}))
	require.NoError(t, cache.Close())

	_, found, _ := cache.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = cache.Get(ctx, "b")
	assert.False(t, found)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	// Use very short TTL for testing
	cache, err := NewMemory[payload](100*time.Millisecond, 100)
	require.NoError(t, err)

	err = cache.Set(ctx, "customers", payload{Body: []byte(`[]`)})
	require.NoError(t, err)

	// Verify value is present immediately
	_, found, err := cache.Get(ctx, "customers")
	assert.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(150 * time.Millisecond)

	// Verify value is no longer present
	_, found, err = cache.Get(ctx, "customers")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStats_CountsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[payload](time.Minute, 100)
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "customers", payload{Body: []byte(`[]`)}))

	_, _, _ = cache.Get(ctx, "customers")
	_, _, _ = cache.Get(ctx, "customers")
	_, _, _ = cache.Get(ctx, "vendors")

	snapshot := cache.Stats()
	assert.Equal(t, uint64(2), snapshot.Hits)
	assert.Equal(t, uint64(1), snapshot.Misses)
}

func TestMemoryEvictionHandler_ReportsOverflow(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	evicted := map[string]bool{}

	cache, err := NewMemory[payload](time.Minute, 2, WithEvictionHandler[payload](func(key string, _ payload) {
		mu.Lock()
		defer mu.Unlock()
		evicted[key] = true
	}))
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("customer/%d", i), payload{}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) >= 8
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryEvictionHandler_IgnoresExplicitRemoval(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	cache, err := NewMemory[payload](time.Minute, 100, WithEvictionHandler[payload](func(string, payload) {
		calls.Add(1)
	}))
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "customers", payload{Body: []byte(`[]`)}))
	require.NoError(t, cache.Set(ctx, "customers", payload{Body: []byte(`[{}]`)}))
	require.NoError(t, cache.Invalidate(ctx, "customers"))

	assert.Never(t, func() bool { return calls.Load() > 0 }, 200*time.Millisecond, 10*time.Millisecond)
}
