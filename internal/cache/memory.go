package cache

import (
	"context"
	"errors"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-memory cache implementation using otter. Entries are
// bounded by count and expire a fixed time after they were last written.
type Memory[T any] struct {
	cache   *otter.Cache[string, T]
	counter *stats.Counter
}

// MemoryOption configures a Memory cache.
type MemoryOption[T any] func(*otter.Options[string, T])

// WithEvictionHandler registers fn to be called after the cache drops an
// entry on its own, either to stay within its size bound or because the entry
// expired. Explicit invalidation and replacement are not reported. The
// handler runs asynchronously.
func WithEvictionHandler[T any](fn func(key string, value T)) MemoryOption[T] {
	return func(o *otter.Options[string, T]) {
		o.OnDeletion = func(e otter.DeletionEvent[string, T]) {
			if e.WasEvicted() {
				fn(e.Key, e.Value)
			}
		}
	}
}

// NewMemory creates a new in-memory cache with the specified TTL and max size.
func NewMemory[T any](ttl time.Duration, maxSize int, opts ...MemoryOption[T]) (*Memory[T], error) {
	if ttl <= 0 {
		return nil, errors.New("cache TTL must be positive")
	}
	if maxSize <= 0 {
		return nil, errors.New("cache size must be positive")
	}

	counter := stats.NewCounter()
	options := &otter.Options[string, T]{
		MaximumSize:      maxSize,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryWriting[string, T](ttl),
	}
	for _, opt := range opts {
		opt(options)
	}

	cache, err := otter.New(options)
	if err != nil {
		return nil, err
	}

	return &Memory[T]{
		cache:   cache,
		counter: counter,
	}, nil
}

// Get retrieves a value from the cache.
// Returns the value, whether it was found, and any error.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	return value, ok, nil
}

// Set stores a value in the cache, restarting its expiry.
func (m *Memory[T]) Set(ctx context.Context, key string, value T) error {
	m.cache.Set(key, value)
	return nil
}

// Invalidate removes a value from the cache.
func (m *Memory[T]) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Stats returns the hit and miss counts recorded since creation.
func (m *Memory[T]) Stats() stats.Stats {
	return m.counter.Snapshot()
}

// Close drops all entries.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
