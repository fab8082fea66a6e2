// Package cache stores query results keyed by string.
package cache

import (
	"context"
)

// Cache defines the interface for the result cache implementations.
// The generic type T represents the value being cached.
type Cache[T any] interface {
	// Get retrieves a value from the cache.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value in the cache.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a value from the cache. Removing an absent key is
	// not an error.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
