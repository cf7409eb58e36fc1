package cache

import "context"

// CacheKey identifies one fragment on one backend.
type CacheKey struct {
	Backend string
	Key     string
}

// FragmentCache is a byte-oriented cache for immutable fragments.
// Returned slices must be treated as read-only.
type FragmentCache interface {
	// Get returns a cached fragment. ok=false if missing.
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set caches a fragment. Implementations retain b; callers must not modify it.
	Set(ctx context.Context, key CacheKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key CacheKey) bool)
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
	// Size returns the cached bytes.
	Size() int64
}
