package cache

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/esdm/internal/resource"
)

const defaultShards = 16

// ShardedLRU distributes fragments over independent LRU shards.
type ShardedLRU struct {
	shards []*LRU
}

// NewShardedLRU creates a sharded cache. The capacity is divided evenly
// across shards; shards <= 0 selects the default of 16.
func NewShardedLRU(capacity int64, shards int, rc *resource.Controller) *ShardedLRU {
	if shards <= 0 {
		shards = defaultShards
	}
	shardCapacity := max(capacity/int64(shards), 1)

	s := &ShardedLRU{shards: make([]*LRU, shards)}
	for i := range s.shards {
		s.shards[i] = NewLRU(shardCapacity, rc)
	}
	return s
}

func (s *ShardedLRU) shard(key CacheKey) *LRU {
	d := xxhash.New()
	_, _ = d.WriteString(key.Backend)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key.Key)
	return s.shards[d.Sum64()%uint64(len(s.shards))]
}

// Get returns a cached fragment.
func (s *ShardedLRU) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a fragment.
func (s *ShardedLRU) Set(ctx context.Context, key CacheKey, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes entries matching the predicate from every shard.
func (s *ShardedLRU) Invalidate(predicate func(key CacheKey) bool) {
	for _, sh := range s.shards {
		sh.Invalidate(predicate)
	}
}

// Stats returns aggregated hit/miss statistics.
func (s *ShardedLRU) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *ShardedLRU) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}
