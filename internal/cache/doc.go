// Package cache keeps recently fetched fragments in memory.
//
// Fragments are immutable once committed, so entries never go stale; the
// only invalidation happens when a dataset is deleted. ShardedLRU spreads
// keys over independent LRU shards by xxhash so parallel chunk fetches do
// not contend on one mutex. Memory can be charged to a resource.Controller.
package cache
