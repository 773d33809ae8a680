package kv

import (
	"context"
	"time"
)

// Entry is one key/value pair of a batched write
type Entry struct {
	Key   string
	Value string
}

// EntriesFromMap converts a map into batch entries. Map iteration order is
// random, so callers that care about wire order should build entries directly.
func EntriesFromMap(m map[string]string) []Entry {
	entries := make([]Entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	return entries
}

// StringStore holds scalar string values
type StringStore interface {
	// Set overwrites key unconditionally. A positive ttl is applied atomically with the write.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get returns ErrNotFound when the key does not exist
	Get(ctx context.Context, key string) (string, error)
}

// HashStore holds field->value mappings. HashSet replaces the whole hash.
type HashStore interface {
	HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ListStore holds ordered sequences. ListPush replaces the whole list and
// returns its new length.
type ListStore interface {
	ListPush(ctx context.Context, key string, values []string, ttl time.Duration) (int64, error)
	ListGetAll(ctx context.Context, key string) ([]string, error)
}

// SetStore holds unordered unique members. SetAdd replaces the whole set and
// returns the number of distinct members written.
type SetStore interface {
	SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int64, error)
	SetGetAll(ctx context.Context, key string) ([]string, error)
}

// SortedSetStore holds members ordered by score, ties broken by member.
type SortedSetStore interface {
	// SortedSetAdd replaces the whole sorted set and returns the number of members written
	SortedSetAdd(ctx context.Context, key string, members map[string]float64, ttl time.Duration) (int64, error)
	// SortedSetRange returns members by rank, inclusive. Negative indexes count from the end.
	SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// SortedSetRangeByScore returns members with min <= score <= max
	SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
}

// KeyStore holds shape-independent key operations
type KeyStore interface {
	// Delete returns the number of keys removed (0 or 1)
	Delete(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// BatchWriter submits many string writes as one round trip
type BatchWriter interface {
	// BatchSet preserves the order of entries on the wire and reports
	// failure of the batch as a single error
	BatchSet(ctx context.Context, entries []Entry) error
}

// Store defines the full typed cache facade
type Store interface {
	StringStore
	HashStore
	ListStore
	SetStore
	SortedSetStore
	KeyStore
	BatchWriter

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}

// Scanner is implemented by stores that can enumerate their keyspace
type Scanner interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
}
