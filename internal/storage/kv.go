// Package storage provides the key-value persistence layer and the ledger
// built on top of it. Two KV backends are supported: a command-over-HTTP
// store and a direct Redis connection.
package storage

import "context"

// ZEntry is one member of a sorted set with its score.
type ZEntry struct {
	Member string
	Score  float64
}

// KV is the command surface the ledger needs from a key-value store.
// Get reports missing keys via the bool, not an error.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Incr(ctx context.Context, key string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZAdd(ctx context.Context, key string, entries ...ZEntry) error
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
