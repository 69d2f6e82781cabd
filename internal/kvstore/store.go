// Package kvstore is the shared mutable state substrate of atendente: thread
// mappings, run locks, tracking cache, notification markers and payment-proof
// flags all live here, so several processes can coordinate through it.
//
// Two implementations are provided: Redis (production) and a SQL table via
// GORM for single-node deployments and tests.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: not found")

// Store is a string key-value store with per-key TTLs and append-only lists.
// A ttl of zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX sets key only if it does not already exist and reports whether
	// the value was written.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value of key with newValue only if its
	// current value equals oldValue. A missing key never matches.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error

	// DelPattern deletes every key matching a glob pattern ("*" and "?")
	// and returns how many keys were removed.
	DelPattern(ctx context.Context, pattern string) (int, error)

	// RPush appends values to the list at key. A positive ttl (re)sets the
	// expiry of the whole list.
	RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error

	// LRange returns list elements between start and stop inclusive. Negative
	// indexes count from the end, as in Redis.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Close() error
}

// GetJSON reads key and decodes its JSON value into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v as JSON and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data), ttl)
}

// rangeBounds converts Redis-style LRANGE indexes into slice bounds for a
// list of length n. ok is false when the range is empty.
func rangeBounds(n int, start, stop int64) (lo, hi int, ok bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}
