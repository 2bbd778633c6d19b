// Package store provides the durable persistence abstraction the engine
// builds its cache, lock, and event stream on top of. Implementations range
// from a broker-backed driver (Redis) to an embedded single-process driver
// (sqlite or mysql over database/sql) to a pure in-memory driver for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and HGet when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Store is the key/value, stream, and set abstraction the engine's Cache
// and Lock are built on. All operations are safe for concurrent use.
//
// Keys are opaque strings; the engine owns the key-space convention
// (execution:*, result:*, heartbeat:*, executions:active, dlq:*, lock:*) described in
// spec.md §4.2 and §6.4 — Store itself has no opinion about key shape.
type Store interface {
	// Get returns the raw value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key. If ttl > 0 the key expires after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error

	// SetIfAbsent stores value at key only if key does not currently hold a
	// value, returning true if the write happened. Used by Lock.Acquire.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// GetAndDeleteIf deletes key only if its current value equals
	// expectedValue, returning true if the delete happened. Used by
	// Lock.Release to ensure only the current owner can release.
	GetAndDeleteIf(ctx context.Context, key string, expectedValue []byte) (bool, error)

	// HSet stores field within the hash at key.
	HSet(ctx context.Context, key, field string, value []byte) error
	// HGet returns the value of field within the hash at key, or ErrNotFound.
	HGet(ctx context.Context, key, field string) ([]byte, error)
	// HGetAll returns every field/value pair in the hash at key.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// StreamAppend appends value to the stream at key, trimming to maxLen
	// entries when maxLen > 0.
	StreamAppend(ctx context.Context, key string, value []byte, maxLen int64) error
	// StreamRange returns up to limit entries from the stream at key in
	// append order, starting after cursor (empty cursor means from the
	// start). It returns the cursor to resume from for the next call.
	StreamRange(ctx context.Context, key, cursor string, limit int64) (entries [][]byte, nextCursor string, err error)

	// SAdd adds member to the set at key.
	SAdd(ctx context.Context, key, member string) error
	// SRem removes member from the set at key.
	SRem(ctx context.Context, key, member string) error
	// SMembers returns every member of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Expire sets or refreshes the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// DistributedSafe reports whether this Store instance can back a Lock
	// shared across multiple processes. Embedded single-process drivers
	// return false. Engine does not read this flag and logs no warning.
	DistributedSafe() bool

	// Close releases any held resources (connections, file handles).
	Close() error
}
