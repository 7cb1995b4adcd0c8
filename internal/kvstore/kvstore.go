// ABOUTME: TTL key-value store interface for idempotency records and lifecycle events
// ABOUTME: Backed by Redis in deployment or an in-memory store for tests and dev

package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get for absent or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// Store is a small TTL key-value surface. Expired entries behave exactly
// like absent ones.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetNX stores value under key only if the key is absent, returning
	// whether the write happened. Used for idempotency claims.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Append adds an entry to the list stored at key and refreshes its
	// TTL. Used for lifecycle event streams.
	Append(ctx context.Context, key, value string, ttl time.Duration) error
	// List returns all entries of the list stored at key, oldest first.
	// An absent key yields an empty list, not an error.
	List(ctx context.Context, key string) ([]string, error)
	Close() error
}
