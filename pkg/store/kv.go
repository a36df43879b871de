package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has lapsed.
var ErrNotFound = errors.New("store: key not found")

// KV is the persistent key/value surface every pipeline component runs
// on. It stands in for the host's options/transients API: plain values,
// optional TTLs, and prefix listing in ascending key order (insertion
// order falls out of the sortable key schemes callers use).
//
// No component touches a storage backend directly; injecting KV keeps an
// in-memory fake usable in tests.
type KV interface {
	Get(key string) (string, error)
	Set(key string, value []byte) error
	// SetTTL stores a value that disappears after ttl. A non-positive
	// ttl behaves like Set.
	SetTTL(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	// ListKeys returns all live keys with the given prefix in ascending
	// order. An empty prefix lists everything.
	ListKeys(prefix string) ([]string, error)
}
