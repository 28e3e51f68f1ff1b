// Package cache stores and retrieves cached HTTP responses as raw bytes.
package cache

import "time"

// Provider is an interface for a cache backend.
// It stores and retrieves []byte values, which represent HTTP responses.
// It also keeps track of expiration times of cache entries.
// Operating on specific keys or origin-specific prefixes is very important
// in order for many origins to be able to be stored in the same cache.
//
// Implementations must be thread-safe!
type Provider interface {
	// Entries returns all cache entries that have the given key prefix.
	Entries(prefix string) ([]Entry, error)
	// Keys calls the given callback for each key with the given prefix.
	// It calls the callback in order to enable very large lists of keys
	// to be processable (an implementation might use paging, for instance).
	// The callback may itself read and write the cache: implementations
	// must not hold locks or cursors across callback invocations.
	Keys(prefix string, cb func(key string)) error
	// Get returns the cached bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was
	// successful: a missing entry or one past its expiration time is
	// reported as (nil, false, nil), not as an error.
	Get(key string) ([]byte, bool, error)
	// Put stores the given bytes in the cache under the given key,
	// along with an expiration time for the entry.
	Put(key string, expires time.Time, bytes []byte) error
	// PutEntry stores a complete entry, timestamps included.
	PutEntry(Entry) error
	// Oldest returns the key and expiration time of the oldest entry
	// with the given key prefix. The oldest entry is the one with the
	// earliest expiration time; entries with a zero expiration time are
	// not considered. If there is no such entry, the key is empty.
	Oldest(prefix string) (string, time.Time, error)
	// Purge removes the cache entry for the given key.
	Purge(key string) error
	// Has checks if the given key exists in the cache, expired or not.
	Has(key string) bool
	// Close releases the resources held by the provider.
	Close() error
}

// Entry is one cached response together with its bookkeeping.
// RequestedAt and ReceivedAt record when the cached response was requested
// from and received from the origin; age calculation needs both.
type Entry struct {
	Key         string
	Expires     time.Time
	RequestedAt time.Time
	ReceivedAt  time.Time
	Bytes       []byte
}
