package cache

import (
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	expires     time.Time
	requestedAt time.Time
	receivedAt  time.Time
	bytes       []byte
}

// MemCache is a Provider that keeps everything in process memory.
// It is mainly useful for tests and for caches that may be lost on restart.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]memEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]memEntry),
	}
}

func (m MemCache) Entries(prefix string) ([]Entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]Entry, 0)
	for key, val := range m.db {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, Entry{
				Key:         key,
				Expires:     val.expires,
				RequestedAt: val.requestedAt,
				ReceivedAt:  val.receivedAt,
				Bytes:       val.bytes,
			})
		}
	}
	return entries, nil
}

func (m MemCache) Keys(prefix string, cb func(key string)) error {
	m.mutex.RLock()
	keys := make([]string, 0)
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	// the callback runs outside the lock so it may mutate the cache
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expires) {
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m MemCache) Put(key string, expires time.Time, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = memEntry{expires: expires, bytes: bytes}
	return nil
}

func (m MemCache) PutEntry(entry Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[entry.Key] = memEntry{
		expires:     entry.Expires,
		requestedAt: entry.RequestedAt,
		receivedAt:  entry.ReceivedAt,
		bytes:       entry.Bytes,
	}
	return nil
}

func (m MemCache) Oldest(prefix string) (string, time.Time, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range m.db {
		if !strings.HasPrefix(key, prefix) || entry.expires.IsZero() {
			continue
		}
		if oldestKey == "" || entry.expires.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expires
		}
	}
	return oldestKey, oldestTime, nil
}

func (m MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok
}

func (m MemCache) Close() error {
	return nil
}
