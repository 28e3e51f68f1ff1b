package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache is a Provider backed by a SQLite database file.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache opens (and if needed initializes) a cache database in the
// given file. If the filename is empty, a shared in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			requested_at INTEGER,
			received_at INTEGER,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Entries(prefix string) ([]Entry, error) {
	entries := make([]Entry, 0)
	rows, err := s.db.Query(`SELECT
		key, expires, requested_at, received_at, bytes
		FROM cache WHERE key LIKE ?`, prefix+"%")
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry Entry
		var exp, req, rec int64
		if err := rows.Scan(&entry.Key, &exp, &req, &rec, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.Expires = time.Unix(exp, 0)
		entry.RequestedAt = time.Unix(req, 0)
		entry.ReceivedAt = time.Unix(rec, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) Keys(prefix string, cb func(key string)) error {
	rows, err := s.db.Query("SELECT key FROM cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return err
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	// the callback runs with no row cursor open so it may mutate the cache
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s SQLiteCache) Get(key string) ([]byte, bool, error) {
	var expires int64
	var bytes []byte
	err := s.db.QueryRow("SELECT expires, bytes FROM cache WHERE key = ?", key).
		Scan(&expires, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Now().After(time.Unix(expires, 0)) {
		return nil, false, nil
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(key string, expires time.Time, bytes []byte) error {
	// delegate so that the timestamp columns are never left NULL
	return s.PutEntry(Entry{Key: key, Expires: expires, Bytes: bytes})
}

func (s SQLiteCache) PutEntry(entry Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, expires, requested_at, received_at, bytes) VALUES (?, ?, ?, ?, ?)`,
		entry.Key, entry.Expires.Unix(), entry.RequestedAt.Unix(), entry.ReceivedAt.Unix(), entry.Bytes)
	return err
}

func (s SQLiteCache) Oldest(prefix string) (string, time.Time, error) {
	var key string
	var expires int64
	err := s.db.QueryRow(
		"SELECT key, expires FROM cache WHERE key LIKE ? AND expires > 0 ORDER BY expires ASC LIMIT 1",
		prefix+"%",
	).Scan(&key, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return key, time.Unix(expires, 0), nil
}

func (s SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s SQLiteCache) Has(key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM cache WHERE key = ?", key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
