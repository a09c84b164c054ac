// Package kvcache wraps a BadgerDB key/value store used for token
// revocation marks and other short-lived state. Entries carry a TTL and
// expire on their own; the store is treated as advisory and callers
// degrade gracefully when it is unavailable.
package kvcache

import (
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bobmcallan/depot/internal/common"
)

// Cache is a TTL-aware key/value store backed by BadgerDB.
type Cache struct {
	db     *badger.DB
	logger *common.Logger
}

// Open initialises the cache at path. An empty path opens an in-memory
// store, which tests use.
func Open(path string, logger *common.Logger) (*Cache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("path", path).Msg("Key/value cache opened")
	return &Cache{db: db, logger: logger}, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Set stores value under key with the given TTL. A zero TTL means the
// entry never expires.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// SetIfAbsent stores value under key only when no live entry exists,
// reporting whether the write happened. Check and write share one
// transaction, so concurrent callers cannot both win.
func (c *Cache) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	var set bool
	err := c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		set = true
		return nil
	})
	return set, err
}

// Get returns the value for key, or (nil, false, nil) when the key is
// absent or expired.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Has reports whether key exists and has not expired.
func (c *Cache) Has(key string) (bool, error) {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ScanPrefix returns all live keys starting with prefix. Values are not
// loaded.
func (c *Cache) ScanPrefix(prefix string) ([]string, error) {
	var keys []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}
