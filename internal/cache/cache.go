// Package cache implements the persistent content-addressed store for
// analysis results. Keys are derived from normalized bytecode plus a mode tag
// (pkg/abi); values are the canonical binary encoding of abi.Contract.
//
// The store is a durable memoization layer, not an LRU: entries are never
// evicted, a re-put overwrites, and the only way to empty it is an explicit
// Clear. All methods are safe for concurrent use; bbolt provides the
// transaction isolation, no external locking is required.
package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/gateway-fm/abicached/pkg/abi"
)

// FileName is the single backing-store file created inside the cache
// directory.
const FileName = "abi_cache.db"

// EnvCacheDir overrides the platform-default cache directory.
const EnvCacheDir = "ABICACHED_CACHE_DIR"

var bucketContracts = []byte("contracts")

// Cache is a bbolt-backed content-addressed store.
type Cache struct {
	db       *bolt.DB
	counters *Counters
	logger   *slog.Logger
}

// Config for opening a Cache.
type Config struct {
	Dir    string // Cache directory (default: DefaultDir())
	Logger *slog.Logger
}

// DefaultDir returns the cache directory: the EnvCacheDir environment
// variable if set, otherwise a subdirectory of the platform cache directory.
func DefaultDir() (string, error) {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "abicached"), nil
}

// Open opens (or creates) the cache at the configured directory. A failure
// here is fatal to the caller; once open, read-path failures degrade to
// misses instead of propagating.
func Open(cfg Config) (*Cache, error) {
	dir := cfg.Dir
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketContracts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache store: %w", err)
	}

	return &Cache{
		db:       db,
		counters: &Counters{},
		logger:   logger,
	}, nil
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Exists reports whether an entry for (bytecode, skipResolving) is present.
// Any storage-layer failure counts as an error and reads as a miss: a
// degraded cache means "always recompute", never pipeline failure.
func (c *Cache) Exists(bytecode string, skipResolving bool) bool {
	key := abi.CacheKey(bytecode, skipResolving)

	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContracts)
		if b == nil {
			return nil
		}
		found = b.Get(key) != nil
		return nil
	})
	if err != nil {
		c.counters.errors.Add(1)
		c.logger.Warn("cache existence check failed", "error", err)
		return false
	}

	if found {
		c.counters.hits.Add(1)
	} else {
		c.counters.misses.Add(1)
	}
	return found
}

// Get retrieves and decodes the stored value, if present. The pipeline never
// needs this (existence is sufficient); it serves the inspect surface and
// external consumers.
func (c *Cache) Get(bytecode string, skipResolving bool) (*abi.Contract, bool, error) {
	key := abi.CacheKey(bytecode, skipResolving)

	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContracts)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		c.counters.errors.Add(1)
		return nil, false, fmt.Errorf("cache read: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	contract, err := abi.Unmarshal(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached value: %w", err)
	}
	return contract, true, nil
}

// Put serializes and writes one entry in a single transaction. Serialization
// or storage failures are surfaced; the caller decides whether they are fatal.
func (c *Cache) Put(bytecode string, skipResolving bool, value *abi.Contract) error {
	serialized, err := abi.Marshal(value)
	if err != nil {
		return fmt.Errorf("serialize value: %w", err)
	}

	key := abi.CacheKey(bytecode, skipResolving)
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContracts).Put(key, serialized)
	})
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}

	c.counters.writes.Add(1)
	return nil
}

// BatchItem is one entry of a PutBatch call.
type BatchItem struct {
	Bytecode      string
	SkipResolving bool
	Value         *abi.Contract
}

// PutBatch writes many entries in one transaction for amortized commit cost.
// The batch is all-or-nothing: no item is durably cached unless the whole
// transaction commits.
func (c *Cache) PutBatch(items []BatchItem) error {
	type encoded struct {
		key   []byte
		value []byte
	}
	pending := make([]encoded, 0, len(items))
	for i, item := range items {
		serialized, err := abi.Marshal(item.Value)
		if err != nil {
			return fmt.Errorf("serialize batch item %d: %w", i, err)
		}
		pending = append(pending, encoded{
			key:   abi.CacheKey(item.Bytecode, item.SkipResolving),
			value: serialized,
		})
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContracts)
		for _, e := range pending {
			if err := b.Put(e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache batch write: %w", err)
	}

	c.counters.writes.Add(uint64(len(pending)))
	return nil
}

// Clear empties the store and resets all counters. The bucket swap happens in
// one transaction, so concurrent readers see either the old contents or an
// empty store, never a partial state.
func (c *Cache) Clear() error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketContracts); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketContracts)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	c.counters.Reset()
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketContracts); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache stats: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of the running counters.
func (c *Cache) Stats() Stats {
	return c.counters.Snapshot()
}

// Summary formats the counters as a single human-readable line.
func (c *Cache) Summary() string {
	s := c.counters.Snapshot()
	total := s.Hits + s.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache: %d hits, %d misses (%.1f%% hit rate), %d writes, %d errors",
		s.Hits, s.Misses, hitRate, s.Writes, s.Errors)
}
