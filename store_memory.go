package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryLockRecord marks a lock row in the shared cache. Reads through the
// cache API surface the owner token as opaque bytes, the same shape lock
// rows have in the table-backed drivers.
type memoryLockRecord struct {
	owner string
}

type memoryStore struct {
	cache  *gocache.Cache
	prefix string

	// mu serializes counter read-modify-write cycles and lock ops; it is
	// shared by pointer across WithPrefix views of the same cache.
	mu *sync.Mutex
}

func newMemoryStore(cfg StoreConfig) *memoryStore {
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	cleanup := cfg.MemoryCleanupInterval
	if cleanup <= 0 {
		cleanup = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		cache:  gocache.New(defaultTTL, cleanup),
		prefix: cfg.Prefix,
		mu:     &sync.Mutex{},
	}
}

func (s *memoryStore) Driver() Driver { return DriverMemory }

func (s *memoryStore) Prefix() string { return s.prefix }

func (s *memoryStore) WithPrefix(prefix string) Store {
	clone := *s
	clone.prefix = prefix
	return &clone
}

func (s *memoryStore) Ready(context.Context) error { return nil }

func (s *memoryStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *memoryStore) Get(_ context.Context, key string) (Value, bool, error) {
	item, ok := s.cache.Get(s.cacheKey(key))
	if !ok {
		return Value{}, false, nil
	}
	switch v := item.(type) {
	case Value:
		return v, true, nil
	case memoryLockRecord:
		return BytesValue([]byte(v.owner)), true, nil
	default:
		return Value{}, false, nil
	}
}

func (s *memoryStore) Set(_ context.Context, key string, value Value, ttl time.Duration) error {
	if value.IsAbsent() {
		return errAbsentValue
	}
	if ttl <= 0 {
		// A non-positive ttl writes an already-dead record; in memory the
		// observable effect is simply that the key is gone.
		s.cache.Delete(s.cacheKey(key))
		return nil
	}
	s.cache.Set(s.cacheKey(key), value, ttl)
	return nil
}

func (s *memoryStore) Add(_ context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	if value.IsAbsent() {
		return false, errAbsentValue
	}
	if ttl <= 0 {
		// A winning add with a non-positive ttl produces an already-dead
		// record, same as the table-backed drivers.
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, held := s.cache.Get(s.cacheKey(key)); held {
			return false, nil
		}
		s.cache.Delete(s.cacheKey(key))
		return true, nil
	}
	if err := s.cache.Add(s.cacheKey(key), value, ttl); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *memoryStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, delta)
}

func (s *memoryStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, -delta)
}

// adjust mirrors the conditional-update drivers: it refuses missing and
// expired keys instead of creating them, and preserves the remaining ttl.
func (s *memoryStore) adjust(_ context.Context, key string, delta int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, expiresAt, ok := s.cache.GetWithExpiration(s.cacheKey(key))
	if !ok {
		return 0, false, nil
	}
	value, ok := item.(Value)
	if !ok {
		return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
	}
	current, ok := value.Int()
	if !ok {
		return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
	}

	next := current + delta
	remaining := gocache.NoExpiration
	if !expiresAt.IsZero() {
		remaining = time.Until(expiresAt)
		if remaining <= 0 {
			return 0, false, nil
		}
	}
	s.cache.Set(s.cacheKey(key), IntValue(next), remaining)
	return next, true, nil
}

func (s *memoryStore) Forever(_ context.Context, key string, value Value) error {
	if value.IsAbsent() {
		return errAbsentValue
	}
	s.cache.Set(s.cacheKey(key), value, gocache.NoExpiration)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(s.cacheKey(key))
	return nil
}

func (s *memoryStore) DeleteMany(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(s.cacheKey(key))
	}
	return nil
}

// Flush clears only this store's scope. WithPrefix views share one cache,
// so a prefixed flush walks the live items and removes its own keys; with
// no prefix the whole cache goes, same as the table-backed drivers.
func (s *memoryStore) Flush(context.Context) error {
	if s.prefix == "" {
		s.cache.Flush()
		return nil
	}
	scope := s.prefix + ":"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, scope) {
			s.cache.Delete(key)
		}
	}
	return nil
}

// Lock returns a handle for an in-process mutex with the same surface as
// the distributed drivers, which keeps tests and local development honest.
func (s *memoryStore) Lock(name string, ttl time.Duration, owner string) *Lock {
	return newLock(s, name, ttl, owner)
}

// RestoreLock rebuilds a handle around a previously issued owner token.
func (s *memoryStore) RestoreLock(name, owner string) *Lock {
	return restoreLock(s, name, owner)
}

func (s *memoryStore) acquireLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.cache.Get(s.cacheKey(name)); held {
		return false, nil
	}
	expiry := ttl
	if ttl <= 0 {
		expiry = gocache.NoExpiration
	}
	s.cache.Set(s.cacheKey(name), memoryLockRecord{owner: owner}, expiry)
	return true, nil
}

func (s *memoryStore) releaseLock(_ context.Context, name, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(s.cacheKey(name))
	if !ok {
		return false, nil
	}
	record, ok := item.(memoryLockRecord)
	if !ok || record.owner != owner {
		return false, nil
	}
	s.cache.Delete(s.cacheKey(name))
	return true, nil
}

func (s *memoryStore) forceReleaseLock(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(s.cacheKey(name))
	return nil
}

func (s *memoryStore) lockOwner(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(s.cacheKey(name))
	if !ok {
		return "", nil
	}
	record, ok := item.(memoryLockRecord)
	if !ok {
		return "", nil
	}
	return record.owner, nil
}
