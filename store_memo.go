package cache

import (
	"context"
	"sync"
	"time"
)

type memoEntry struct {
	value Value
	ok    bool
}

// NewMemoStore decorates store with per-process read memoization. Repeated
// gets for a key are served from memory until a write through this store
// invalidates them; writes from other processes stay invisible until then,
// and so does the backend TTL: a memoized hit keeps answering after the
// record expires behind it. Use it for read-heavy keys whose lifetime is
// bounded by the process, not for records whose expiry must be observed
// promptly.
// @group Memoization
//
// Example: memoize a backing store
//
//	ctx := context.Background()
//	base := cache.NewMemoryStore(ctx)
//	memoStore := cache.NewMemoStore(base)
//	c := cache.NewCache(memoStore)
//	_ = c
func NewMemoStore(store Store) Store {
	return &memoStore{
		store: store,
		items: make(map[string]memoEntry),
	}
}

type memoStore struct {
	store Store
	mu    sync.RWMutex
	items map[string]memoEntry
}

// Unwrap exposes the decorated store so capability probes can walk the
// wrapper chain.
func (s *memoStore) Unwrap() Store { return s.store }

func (s *memoStore) Driver() Driver { return s.store.Driver() }

func (s *memoStore) Prefix() string { return s.store.Prefix() }

// WithPrefix returns a memoized view of the re-scoped store. The memo table
// starts empty; entries are not shared across views.
func (s *memoStore) WithPrefix(prefix string) Store {
	return NewMemoStore(s.store.WithPrefix(prefix))
}

func (s *memoStore) Ready(ctx context.Context) error {
	return s.store.Ready(ctx)
}

func (s *memoStore) Get(ctx context.Context, key string) (Value, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return entry.value, entry.ok, nil
	}

	value, exists, err := s.store.Get(ctx, key)
	if err != nil {
		return Value{}, false, err
	}

	s.mu.Lock()
	s.items[key] = memoEntry{value: value, ok: exists}
	s.mu.Unlock()

	return value, exists, nil
}

func (s *memoStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	if err := s.store.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	s.forget(key)
	return nil
}

func (s *memoStore) Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	created, err := s.store.Add(ctx, key, value, ttl)
	if err != nil {
		return false, err
	}
	if created {
		s.forget(key)
	}
	return created, nil
}

func (s *memoStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	value, ok, err := s.store.Increment(ctx, key, delta)
	if err != nil {
		return 0, false, err
	}
	if ok {
		s.forget(key)
	}
	return value, ok, nil
}

func (s *memoStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	value, ok, err := s.store.Decrement(ctx, key, delta)
	if err != nil {
		return 0, false, err
	}
	if ok {
		s.forget(key)
	}
	return value, ok, nil
}

func (s *memoStore) Forever(ctx context.Context, key string, value Value) error {
	if err := s.store.Forever(ctx, key, value); err != nil {
		return err
	}
	s.forget(key)
	return nil
}

func (s *memoStore) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.forget(key)
	return nil
}

func (s *memoStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := s.store.DeleteMany(ctx, keys...); err != nil {
		return err
	}
	s.mu.Lock()
	for _, key := range keys {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *memoStore) Flush(ctx context.Context) error {
	if err := s.store.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = make(map[string]memoEntry)
	s.mu.Unlock()
	return nil
}

func (s *memoStore) forget(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}
