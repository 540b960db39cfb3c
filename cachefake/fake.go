// Package cachefake provides a deterministic in-memory cache with call
// assertions, for testing code that depends on the cache facade without a
// backend.
package cachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kvstash/cache"
)

// Op identifies a cache operation for assertions.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpAdd        Op = "add"
	OpInc        Op = "inc"
	OpDec        Op = "dec"
	OpForever    Op = "forever"
	OpDelete     Op = "delete"
	OpDeleteMany Op = "delete_many"
	OpFlush      Op = "flush"
)

// Fake exposes a deterministic in-memory store plus assertion helpers.
// It wraps the memory store, so no external services are needed and lock
// operations work through the facade.
type Fake struct {
	cache  *cache.Cache
	counts map[Op]map[string]int
	mu     sync.Mutex
}

// New creates a Fake using an in-memory store.
func New() *Fake {
	store := &countingStore{inner: cache.NewMemoryStore(context.Background())}
	f := &Fake{
		cache:  cache.NewCache(store),
		counts: make(map[Op]map[string]int),
	}
	store.onCount = f.record
	return f
}

// Cache returns the cache facade to inject into code under test.
func (f *Fake) Cache() *cache.Cache { return f.cache }

// Reset clears recorded counts. Stored records are kept.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		return 0
	}
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

func (f *Fake) record(op Op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
}

// countingStore wraps a Store to record calls. Lock operations are not
// counted; the facade reaches the inner store's lock support via Unwrap.
type countingStore struct {
	inner   cache.Store
	onCount func(Op, string)
}

func (s *countingStore) Driver() cache.Driver { return s.inner.Driver() }

func (s *countingStore) Ready(ctx context.Context) error { return s.inner.Ready(ctx) }

func (s *countingStore) Prefix() string { return s.inner.Prefix() }

func (s *countingStore) WithPrefix(prefix string) cache.Store {
	return &countingStore{inner: s.inner.WithPrefix(prefix), onCount: s.onCount}
}

// Unwrap exposes the inner store for capability discovery.
func (s *countingStore) Unwrap() cache.Store { return s.inner }

func (s *countingStore) Get(ctx context.Context, key string) (cache.Value, bool, error) {
	s.bump(OpGet, key)
	return s.inner.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, value cache.Value, ttl time.Duration) error {
	s.bump(OpSet, key)
	return s.inner.Set(ctx, key, value, ttl)
}

func (s *countingStore) Add(ctx context.Context, key string, value cache.Value, ttl time.Duration) (bool, error) {
	s.bump(OpAdd, key)
	return s.inner.Add(ctx, key, value, ttl)
}

func (s *countingStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	s.bump(OpInc, key)
	return s.inner.Increment(ctx, key, delta)
}

func (s *countingStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	s.bump(OpDec, key)
	return s.inner.Decrement(ctx, key, delta)
}

func (s *countingStore) Forever(ctx context.Context, key string, value cache.Value) error {
	s.bump(OpForever, key)
	return s.inner.Forever(ctx, key, value)
}

func (s *countingStore) Delete(ctx context.Context, key string) error {
	s.bump(OpDelete, key)
	return s.inner.Delete(ctx, key)
}

func (s *countingStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		s.bump(OpDeleteMany, k)
	}
	return s.inner.DeleteMany(ctx, keys...)
}

func (s *countingStore) Flush(ctx context.Context) error {
	s.bump(OpFlush, "")
	return s.inner.Flush(ctx)
}

func (s *countingStore) bump(op Op, key string) {
	if s.onCount != nil {
		s.onCount(op, key)
	}
}
