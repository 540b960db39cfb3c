package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCacheOverFullMiddlewareStack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewStore(ctx, StoreConfig{
		Driver:        DriverMemory,
		Compression:   CompressionGzip,
		EncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
	})
	c := NewCache(store)

	if err := c.SetString("stacked", "a value that crosses both wrappers", time.Minute); err != nil {
		t.Fatalf("set through stack failed: %v", err)
	}
	got, ok, err := c.GetString("stacked")
	if err != nil || !ok || got != "a value that crosses both wrappers" {
		t.Fatalf("get through stack: %q ok=%v err=%v", got, ok, err)
	}

	if err := c.SetInt("stacked:n", 10, time.Minute); err != nil {
		t.Fatalf("set int through stack failed: %v", err)
	}
	n, ok, err := c.Increment("stacked:n", 5)
	if err != nil || !ok || n != 15 {
		t.Fatalf("increment through stack: n=%d ok=%v err=%v", n, ok, err)
	}
}

func TestCacheLockThroughMiddlewareChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Shaping wraps encrypting wraps memory. Lock support lives at the
	// bottom and is reached by unwrapping.
	store := NewStore(ctx, StoreConfig{
		Driver:        DriverMemory,
		Compression:   CompressionSnappy,
		EncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
	})
	c := NewCache(store)

	lock, err := c.Lock("chain:job", time.Minute, "worker-1")
	if err != nil {
		t.Fatalf("lock through chain failed: %v", err)
	}
	locked, err := lock.Acquire()
	if err != nil || !locked {
		t.Fatalf("acquire failed: locked=%v err=%v", locked, err)
	}
	released, err := lock.Release()
	if err != nil || !released {
		t.Fatalf("release failed: released=%v err=%v", released, err)
	}
}

func TestCacheLockChainWithoutProvider(t *testing.T) {
	t.Parallel()

	// The chain bottoms out at the null store, which cannot back locks.
	store := newShapingStore(newNullStore(StoreConfig{}), CompressionGzip, 0)
	c := NewCache(store)

	if _, err := c.Lock("x", time.Second, ""); !errors.Is(err, ErrNoLockSupport) {
		t.Fatalf("expected ErrNoLockSupport, got %v", err)
	}
}

func TestLockProviderOfUnwrapsMiddleware(t *testing.T) {
	t.Parallel()

	base := newMemoryStore(StoreConfig{})
	wrapped, err := newEncryptingStore(base, []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("newEncryptingStore failed: %v", err)
	}
	shaped := newShapingStore(wrapped, CompressionGzip, 0)

	provider, ok := lockProviderOf(shaped)
	if !ok {
		t.Fatalf("expected lock provider at the bottom of the chain")
	}
	if provider != LockProvider(base) {
		t.Fatalf("expected the memory store itself as provider")
	}

	if _, ok := lockProviderOf(&spyStore{driver: DriverMemory}); ok {
		t.Fatalf("expected no provider for a stub store")
	}
}

func TestObserverFuncAndErrorStoreDriver(t *testing.T) {
	t.Parallel()

	// Nil ObserverFunc should be a no-op.
	var nilObs ObserverFunc
	nilObs.OnCacheOp(context.Background(), "get", "k", false, nil, 0, DriverMemory)

	called := false
	ObserverFunc(func(ctx context.Context, op, key string, hit bool, err error, dur time.Duration, driver Driver) {
		called = true
		if op != "set" || key != "k" || driver != DriverMemory {
			t.Fatalf("unexpected observer payload")
		}
	}).OnCacheOp(context.Background(), "set", "k", true, nil, time.Millisecond, DriverMemory)
	if !called {
		t.Fatalf("observer func was not called")
	}

	e := &errorStore{driver: DriverRedis, err: errors.New("boom")}
	if got := e.Driver(); got != DriverRedis {
		t.Fatalf("expected driver=%q got=%q", DriverRedis, got)
	}
}

func TestEncryptingStoreFlushDelegates(t *testing.T) {
	t.Parallel()
	base := &spyStore{driver: DriverMemory}
	s, err := newEncryptingStore(base, []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("newEncryptingStore failed: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestCacheWithPrefixKeepsMiddleware(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewStore(ctx, StoreConfig{
		Driver:      DriverMemory,
		Prefix:      "app",
		Compression: CompressionGzip,
	})
	c := NewCache(store)

	scoped := c.WithPrefix("jobs")
	if scoped.Prefix() != "jobs" {
		t.Fatalf("unexpected prefix: %q", scoped.Prefix())
	}
	if err := scoped.SetString("k", "still compressed", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, ok, err := scoped.GetString("k")
	if err != nil || !ok || got != "still compressed" {
		t.Fatalf("get failed: %q ok=%v err=%v", got, ok, err)
	}

	// The rescoped store still unwraps down to lock support.
	if _, err := scoped.Lock("job", time.Second, ""); err != nil {
		t.Fatalf("lock after reprefix failed: %v", err)
	}
}
