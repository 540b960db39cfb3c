package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newLockTestStore(t *testing.T) (*dynamoStore, *time.Time) {
	t.Helper()
	return newTestDynamoStore(t, newDynamoStub())
}

func TestLockAcquireAndRelease(t *testing.T) {
	store, _ := newLockTestStore(t)

	lock := store.Lock("job:acquire", 10*time.Second, "")
	if lock.Owner() == "" {
		t.Fatalf("empty owner should be replaced with a generated token")
	}
	other := store.Lock("job:acquire", 10*time.Second, "")
	if other.Owner() == lock.Owner() {
		t.Fatalf("generated owners should differ")
	}

	locked, err := lock.Acquire()
	if err != nil || !locked {
		t.Fatalf("expected acquire success, locked=%v err=%v", locked, err)
	}
	locked, err = other.Acquire()
	if err != nil || locked {
		t.Fatalf("expected contention miss, locked=%v err=%v", locked, err)
	}

	released, err := lock.Release()
	if err != nil || !released {
		t.Fatalf("release failed: released=%v err=%v", released, err)
	}
	released, err = lock.Release()
	if err != nil || released {
		t.Fatalf("second release should report false, got released=%v err=%v", released, err)
	}

	locked, err = other.Acquire()
	if err != nil || !locked {
		t.Fatalf("expected acquire after release, locked=%v err=%v", locked, err)
	}
}

func TestLockExpiryBoundaryAndSteal(t *testing.T) {
	store, clock := newLockTestStore(t)

	holder := store.Lock("job:steal", 10*time.Second, "")
	if locked, err := holder.Acquire(); err != nil || !locked {
		t.Fatalf("holder acquire failed: locked=%v err=%v", locked, err)
	}

	// At the exact expiry instant acquisition still loses: stealing needs
	// the deadline strictly in the past.
	*clock = clock.Add(10 * time.Second)
	thief := store.Lock("job:steal", 10*time.Second, "")
	if locked, err := thief.Acquire(); err != nil || locked {
		t.Fatalf("steal at expiry instant must lose: locked=%v err=%v", locked, err)
	}

	*clock = clock.Add(time.Second)
	if locked, err := thief.Acquire(); err != nil || !locked {
		t.Fatalf("steal after expiry must win: locked=%v err=%v", locked, err)
	}

	// The original handle lost the lock and must not be able to release
	// the thief's.
	released, err := holder.Release()
	if err != nil || released {
		t.Fatalf("stale handle release must report false: released=%v err=%v", released, err)
	}
	owner, err := thief.CurrentOwner()
	if err != nil || owner != thief.Owner() {
		t.Fatalf("thief should still hold the lock: owner=%q err=%v", owner, err)
	}
}

func TestLockForceRelease(t *testing.T) {
	store, _ := newLockTestStore(t)

	holder := store.Lock("job:force", time.Minute, "")
	if locked, _ := holder.Acquire(); !locked {
		t.Fatalf("holder acquire failed")
	}

	other := store.Lock("job:force", time.Minute, "")
	if err := other.ForceRelease(); err != nil {
		t.Fatalf("force release failed: %v", err)
	}
	if locked, err := other.Acquire(); err != nil || !locked {
		t.Fatalf("acquire after force release: locked=%v err=%v", locked, err)
	}
}

func TestLockOwnershipQueries(t *testing.T) {
	store, _ := newLockTestStore(t)

	lock := store.Lock("job:owner", time.Minute, "worker-1")
	if lock.Owner() != "worker-1" {
		t.Fatalf("explicit owner should be kept, got %q", lock.Owner())
	}

	owner, err := lock.CurrentOwner()
	if err != nil || owner != "" {
		t.Fatalf("free lock should have no owner: %q err=%v", owner, err)
	}
	owned, err := lock.OwnedByCurrentProcess()
	if err != nil || owned {
		t.Fatalf("free lock should not be owned: owned=%v err=%v", owned, err)
	}

	if locked, _ := lock.Acquire(); !locked {
		t.Fatalf("acquire failed")
	}
	owner, err = lock.CurrentOwner()
	if err != nil || owner != "worker-1" {
		t.Fatalf("current owner after acquire: %q err=%v", owner, err)
	}
	owned, err = lock.OwnedByCurrentProcess()
	if err != nil || !owned {
		t.Fatalf("holder should own the lock: owned=%v err=%v", owned, err)
	}

	other := store.Lock("job:owner", time.Minute, "worker-2")
	owned, err = other.OwnedByCurrentProcess()
	if err != nil || owned {
		t.Fatalf("bystander must not own the lock: owned=%v err=%v", owned, err)
	}
}

func TestLockRestoreReleasesAcrossHandles(t *testing.T) {
	store, _ := newLockTestStore(t)

	original := store.Lock("job:restore", time.Minute, "")
	if locked, _ := original.Acquire(); !locked {
		t.Fatalf("acquire failed")
	}

	// Another process rebuilds the handle from the persisted token and can
	// release on the original's behalf.
	restored := store.RestoreLock("job:restore", original.Owner())
	owned, err := restored.OwnedByCurrentProcess()
	if err != nil || !owned {
		t.Fatalf("restored handle should own the lock: owned=%v err=%v", owned, err)
	}
	released, err := restored.Release()
	if err != nil || !released {
		t.Fatalf("restored release failed: released=%v err=%v", released, err)
	}
	owner, err := original.CurrentOwner()
	if err != nil || owner != "" {
		t.Fatalf("lock should be free after restored release: %q err=%v", owner, err)
	}
}

func TestLockZeroTTLHeldUntilReleased(t *testing.T) {
	store, clock := newLockTestStore(t)

	pinned := store.Lock("job:pinned", 0, "")
	if locked, _ := pinned.Acquire(); !locked {
		t.Fatalf("acquire failed")
	}

	*clock = clock.Add(365 * 24 * time.Hour)
	other := store.Lock("job:pinned", time.Minute, "")
	if locked, err := other.Acquire(); err != nil || locked {
		t.Fatalf("zero ttl lock must not expire: locked=%v err=%v", locked, err)
	}

	if released, _ := pinned.Release(); !released {
		t.Fatalf("release failed")
	}
	if locked, err := other.Acquire(); err != nil || !locked {
		t.Fatalf("acquire after release: locked=%v err=%v", locked, err)
	}
}

func TestLockGetAutoReleasesOnSuccessAndError(t *testing.T) {
	store, _ := newLockTestStore(t)

	lock := store.Lock("job:get", time.Minute, "")
	var calls atomic.Int64
	locked, err := lock.Get(func() error {
		calls.Add(1)
		return nil
	})
	if err != nil || !locked {
		t.Fatalf("expected get callback success, locked=%v err=%v", locked, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected callback call count 1, got %d", calls.Load())
	}
	if owner, _ := lock.CurrentOwner(); owner != "" {
		t.Fatalf("lock should be released after callback, owner=%q", owner)
	}

	expected := errors.New("boom")
	locked, err = lock.Get(func() error {
		calls.Add(1)
		return expected
	})
	if !locked || !errors.Is(err, expected) {
		t.Fatalf("expected callback error propagation, locked=%v err=%v", locked, err)
	}
	if owner, _ := lock.CurrentOwner(); owner != "" {
		t.Fatalf("lock should be released after callback error, owner=%q", owner)
	}
}

func TestLockGetSkipsCallbackWhenContended(t *testing.T) {
	store, _ := newLockTestStore(t)

	holder := store.Lock("job:busy", time.Minute, "")
	if locked, _ := holder.Acquire(); !locked {
		t.Fatalf("holder acquire failed")
	}

	getter := store.Lock("job:busy", time.Minute, "")
	var calls atomic.Int64
	locked, err := getter.Get(func() error {
		calls.Add(1)
		return nil
	})
	if err != nil || locked {
		t.Fatalf("expected contention miss, locked=%v err=%v", locked, err)
	}
	if calls.Load() != 0 {
		t.Fatalf("callback must not run without the lock")
	}
}

func TestLockNilCallbackValidation(t *testing.T) {
	store, _ := newLockTestStore(t)

	lock := store.Lock("job:nil", time.Minute, "")
	locked, err := lock.Get(nil)
	if err == nil || !locked {
		t.Fatalf("expected nil callback error after acquire, locked=%v err=%v", locked, err)
	}
	if owner, _ := lock.CurrentOwner(); owner != "" {
		t.Fatalf("lock should auto-release on nil callback, owner=%q", owner)
	}
}

func TestLockBlockWaitsForRelease(t *testing.T) {
	store, _ := newLockTestStore(t)

	holder := store.Lock("job:block", 0, "")
	if locked, _ := holder.Acquire(); !locked {
		t.Fatalf("holder acquire failed")
	}

	go func() {
		time.Sleep(40 * time.Millisecond)
		_, _ = holder.Release()
	}()

	waiter := store.Lock("job:block", time.Minute, "")
	locked, err := waiter.Block(time.Second, 5*time.Millisecond)
	if err != nil || !locked {
		t.Fatalf("expected block acquire success, locked=%v err=%v", locked, err)
	}
	if released, _ := waiter.Release(); !released {
		t.Fatalf("waiter should hold a releasable lock")
	}
}

func TestLockBlockTimesOut(t *testing.T) {
	store, _ := newLockTestStore(t)

	holder := store.Lock("job:block:timeout", 0, "")
	if locked, _ := holder.Acquire(); !locked {
		t.Fatalf("holder acquire failed")
	}

	waiter := store.Lock("job:block:timeout", time.Minute, "")
	start := time.Now()
	locked, err := waiter.Block(50*time.Millisecond, 10*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil || locked {
		t.Fatalf("expected quiet timeout, locked=%v err=%v", locked, err)
	}
	if elapsed < 40*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("unexpected block timeout timing: %v", elapsed)
	}
}

func TestLockBlockCtxCancelled(t *testing.T) {
	store, _ := newLockTestStore(t)

	holder := store.Lock("job:block:ctx", 0, "")
	if locked, _ := holder.Acquire(); !locked {
		t.Fatalf("holder acquire failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waiter := store.Lock("job:block:ctx", time.Minute, "")
	locked, err := waiter.BlockCtx(ctx, 5*time.Millisecond)
	if err != nil || locked {
		t.Fatalf("cancelled block should report false quietly, locked=%v err=%v", locked, err)
	}
}

func TestLockRecordReadsAsOpaqueValue(t *testing.T) {
	store, _ := newLockTestStore(t)

	lock := store.Lock("job:visible", time.Minute, "owner-token")
	if locked, _ := lock.Acquire(); !locked {
		t.Fatalf("acquire failed")
	}

	// Lock rows live in the same table; a cache read sees the owner token
	// as an opaque value rather than an error.
	v, ok, err := store.Get(context.Background(), "job:visible")
	if err != nil || !ok {
		t.Fatalf("lock record should be readable: ok=%v err=%v", ok, err)
	}
	if v.Kind() != KindBytes || string(v.Bytes()) != "owner-token" {
		t.Fatalf("lock record should surface as opaque bytes: kind=%v val=%q", v.Kind(), v.Bytes())
	}
}
