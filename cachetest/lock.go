package cachetest

import (
	"testing"
	"time"

	"github.com/kvstash/cache"
)

// LockOptions configures the shared lock contract checks.
type LockOptions struct {
	// CaseName namespaces lock names. Defaults to t.Name().
	CaseName string
	// TTL is the expiry used for steal checks. Defaults to one second.
	TTL time.Duration
	// TTLWait bounds how long the harness retries stealing an expired
	// lock. Defaults to TTL plus two seconds.
	TTLWait time.Duration
}

// RunLockContract exercises the distributed-lock behaviors every
// lock-capable store must share: mutual exclusion, owner-checked release,
// handle restoration, forced release and expiry-based stealing. The store
// behind provider must be wired to a live backend.
func RunLockContract(t *testing.T, provider cache.LockProvider, opts LockOptions) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Second
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = ttl + 2*time.Second
	}
	name := func(s string) string {
		return sanitize(caseName) + ":lock:" + s
	}

	// Acquire, ownership queries, contention.
	holder := provider.Lock(name("mutex"), time.Minute, "")
	if holder.Owner() == "" {
		t.Fatalf("empty owner should be replaced with a generated token")
	}
	locked, err := holder.Acquire()
	if err != nil || !locked {
		t.Fatalf("fresh acquire failed: locked=%v err=%v", locked, err)
	}
	if owner, err := holder.CurrentOwner(); err != nil || owner != holder.Owner() {
		t.Fatalf("current owner mismatch: %q vs %q err=%v", owner, holder.Owner(), err)
	}
	if mine, err := holder.OwnedByCurrentProcess(); err != nil || !mine {
		t.Fatalf("expected holder to own the lock: mine=%v err=%v", mine, err)
	}

	rival := provider.Lock(name("mutex"), time.Minute, "")
	locked, err = rival.Acquire()
	if err != nil || locked {
		t.Fatalf("contended acquire should lose: locked=%v err=%v", locked, err)
	}
	if mine, err := rival.OwnedByCurrentProcess(); err != nil || mine {
		t.Fatalf("rival must not report ownership: mine=%v err=%v", mine, err)
	}

	// Release is owner-checked: the rival cannot free the holder's lock.
	released, err := rival.Release()
	if err != nil || released {
		t.Fatalf("wrong-owner release should report false: released=%v err=%v", released, err)
	}
	if owner, err := holder.CurrentOwner(); err != nil || owner != holder.Owner() {
		t.Fatalf("lock lost after wrong-owner release: %q err=%v", owner, err)
	}

	released, err = holder.Release()
	if err != nil || !released {
		t.Fatalf("owner release failed: released=%v err=%v", released, err)
	}
	if owner, err := holder.CurrentOwner(); err != nil || owner != "" {
		t.Fatalf("expected free lock after release: %q err=%v", owner, err)
	}
	released, err = holder.Release()
	if err != nil || released {
		t.Fatalf("double release should report false: released=%v err=%v", released, err)
	}

	// The freed lock is up for grabs.
	locked, err = rival.Acquire()
	if err != nil || !locked {
		t.Fatalf("acquire after release failed: locked=%v err=%v", locked, err)
	}

	// RestoreLock rebinds the same name/owner pair, as another process
	// would after reading the persisted token.
	restored := provider.RestoreLock(name("mutex"), rival.Owner())
	if mine, err := restored.OwnedByCurrentProcess(); err != nil || !mine {
		t.Fatalf("restored handle should own the lock: mine=%v err=%v", mine, err)
	}
	released, err = restored.Release()
	if err != nil || !released {
		t.Fatalf("release through restored handle failed: released=%v err=%v", released, err)
	}

	// ForceRelease frees the lock regardless of owner.
	locked, err = holder.Acquire()
	if err != nil || !locked {
		t.Fatalf("re-acquire failed: locked=%v err=%v", locked, err)
	}
	if err := rival.ForceRelease(); err != nil {
		t.Fatalf("force release failed: %v", err)
	}
	locked, err = rival.Acquire()
	if err != nil || !locked {
		t.Fatalf("acquire after force release failed: locked=%v err=%v", locked, err)
	}
	if _, err := rival.Release(); err != nil {
		t.Fatalf("cleanup release failed: %v", err)
	}

	// An expired lock can be stolen; until then it cannot.
	short := provider.Lock(name("steal"), ttl, "")
	locked, err = short.Acquire()
	if err != nil || !locked {
		t.Fatalf("short acquire failed: locked=%v err=%v", locked, err)
	}
	thief := provider.Lock(name("steal"), time.Minute, "")
	locked, err = waitForAcquire(thief, wait)
	if err != nil || !locked {
		t.Fatalf("expected to steal expired lock: locked=%v err=%v", locked, err)
	}
	// The loser's release must not disturb the thief.
	released, err = short.Release()
	if err != nil || released {
		t.Fatalf("stale handle release should report false: released=%v err=%v", released, err)
	}
	if mine, err := thief.OwnedByCurrentProcess(); err != nil || !mine {
		t.Fatalf("thief lost the lock: mine=%v err=%v", mine, err)
	}
	if _, err := thief.Release(); err != nil {
		t.Fatalf("cleanup release failed: %v", err)
	}

	// Block waits out a short hold.
	holder = provider.Lock(name("block"), time.Minute, "")
	if locked, err := holder.Acquire(); err != nil || !locked {
		t.Fatalf("block holder acquire failed: locked=%v err=%v", locked, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(300 * time.Millisecond)
		_, _ = holder.Release()
	}()
	waiter := provider.Lock(name("block"), time.Minute, "")
	locked, err = waiter.Block(wait, 50*time.Millisecond)
	<-done
	if err != nil || !locked {
		t.Fatalf("block should win once released: locked=%v err=%v", locked, err)
	}
	if _, err := waiter.Release(); err != nil {
		t.Fatalf("cleanup release failed: %v", err)
	}

	// ttl == 0 pins the lock until an explicit release.
	pinned := provider.Lock(name("pinned"), 0, "")
	if locked, err := pinned.Acquire(); err != nil || !locked {
		t.Fatalf("pinned acquire failed: locked=%v err=%v", locked, err)
	}
	intruder := provider.Lock(name("pinned"), time.Minute, "")
	if locked, err := intruder.Acquire(); err != nil || locked {
		t.Fatalf("pinned lock should not be stealable: locked=%v err=%v", locked, err)
	}
	if released, err := pinned.Release(); err != nil || !released {
		t.Fatalf("pinned release failed: released=%v err=%v", released, err)
	}
}

// waitForAcquire retries a non-blocking acquire until it wins or wait
// elapses. Unlike Block it tolerates the contended window before expiry.
func waitForAcquire(l *cache.Lock, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		locked, err := l.Acquire()
		if err != nil || locked {
			return locked, err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return l.Acquire()
}
