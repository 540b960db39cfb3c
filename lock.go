package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// defaultLockRetryInterval is the pause between acquisition attempts when
// blocking on a contended lock and the caller did not choose an interval.
const defaultLockRetryInterval = 250 * time.Millisecond

// lockBackend is the store-side contract behind Lock. Every method maps to
// one conditional write or one read, so correctness never depends on
// client-side state.
type lockBackend interface {
	acquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	releaseLock(ctx context.Context, name, owner string) (bool, error)
	forceReleaseLock(ctx context.Context, name string) error
	lockOwner(ctx context.Context, name string) (string, error)
}

// Lock is a handle on a distributed mutex stored alongside cache records.
//
// A lock is a record whose value is an owner token. Acquisition is the same
// conditional write as Add, so a lock can be stolen once its ttl elapses.
// Release only deletes the record while the token still matches, which makes
// it safe to call after expiry: a handle that lost the lock cannot release a
// newer holder.
//
// Handles are stateless. The same name/owner pair can be rebuilt in another
// process with RestoreLock and released there.
//
// @group Locking
type Lock struct {
	backend lockBackend
	name    string
	owner   string
	ttl     time.Duration
}

func newLock(b lockBackend, name string, ttl time.Duration, owner string) *Lock {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &Lock{backend: b, name: name, owner: owner, ttl: ttl}
}

func restoreLock(b lockBackend, name, owner string) *Lock {
	return &Lock{backend: b, name: name, owner: owner}
}

// Owner returns the token identifying this handle. Persist it when a lock
// must survive the process, then rebuild the handle with RestoreLock.
// @group Locking
func (l *Lock) Owner() string { return l.owner }

// Name returns the lock name as given, without any store prefix.
// @group Locking
func (l *Lock) Name() string { return l.name }

// Acquire attempts to take the lock once (non-blocking).
//
// A ttl of zero acquires the lock without expiry; it then remains held
// until released.
// @group Locking
//
// Example: single acquire attempt
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	lock, _ := c.Lock("job:sync", 10*time.Second, "")
//	locked, err := lock.Acquire()
//	fmt.Println(err == nil, locked) // true true
//	if locked {
//		_, _ = lock.Release()
//	}
func (l *Lock) Acquire() (bool, error) {
	return l.AcquireCtx(context.Background())
}

// AcquireCtx is the context-aware variant of Acquire.
// @group Locking
func (l *Lock) AcquireCtx(ctx context.Context) (bool, error) {
	return l.backend.acquireLock(ctx, l.name, l.owner, l.ttl)
}

// Release gives the lock up if this handle still owns it. It reports false
// when the record is gone or has been re-acquired by another owner; the
// other holder's lock is left untouched.
// @group Locking
//
// Example: release a held lock
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	lock, _ := c.Lock("job:sync", 10*time.Second, "")
//	if locked, _ := lock.Acquire(); locked {
//		released, _ := lock.Release()
//		fmt.Println(released) // true
//	}
func (l *Lock) Release() (bool, error) {
	return l.ReleaseCtx(context.Background())
}

// ReleaseCtx is the context-aware variant of Release.
// @group Locking
func (l *Lock) ReleaseCtx(ctx context.Context) (bool, error) {
	return l.backend.releaseLock(ctx, l.name, l.owner)
}

// ForceRelease deletes the lock record regardless of who owns it. Reserve
// it for operator tooling; normal code paths should use Release.
// @group Locking
func (l *Lock) ForceRelease() error {
	return l.ForceReleaseCtx(context.Background())
}

// ForceReleaseCtx is the context-aware variant of ForceRelease.
// @group Locking
func (l *Lock) ForceReleaseCtx(ctx context.Context) error {
	return l.backend.forceReleaseLock(ctx, l.name)
}

// CurrentOwner reads the owner token currently holding the lock, or ""
// when the lock is free.
// @group Locking
func (l *Lock) CurrentOwner() (string, error) {
	return l.CurrentOwnerCtx(context.Background())
}

// CurrentOwnerCtx is the context-aware variant of CurrentOwner.
// @group Locking
func (l *Lock) CurrentOwnerCtx(ctx context.Context) (string, error) {
	return l.backend.lockOwner(ctx, l.name)
}

// OwnedByCurrentProcess reports whether the lock is held by this handle's
// owner token.
// @group Locking
func (l *Lock) OwnedByCurrentProcess() (bool, error) {
	return l.OwnedByCurrentProcessCtx(context.Background())
}

// OwnedByCurrentProcessCtx is the context-aware variant of
// OwnedByCurrentProcess.
// @group Locking
func (l *Lock) OwnedByCurrentProcessCtx(ctx context.Context) (bool, error) {
	owner, err := l.backend.lockOwner(ctx, l.name)
	if err != nil {
		return false, err
	}
	return owner == l.owner, nil
}

// Get acquires the lock once, runs fn if acquired, then releases it.
// @group Locking
//
// Example: acquire once and auto-release
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	lock, _ := c.Lock("job:sync", 10*time.Second, "")
//	locked, err := lock.Get(func() error {
//		// do protected work
//		return nil
//	})
//	fmt.Println(err == nil, locked) // true true
func (l *Lock) Get(fn func() error) (bool, error) {
	return l.GetCtx(context.Background(), func(context.Context) error {
		if fn == nil {
			return errors.New("cache lock requires a callback")
		}
		return fn()
	})
}

// GetCtx is the context-aware variant of Get.
// @group Locking
func (l *Lock) GetCtx(ctx context.Context, fn func(context.Context) error) (bool, error) {
	locked, err := l.AcquireCtx(ctx)
	if err != nil || !locked {
		return locked, err
	}
	defer func() { _, _ = l.ReleaseCtx(ctx) }()
	if fn == nil {
		return true, errors.New("cache lock requires a callback")
	}
	return true, fn(ctx)
}

// Block retries acquisition until it succeeds or timeout elapses. On true
// the lock is held and the caller must release it.
//
// retryInterval <= 0 falls back to the default retry interval.
// @group Locking
//
// Example: wait for a contended lock
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	lock, _ := c.Lock("job:sync", 10*time.Second, "")
//	locked, err := lock.Block(500*time.Millisecond, 25*time.Millisecond)
//	fmt.Println(err == nil, locked) // true true
//	if locked {
//		_, _ = lock.Release()
//	}
func (l *Lock) Block(timeout, retryInterval time.Duration) (bool, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.BlockCtx(ctx, retryInterval)
}

// BlockCtx retries acquisition until it succeeds or ctx is done. Expiring
// the context reports false with a nil error; other failures propagate.
// @group Locking
func (l *Lock) BlockCtx(ctx context.Context, retryInterval time.Duration) (bool, error) {
	if retryInterval <= 0 {
		retryInterval = defaultLockRetryInterval
	}
	for {
		locked, err := l.AcquireCtx(ctx)
		if err != nil {
			// Give up quietly when the deadline cut the attempt off.
			if ctx.Err() != nil {
				return false, nil
			}
			return false, err
		}
		if locked {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(retryInterval):
		}
	}
}
