package cache

import (
	"context"
	"time"
)

// Store is the backend contract. One record per key, carrying a typed
// value and an expiration timestamp; expiry is enforced lazily by readers
// and by conditions on writers, never by a background reaper.
type Store interface {
	Driver() Driver

	// Ready reports whether the backend is reachable and provisioned.
	Ready(ctx context.Context) error

	// Prefix returns the key prefix applied by this store instance.
	Prefix() string

	// WithPrefix returns a store scoped to a different prefix. The backend
	// connection and table configuration are shared; in-flight operations
	// on the receiver are unaffected.
	WithPrefix(prefix string) Store

	// Get returns the live value for key. Records at or past their
	// expiration read as absent.
	Get(ctx context.Context, key string) (Value, bool, error)

	// Set unconditionally overwrites key with value for ttl.
	Set(ctx context.Context, key string, value Value, ttl time.Duration) error

	// Add installs value only when no live record exists for key; an
	// expired leftover counts as absent. Returns false, not an error,
	// when a live record is in the way.
	Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error)

	// Increment atomically adds delta to an existing live numeric record
	// and returns the post-update value. It never creates the key: a
	// missing or expired record yields ok=false with a nil error. The
	// record's expiration is left untouched.
	Increment(ctx context.Context, key string, delta int64) (int64, bool, error)

	// Decrement is Increment with the sign applied by the backend
	// expression; delta is a positive magnitude.
	Decrement(ctx context.Context, key string, delta int64) (int64, bool, error)

	// Forever stores value with no practical expiry.
	Forever(ctx context.Context, key string, value Value) error

	// Delete removes key; removing an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes the given keys. Backends without a native
	// multi-delete iterate and stop at the first error.
	DeleteMany(ctx context.Context, keys ...string) error

	// Flush clears every record in this store's scope. Stores whose
	// backend cannot express that return ErrFlushUnsupported.
	Flush(ctx context.Context) error
}

// LockProvider is implemented by stores that can mint distributed locks
// backed by their own conditional-write machinery.
type LockProvider interface {
	// Lock returns a handle for name. ttl bounds how long the lock is
	// held before it can be stolen; ttl == 0 means held until released.
	// An empty owner gets a generated token.
	Lock(name string, ttl time.Duration, owner string) *Lock

	// RestoreLock rebinds a handle to a previously acquired lock using
	// the owner token persisted from the original acquisition.
	RestoreLock(name, owner string) *Lock
}
