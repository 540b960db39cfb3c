package cache

import (
	"context"
	"time"
)

// errorStore is returned when a driver fails to initialize; it preserves the
// driver identity while surfacing the construction error on every call,
// lock operations included.
type errorStore struct {
	driver Driver
	prefix string
	err    error
}

func (e *errorStore) Driver() Driver { return e.driver }

func (e *errorStore) Prefix() string { return e.prefix }

func (e *errorStore) WithPrefix(prefix string) Store {
	return &errorStore{driver: e.driver, prefix: prefix, err: e.err}
}

func (e *errorStore) Ready(context.Context) error { return e.err }

func (e *errorStore) Get(context.Context, string) (Value, bool, error) {
	return Value{}, false, e.err
}

func (e *errorStore) Set(context.Context, string, Value, time.Duration) error {
	return e.err
}

func (e *errorStore) Add(context.Context, string, Value, time.Duration) (bool, error) {
	return false, e.err
}

func (e *errorStore) Increment(context.Context, string, int64) (int64, bool, error) {
	return 0, false, e.err
}

func (e *errorStore) Decrement(context.Context, string, int64) (int64, bool, error) {
	return 0, false, e.err
}

func (e *errorStore) Forever(context.Context, string, Value) error { return e.err }

func (e *errorStore) Delete(context.Context, string) error { return e.err }

func (e *errorStore) DeleteMany(context.Context, ...string) error { return e.err }

func (e *errorStore) Flush(context.Context) error { return e.err }

func (e *errorStore) Lock(name string, ttl time.Duration, owner string) *Lock {
	return newLock(e, name, ttl, owner)
}

func (e *errorStore) RestoreLock(name, owner string) *Lock {
	return restoreLock(e, name, owner)
}

func (e *errorStore) acquireLock(context.Context, string, string, time.Duration) (bool, error) {
	return false, e.err
}

func (e *errorStore) releaseLock(context.Context, string, string) (bool, error) {
	return false, e.err
}

func (e *errorStore) forceReleaseLock(context.Context, string) error { return e.err }

func (e *errorStore) lockOwner(context.Context, string) (string, error) { return "", e.err }
