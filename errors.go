package cache

import "errors"

var (
	// ErrFlushUnsupported is returned by stores whose backend has no
	// table-wide clear. Callers needing a full wipe must act outside the
	// cache layer (for DynamoDB: delete and recreate the table).
	ErrFlushUnsupported = errors.New("cache: flush is not supported by this store")

	// ErrNotNumeric reports a value that was expected to be numeric but is not.
	ErrNotNumeric = errors.New("cache: value is not numeric")

	// ErrNoLockSupport is returned by lock helpers when the underlying
	// store does not implement LockProvider.
	ErrNoLockSupport = errors.New("cache: store does not support locks")
)
