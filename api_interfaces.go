package cache

import (
	"context"
	"time"
)

// CoreAPI exposes cache metadata and readiness.
type CoreAPI interface {
	Driver() Driver
	Prefix() string
	Ready() error
	ReadyCtx(ctx context.Context) error
}

// ReadAPI exposes read-oriented cache operations.
type ReadAPI interface {
	Get(key string) (Value, bool, error)
	GetCtx(ctx context.Context, key string) (Value, bool, error)
	GetBytes(key string) ([]byte, bool, error)
	GetBytesCtx(ctx context.Context, key string) ([]byte, bool, error)
	GetString(key string) (string, bool, error)
	GetStringCtx(ctx context.Context, key string) (string, bool, error)
	GetInt(key string) (int64, bool, error)
	GetIntCtx(ctx context.Context, key string) (int64, bool, error)
	GetFloat(key string) (float64, bool, error)
	GetFloatCtx(ctx context.Context, key string) (float64, bool, error)
	BatchGet(keys ...string) (map[string]Value, error)
	BatchGetCtx(ctx context.Context, keys ...string) (map[string]Value, error)
	Pull(key string) (Value, bool, error)
	PullCtx(ctx context.Context, key string) (Value, bool, error)
}

// WriteAPI exposes write and invalidation operations.
type WriteAPI interface {
	Set(key string, value Value, ttl time.Duration) error
	SetCtx(ctx context.Context, key string, value Value, ttl time.Duration) error
	SetBytes(key string, value []byte, ttl time.Duration) error
	SetBytesCtx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetString(key string, value string, ttl time.Duration) error
	SetStringCtx(ctx context.Context, key string, value string, ttl time.Duration) error
	SetInt(key string, value int64, ttl time.Duration) error
	SetIntCtx(ctx context.Context, key string, value int64, ttl time.Duration) error
	SetFloat(key string, value float64, ttl time.Duration) error
	SetFloatCtx(ctx context.Context, key string, value float64, ttl time.Duration) error
	BatchSet(values map[string]Value, ttl time.Duration) error
	BatchSetCtx(ctx context.Context, values map[string]Value, ttl time.Duration) error
	Add(key string, value Value, ttl time.Duration) (bool, error)
	AddCtx(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error)
	Forever(key string, value Value) error
	ForeverCtx(ctx context.Context, key string, value Value) error
	Delete(key string) error
	DeleteCtx(ctx context.Context, key string) error
	DeleteMany(keys ...string) error
	DeleteManyCtx(ctx context.Context, keys ...string) error
	Flush() error
	FlushCtx(ctx context.Context) error
}

// CounterAPI exposes increment/decrement operations.
type CounterAPI interface {
	Increment(key string, delta int64) (int64, bool, error)
	IncrementCtx(ctx context.Context, key string, delta int64) (int64, bool, error)
	Decrement(key string, delta int64) (int64, bool, error)
	DecrementCtx(ctx context.Context, key string, delta int64) (int64, bool, error)
}

// RateLimitAPI exposes fixed-window rate limiting helpers.
type RateLimitAPI interface {
	RateLimit(key string, limit int64, window time.Duration) (bool, int64, error)
	RateLimitCtx(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// LockAPI exposes distributed lock handles minted by lock-capable stores.
type LockAPI interface {
	Lock(name string, ttl time.Duration, owner string) (*Lock, error)
	RestoreLock(name, owner string) (*Lock, error)
}

// RememberAPI exposes read-through helpers.
type RememberAPI interface {
	Remember(key string, ttl time.Duration, fn func() (Value, error)) (Value, error)
	RememberCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (Value, error)) (Value, error)
	RememberBytes(key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error)
	RememberBytesCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error)
	RememberString(key string, ttl time.Duration, fn func() (string, error)) (string, error)
	RememberStringCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (string, error)) (string, error)
}

// CacheAPI is the composed application-facing interface for Cache.
type CacheAPI interface {
	CoreAPI
	ReadAPI
	WriteAPI
	CounterAPI
	RateLimitAPI
	LockAPI
	RememberAPI
}

var _ CacheAPI = (*Cache)(nil)
