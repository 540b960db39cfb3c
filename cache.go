package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache provides an ergonomic cache API on top of Store.
//
// Methods come in pairs: a background-context form for call sites without a
// context and a Ctx form for everything else. Write helpers resolve ttl <= 0
// to the cache's default TTL, so only the Store layer ever sees a
// non-positive ttl.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	observer   Observer
	loads      singleflight.Group
}

// NewCache creates a cache facade bound to a concrete store.
// @group Cache
//
// Example: cache from store
//
//	ctx := context.Background()
//	s := cache.NewMemoryStore(ctx)
//	c := cache.NewCache(s)
//	fmt.Println(c.Driver()) // memory
func NewCache(store Store) *Cache {
	return NewCacheWithTTL(store, defaultCacheTTL)
}

// NewCacheWithTTL lets callers override the default TTL applied when ttl <= 0.
// @group Cache
//
// Example: cache with custom default TTL
//
//	ctx := context.Background()
//	s := cache.NewMemoryStore(ctx)
//	c := cache.NewCacheWithTTL(s, 2*time.Minute)
//	fmt.Println(c.Driver(), c != nil) // memory true
func NewCacheWithTTL(store Store, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	return &Cache{
		store:      store,
		defaultTTL: defaultTTL,
	}
}

// WithObserver attaches an observer to receive operation events.
func (c *Cache) WithObserver(o Observer) *Cache {
	c.observer = o
	return c
}

// Store returns the underlying store implementation.
// @group Cache
//
// Example: access store
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	fmt.Println(c.Store().Driver()) // memory
func (c *Cache) Store() Store {
	return c.store
}

// Driver reports the underlying store driver.
// @group Cache
func (c *Cache) Driver() Driver {
	return c.store.Driver()
}

// Prefix reports the key prefix of the underlying store.
// @group Cache
func (c *Cache) Prefix() string {
	return c.store.Prefix()
}

// WithPrefix returns a new cache bound to the same backend under a
// different key prefix. Default TTL and observer carry over.
// @group Cache
func (c *Cache) WithPrefix(prefix string) *Cache {
	out := NewCacheWithTTL(c.store.WithPrefix(prefix), c.defaultTTL)
	out.observer = c.observer
	return out
}

// Ready reports whether the backend is reachable and provisioned.
// @group Cache
func (c *Cache) Ready() error {
	return c.ReadyCtx(context.Background())
}

// ReadyCtx is the context-aware variant of Ready.
func (c *Cache) ReadyCtx(ctx context.Context) error {
	return c.store.Ready(ctx)
}

// Get returns the value for key when present and live.
// @group Cache
//
// Example: get a value
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.Set("user:42", cache.StringValue("Ada"), 0)
//	value, ok, _ := c.Get("user:42")
//	fmt.Println(ok, value.String()) // true Ada
func (c *Cache) Get(key string) (Value, bool, error) {
	return c.GetCtx(context.Background(), key)
}

func (c *Cache) GetCtx(ctx context.Context, key string) (Value, bool, error) {
	start := time.Now()
	value, ok, err := c.store.Get(ctx, key)
	c.observe(ctx, "get", key, ok, err, start)
	return value, ok, err
}

// GetBytes returns the value for key rendered as bytes. Opaque payloads
// come back verbatim, numeric values in their decimal form.
// @group Cache
//
// Example: get bytes
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetBytes("user:42", []byte("Ada"), 0)
//	body, ok, _ := c.GetBytes("user:42")
//	fmt.Println(ok, string(body)) // true Ada
func (c *Cache) GetBytes(key string) ([]byte, bool, error) {
	return c.GetBytesCtx(context.Background(), key)
}

func (c *Cache) GetBytesCtx(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.GetCtx(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_bytes", key, ok, err, start)
		return nil, ok, err
	}
	c.observe(ctx, "get_bytes", key, true, nil, start)
	return []byte(value.String()), true, nil
}

// GetString returns a UTF-8 string value for key when present.
// @group Cache
//
// Example: get string
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetString("user:42:name", "Ada", 0)
//	name, ok, _ := c.GetString("user:42:name")
//	fmt.Println(ok, name) // true Ada
func (c *Cache) GetString(key string) (string, bool, error) {
	return c.GetStringCtx(context.Background(), key)
}

func (c *Cache) GetStringCtx(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, ok, err := c.GetCtx(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_string", key, ok, err, start)
		return "", ok, err
	}
	c.observe(ctx, "get_string", key, true, nil, start)
	return value.String(), true, nil
}

// GetInt returns an integer value for key when present. A live record that
// does not hold an integer reports ErrNotNumeric.
// @group Cache
//
// Example: get int
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetInt("visits", 10, 0)
//	visits, ok, _ := c.GetInt("visits")
//	fmt.Println(ok, visits) // true 10
func (c *Cache) GetInt(key string) (int64, bool, error) {
	return c.GetIntCtx(context.Background(), key)
}

func (c *Cache) GetIntCtx(ctx context.Context, key string) (int64, bool, error) {
	start := time.Now()
	value, ok, err := c.GetCtx(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_int", key, ok, err, start)
		return 0, ok, err
	}
	n, ok := value.Int()
	if !ok {
		err := fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
		c.observe(ctx, "get_int", key, false, err, start)
		return 0, false, err
	}
	c.observe(ctx, "get_int", key, true, nil, start)
	return n, true, nil
}

// GetFloat returns a numeric value for key as a float; integers convert.
// A live record that is not numeric reports ErrNotNumeric.
// @group Cache
func (c *Cache) GetFloat(key string) (float64, bool, error) {
	return c.GetFloatCtx(context.Background(), key)
}

func (c *Cache) GetFloatCtx(ctx context.Context, key string) (float64, bool, error) {
	start := time.Now()
	value, ok, err := c.GetCtx(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_float", key, ok, err, start)
		return 0, ok, err
	}
	f, ok := value.Float()
	if !ok {
		err := fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
		c.observe(ctx, "get_float", key, false, err, start)
		return 0, false, err
	}
	c.observe(ctx, "get_float", key, true, nil, start)
	return f, true, nil
}

// BatchGet reads several keys one by one. Missing and expired keys are
// left out of the result. The first backend failure stops the scan and is
// returned along with the entries read so far.
// @group Cache
//
// Example: read several keys
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetString("a", "1", 0)
//	_ = c.SetString("b", "2", 0)
//	values, _ := c.BatchGet("a", "b", "missing")
//	fmt.Println(len(values)) // 2
func (c *Cache) BatchGet(keys ...string) (map[string]Value, error) {
	return c.BatchGetCtx(context.Background(), keys...)
}

func (c *Cache) BatchGetCtx(ctx context.Context, keys ...string) (map[string]Value, error) {
	start := time.Now()
	out := make(map[string]Value, len(keys))
	for _, key := range keys {
		value, ok, err := c.store.Get(ctx, key)
		c.observe(ctx, "batch_get", key, ok, err, start)
		if err != nil {
			return out, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

// GetJSON decodes a JSON value into T when key exists, using background context.
// @group Cache JSON
func GetJSON[T any](c *Cache, key string) (T, bool, error) {
	return GetJSONCtx[T](context.Background(), c, key)
}

// GetJSONCtx is the context-aware variant of GetJSON.
func GetJSONCtx[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T
	start := time.Now()
	value, ok, err := c.GetCtx(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "get_json", key, ok, err, start)
		return zero, ok, err
	}
	var out T
	if err := json.Unmarshal([]byte(value.String()), &out); err != nil {
		c.observe(ctx, "get_json", key, false, err, start)
		return zero, false, err
	}
	c.observe(ctx, "get_json", key, true, nil, start)
	return out, true, nil
}

// Set writes value to key.
// @group Cache
//
// Example: set a value with ttl
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	fmt.Println(c.Set("token", cache.StringValue("abc"), time.Minute) == nil) // true
func (c *Cache) Set(key string, value Value, ttl time.Duration) error {
	return c.SetCtx(context.Background(), key, value, ttl)
}

func (c *Cache) SetCtx(ctx context.Context, key string, value Value, ttl time.Duration) error {
	start := time.Now()
	err := c.store.Set(ctx, key, value, c.resolveTTL(ttl))
	c.observe(ctx, "set", key, false, err, start)
	return err
}

// SetBytes writes an opaque byte payload to key.
// @group Cache
func (c *Cache) SetBytes(key string, value []byte, ttl time.Duration) error {
	return c.SetBytesCtx(context.Background(), key, value, ttl)
}

func (c *Cache) SetBytesCtx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.SetCtx(ctx, key, BytesValue(value), ttl)
	c.observe(ctx, "set_bytes", key, false, err, start)
	return err
}

// SetString writes a string value to key.
// @group Cache
//
// Example: set string
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	fmt.Println(c.SetString("user:42:name", "Ada", time.Minute) == nil) // true
func (c *Cache) SetString(key string, value string, ttl time.Duration) error {
	return c.SetStringCtx(context.Background(), key, value, ttl)
}

func (c *Cache) SetStringCtx(ctx context.Context, key string, value string, ttl time.Duration) error {
	start := time.Now()
	err := c.SetCtx(ctx, key, StringValue(value), ttl)
	c.observe(ctx, "set_string", key, false, err, start)
	return err
}

// SetInt writes an integer in the backend's numeric form, so counters can
// keep operating on it.
// @group Cache
func (c *Cache) SetInt(key string, value int64, ttl time.Duration) error {
	return c.SetIntCtx(context.Background(), key, value, ttl)
}

func (c *Cache) SetIntCtx(ctx context.Context, key string, value int64, ttl time.Duration) error {
	start := time.Now()
	err := c.SetCtx(ctx, key, IntValue(value), ttl)
	c.observe(ctx, "set_int", key, false, err, start)
	return err
}

// SetFloat writes a float in the backend's numeric form.
// @group Cache
func (c *Cache) SetFloat(key string, value float64, ttl time.Duration) error {
	return c.SetFloatCtx(context.Background(), key, value, ttl)
}

func (c *Cache) SetFloatCtx(ctx context.Context, key string, value float64, ttl time.Duration) error {
	start := time.Now()
	err := c.SetCtx(ctx, key, FloatValue(value), ttl)
	c.observe(ctx, "set_float", key, false, err, start)
	return err
}

// BatchSet writes several values one by one under a shared ttl. There is no
// rollback: keys written before a failure stay written.
// @group Cache
//
// Example: write several keys
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	err := c.BatchSet(map[string]cache.Value{
//		"a": cache.StringValue("1"),
//		"b": cache.IntValue(2),
//	}, time.Minute)
//	fmt.Println(err == nil) // true
func (c *Cache) BatchSet(values map[string]Value, ttl time.Duration) error {
	return c.BatchSetCtx(context.Background(), values, ttl)
}

func (c *Cache) BatchSetCtx(ctx context.Context, values map[string]Value, ttl time.Duration) error {
	start := time.Now()
	resolved := c.resolveTTL(ttl)
	for key, value := range values {
		err := c.store.Set(ctx, key, value, resolved)
		c.observe(ctx, "batch_set", key, err == nil, err, start)
		if err != nil {
			return err
		}
	}
	return nil
}

// SetJSON encodes value as JSON and writes it to key using background context.
// @group Cache JSON
func SetJSON[T any](c *Cache, key string, value T, ttl time.Duration) error {
	return SetJSONCtx[T](context.Background(), c, key, value, ttl)
}

// SetJSONCtx is the context-aware variant of SetJSON.
func SetJSONCtx[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) error {
	start := time.Now()
	body, err := json.Marshal(value)
	if err != nil {
		c.observe(ctx, "set_json", key, false, err, start)
		return err
	}
	err = c.SetCtx(ctx, key, BytesValue(body), ttl)
	c.observe(ctx, "set_json", key, false, err, start)
	return err
}

// Add writes value only when no live record exists for key. An expired
// leftover record counts as absent and is overwritten.
// @group Cache
//
// Example: add once
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	created, _ := c.Add("boot:seeded", cache.StringValue("1"), time.Hour)
//	fmt.Println(created) // true
func (c *Cache) Add(key string, value Value, ttl time.Duration) (bool, error) {
	return c.AddCtx(context.Background(), key, value, ttl)
}

func (c *Cache) AddCtx(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	start := time.Now()
	created, err := c.store.Add(ctx, key, value, c.resolveTTL(ttl))
	c.observe(ctx, "add", key, created, err, start)
	return created, err
}

// Forever stores value with no practical expiry.
// @group Cache
//
// Example: pin a value
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	fmt.Println(c.Forever("schema:version", cache.IntValue(3)) == nil) // true
func (c *Cache) Forever(key string, value Value) error {
	return c.ForeverCtx(context.Background(), key, value)
}

func (c *Cache) ForeverCtx(ctx context.Context, key string, value Value) error {
	start := time.Now()
	err := c.store.Forever(ctx, key, value)
	c.observe(ctx, "forever", key, false, err, start)
	return err
}

// Increment adds delta to an existing numeric record and returns the new
// value. Counters never create keys: a missing or expired record reports
// ok=false so callers can seed it explicitly. The record's remaining TTL
// is untouched.
// @group Cache
//
// Example: increment counter
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetInt("rate:login:42", 0, time.Minute)
//	val, ok, _ := c.Increment("rate:login:42", 1)
//	fmt.Println(ok, val) // true 1
func (c *Cache) Increment(key string, delta int64) (int64, bool, error) {
	return c.IncrementCtx(context.Background(), key, delta)
}

func (c *Cache) IncrementCtx(ctx context.Context, key string, delta int64) (int64, bool, error) {
	start := time.Now()
	value, ok, err := c.store.Increment(ctx, key, delta)
	c.observe(ctx, "increment", key, ok, err, start)
	return value, ok, err
}

// Decrement subtracts delta from an existing numeric record; delta is a
// positive magnitude. Same contract as Increment.
// @group Cache
//
// Example: decrement counter
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetInt("seats:show:9", 10, time.Minute)
//	val, ok, _ := c.Decrement("seats:show:9", 1)
//	fmt.Println(ok, val) // true 9
func (c *Cache) Decrement(key string, delta int64) (int64, bool, error) {
	return c.DecrementCtx(context.Background(), key, delta)
}

func (c *Cache) DecrementCtx(ctx context.Context, key string, delta int64) (int64, bool, error) {
	start := time.Now()
	value, ok, err := c.store.Decrement(ctx, key, delta)
	c.observe(ctx, "decrement", key, ok, err, start)
	return value, ok, err
}

// Pull returns the value and removes it from the cache.
// @group Cache
//
// Example: pull and delete
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetString("reset:token:42", "abc", time.Minute)
//	value, ok, _ := c.Pull("reset:token:42")
//	fmt.Println(ok, value.String()) // true abc
func (c *Cache) Pull(key string) (Value, bool, error) {
	return c.PullCtx(context.Background(), key)
}

func (c *Cache) PullCtx(ctx context.Context, key string) (Value, bool, error) {
	start := time.Now()
	value, ok, err := c.GetCtx(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "pull", key, ok, err, start)
		return Value{}, ok, err
	}
	if err := c.DeleteCtx(ctx, key); err != nil {
		c.observe(ctx, "pull", key, false, err, start)
		return Value{}, false, err
	}
	c.observe(ctx, "pull", key, true, nil, start)
	return value, true, nil
}

// Delete removes a single key.
// @group Cache
//
// Example: delete key
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetString("a", "1", time.Minute)
//	fmt.Println(c.Delete("a") == nil) // true
func (c *Cache) Delete(key string) error {
	return c.DeleteCtx(context.Background(), key)
}

func (c *Cache) DeleteCtx(ctx context.Context, key string) error {
	start := time.Now()
	err := c.store.Delete(ctx, key)
	c.observe(ctx, "delete", key, err == nil, err, start)
	return err
}

// DeleteMany removes multiple keys.
// @group Cache
//
// Example: delete many keys
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	fmt.Println(c.DeleteMany("a", "b") == nil) // true
func (c *Cache) DeleteMany(keys ...string) error {
	return c.DeleteManyCtx(context.Background(), keys...)
}

func (c *Cache) DeleteManyCtx(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.store.DeleteMany(ctx, keys...)
	for _, key := range keys {
		c.observe(ctx, "delete_many", key, err == nil, err, start)
	}
	return err
}

// Flush clears all keys for this store scope. Stores without a native
// clear report ErrFlushUnsupported.
// @group Cache
//
// Example: flush all keys
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	_ = c.SetString("a", "1", time.Minute)
//	fmt.Println(c.Flush() == nil) // true
func (c *Cache) Flush() error {
	return c.FlushCtx(context.Background())
}

func (c *Cache) FlushCtx(ctx context.Context) error {
	start := time.Now()
	err := c.store.Flush(ctx)
	c.observe(ctx, "flush", "", err == nil, err, start)
	return err
}

// RateLimit counts an event against a fixed window and reports whether it
// stayed within limit. The first event of a window creates the counter
// with the window as its TTL; later events increment it without extending
// the window. Returns allowed plus the count after this event.
// @group Cache
//
// Example: limit login attempts
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	allowed, count, _ := c.RateLimit("login:42", 3, time.Minute)
//	fmt.Println(allowed, count) // true 1
func (c *Cache) RateLimit(key string, limit int64, window time.Duration) (bool, int64, error) {
	return c.RateLimitCtx(context.Background(), key, limit, window)
}

func (c *Cache) RateLimitCtx(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	start := time.Now()
	// Add seeds the window; Increment counts within it. When the record
	// expires between the two writes the sequence is retried so the event
	// lands in a fresh window instead of vanishing.
	for attempt := 0; attempt < rateLimitMaxAttempts; attempt++ {
		created, err := c.store.Add(ctx, key, IntValue(1), window)
		if err != nil {
			c.observe(ctx, "rate_limit", key, false, err, start)
			return false, 0, err
		}
		if created {
			c.observe(ctx, "rate_limit", key, 1 <= limit, nil, start)
			return 1 <= limit, 1, nil
		}
		count, ok, err := c.store.Increment(ctx, key, 1)
		if err != nil {
			c.observe(ctx, "rate_limit", key, false, err, start)
			return false, 0, err
		}
		if ok {
			c.observe(ctx, "rate_limit", key, count <= limit, nil, start)
			return count <= limit, count, nil
		}
	}
	err := errors.New("cache rate limit exceeded retry limit")
	c.observe(ctx, "rate_limit", key, false, err, start)
	return false, 0, err
}

const rateLimitMaxAttempts = 4

// Lock returns a distributed-lock handle minted by the underlying store.
// An empty owner gets a generated token. ErrNoLockSupport is returned when
// no store in the wrapper chain can back locks.
// @group Locking
//
// Example: lock through the facade
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	lock, err := c.Lock("deploy", 30*time.Second, "")
//	if err == nil {
//		if locked, _ := lock.Acquire(); locked {
//			defer lock.Release()
//		}
//	}
func (c *Cache) Lock(name string, ttl time.Duration, owner string) (*Lock, error) {
	provider, ok := lockProviderOf(c.store)
	if !ok {
		return nil, ErrNoLockSupport
	}
	return provider.Lock(name, ttl, owner), nil
}

// RestoreLock rebinds a handle to a lock acquired elsewhere, using the
// owner token persisted from the original acquisition.
// @group Locking
func (c *Cache) RestoreLock(name, owner string) (*Lock, error) {
	provider, ok := lockProviderOf(c.store)
	if !ok {
		return nil, ErrNoLockSupport
	}
	return provider.RestoreLock(name, owner), nil
}

// lockProviderOf walks the store's wrapper chain until it finds lock
// support. Middleware stores expose the next layer through Unwrap.
func lockProviderOf(s Store) (LockProvider, bool) {
	for s != nil {
		if provider, ok := s.(LockProvider); ok {
			return provider, true
		}
		wrapper, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return nil, false
		}
		s = wrapper.Unwrap()
	}
	return nil, false
}

// Remember returns the value for key, computing and storing it on a miss.
// Concurrent misses for the same key share a single computation.
// @group Cache
//
// Example: remember a value
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	value, err := c.Remember("dashboard:summary", time.Minute, func() (cache.Value, error) {
//		return cache.StringValue("payload"), nil
//	})
//	fmt.Println(err == nil, value.String()) // true payload
func (c *Cache) Remember(key string, ttl time.Duration, fn func() (Value, error)) (Value, error) {
	return c.RememberCtx(context.Background(), key, ttl, func(context.Context) (Value, error) {
		if fn == nil {
			return Value{}, errors.New("cache remember requires a callback")
		}
		return fn()
	})
}

func (c *Cache) RememberCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (Value, error)) (Value, error) {
	start := time.Now()
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.observe(ctx, "remember", key, false, err, start)
		return Value{}, err
	}
	if ok {
		c.observe(ctx, "remember", key, true, nil, start)
		return value, nil
	}
	if fn == nil {
		err := errors.New("cache remember requires a callback")
		c.observe(ctx, "remember", key, false, err, start)
		return Value{}, err
	}
	out, err, _ := c.loads.Do(key, func() (any, error) {
		// A concurrent flight may have filled the key while this
		// goroutine queued; recheck before computing.
		if value, ok, err := c.store.Get(ctx, key); err != nil || ok {
			return value, err
		}
		value, err := fn(ctx)
		if err != nil {
			return Value{}, err
		}
		if err := c.store.Set(ctx, key, value, c.resolveTTL(ttl)); err != nil {
			return Value{}, err
		}
		return value, nil
	})
	if err != nil {
		c.observe(ctx, "remember", key, false, err, start)
		return Value{}, err
	}
	c.observe(ctx, "remember", key, true, nil, start)
	return out.(Value), nil
}

// RememberBytes is Remember for opaque byte payloads.
// @group Cache
//
// Example: remember bytes
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	data, err := c.RememberBytes("dashboard:summary", time.Minute, func() ([]byte, error) {
//		return []byte("payload"), nil
//	})
//	fmt.Println(err == nil, string(data)) // true payload
func (c *Cache) RememberBytes(key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	return c.RememberBytesCtx(context.Background(), key, ttl, func(context.Context) ([]byte, error) {
		if fn == nil {
			return nil, errors.New("cache remember requires a callback")
		}
		return fn()
	})
}

func (c *Cache) RememberBytesCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	value, err := c.RememberCtx(ctx, key, ttl, func(ctx context.Context) (Value, error) {
		if fn == nil {
			return Value{}, errors.New("cache remember requires a callback")
		}
		body, err := fn(ctx)
		if err != nil {
			return Value{}, err
		}
		return BytesValue(body), nil
	})
	if err != nil {
		return nil, err
	}
	return []byte(value.String()), nil
}

// RememberString is Remember for string payloads.
// @group Cache
//
// Example: remember string
//
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	val, err := c.RememberString("settings:mode", time.Minute, func() (string, error) {
//		return "on", nil
//	})
//	fmt.Println(err == nil, val) // true on
func (c *Cache) RememberString(key string, ttl time.Duration, fn func() (string, error)) (string, error) {
	return c.RememberStringCtx(context.Background(), key, ttl, func(context.Context) (string, error) {
		if fn == nil {
			return "", errors.New("cache remember requires a callback")
		}
		return fn()
	})
}

func (c *Cache) RememberStringCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (string, error)) (string, error) {
	value, err := c.RememberCtx(ctx, key, ttl, func(ctx context.Context) (Value, error) {
		if fn == nil {
			return Value{}, errors.New("cache remember requires a callback")
		}
		out, err := fn(ctx)
		if err != nil {
			return Value{}, err
		}
		return StringValue(out), nil
	})
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ValueCodec defines how typed remember helpers encode and decode values.
// The codec subpackage provides JSON, msgpack, CBOR and raw codecs; any
// type with matching Encode/Decode methods satisfies it.
type ValueCodec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// jsonValueCodec is the default ValueCodec.
type jsonValueCodec[T any] struct{}

func (jsonValueCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (jsonValueCodec[T]) Decode(b []byte) (T, error) {
	var out T
	err := json.Unmarshal(b, &out)
	return out, err
}

// RememberValue returns a typed value, computing and storing it on a miss.
// Values are encoded as JSON; use RememberValueWithCodec for another wire
// format.
// @group Cache
//
// Example: remember a typed value
//
//	type Settings struct { Enabled bool `json:"enabled"` }
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	settings, err := cache.RememberValue(c, "settings:alerts", time.Minute, func() (Settings, error) {
//		return Settings{Enabled: true}, nil
//	})
//	fmt.Println(err == nil, settings.Enabled) // true true
func RememberValue[T any](c *Cache, key string, ttl time.Duration, fn func() (T, error)) (T, error) {
	return RememberValueWithCodec(context.Background(), c, key, ttl, fn, jsonValueCodec[T]{})
}

// RememberValueWithCodec allows custom encoding/decoding for typed remember
// operations.
func RememberValueWithCodec[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func() (T, error), codec ValueCodec[T]) (T, error) {
	var zero T
	value, err := c.RememberCtx(ctx, key, ttl, func(context.Context) (Value, error) {
		if fn == nil {
			return Value{}, errors.New("cache remember value requires a callback")
		}
		out, err := fn()
		if err != nil {
			return Value{}, err
		}
		encoded, err := codec.Encode(out)
		if err != nil {
			return Value{}, err
		}
		return BytesValue(encoded), nil
	})
	if err != nil {
		return zero, err
	}
	return codec.Decode([]byte(value.String()))
}

// RememberJSON returns key value or computes/stores JSON when missing.
// @group Cache JSON
//
// Example: remember JSON
//
//	type Settings struct { Enabled bool `json:"enabled"` }
//	ctx := context.Background()
//	c := cache.NewCache(cache.NewMemoryStore(ctx))
//	settings, err := cache.RememberJSON(c, "settings:alerts", time.Minute, func() (Settings, error) {
//		return Settings{Enabled: true}, nil
//	})
//	fmt.Println(err == nil, settings.Enabled) // true true
func RememberJSON[T any](c *Cache, key string, ttl time.Duration, fn func() (T, error)) (T, error) {
	return RememberJSONCtx(context.Background(), c, key, ttl, func(context.Context) (T, error) {
		if fn == nil {
			var zero T
			return zero, errors.New("cache remember json requires a callback")
		}
		return fn()
	})
}

// RememberJSONCtx is the context-aware variant of RememberJSON.
func RememberJSONCtx[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	value, err := c.RememberCtx(ctx, key, ttl, func(ctx context.Context) (Value, error) {
		if fn == nil {
			return Value{}, errors.New("cache remember json requires a callback")
		}
		out, err := fn(ctx)
		if err != nil {
			return Value{}, err
		}
		body, err := json.Marshal(out)
		if err != nil {
			return Value{}, err
		}
		return BytesValue(body), nil
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal([]byte(value.String()), &out); err != nil {
		return zero, err
	}
	return out, nil
}

func (c *Cache) resolveTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.defaultTTL
}

func (c *Cache) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.OnCacheOp(ctx, op, key, hit, err, time.Since(start), c.Driver())
}
