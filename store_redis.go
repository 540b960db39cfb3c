package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the store. The
// embedded Scripter powers the Lua paths (guarded counters, owner-checked
// lock release).
type RedisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Counter arithmetic is guarded by EXISTS so a missing or expired key is a
// refusal rather than a fresh zero-based counter. INCRBY leaves the key's
// ttl untouched, matching the conditional-update drivers.
var redisAdjustLive = redis.NewScript(`
if redis.call('exists', KEYS[1]) == 0 then
	return false
end
return redis.call('incrby', KEYS[1], ARGV[1])
`)

// redisReleaseLock deletes the lock only while the owner token matches.
var redisReleaseLock = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`)

// redisAddDead is the non-positive-ttl add: it wins against a free key but
// stores nothing, the byte-store equivalent of an already-dead record.
var redisAddDead = redis.NewScript(`
if redis.call('exists', KEYS[1]) == 1 then
	return 0
end
return 1
`)

type redisStore struct {
	client RedisClient
	prefix string
}

func newRedisStore(cfg StoreConfig) *redisStore {
	return &redisStore{
		client: cfg.RedisClient,
		prefix: cfg.Prefix,
	}
}

func (s *redisStore) Driver() Driver { return DriverRedis }

func (s *redisStore) Prefix() string { return s.prefix }

func (s *redisStore) WithPrefix(prefix string) Store {
	clone := *s
	clone.prefix = prefix
	return &clone
}

func (s *redisStore) Ready(ctx context.Context) error {
	if s.client == nil {
		return errors.New("redis cache client unavailable")
	}
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) (Value, bool, error) {
	if s.client == nil {
		return Value{}, false, errors.New("redis cache client unavailable")
	}
	body, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Value{}, false, nil
		}
		return Value{}, false, err
	}
	return wireDecode(body), true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("redis cache client unavailable")
	}
	if ttl <= 0 {
		// Born-dead record; on a ttl-native backend the observable effect
		// is that the key is gone.
		return s.client.Del(ctx, s.cacheKey(key)).Err()
	}
	body, err := wireEncode(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.cacheKey(key), body, ttl).Err()
}

func (s *redisStore) Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errors.New("redis cache client unavailable")
	}
	if ttl <= 0 {
		won, err := redisAddDead.Run(ctx, s.client, []string{s.cacheKey(key)}).Int()
		if err != nil {
			return false, err
		}
		return won == 1, nil
	}
	body, err := wireEncode(value)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.cacheKey(key), body, ttl).Result()
}

func (s *redisStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, delta)
}

func (s *redisStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, -delta)
}

func (s *redisStore) adjust(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if s.client == nil {
		return 0, false, errors.New("redis cache client unavailable")
	}
	n, err := redisAdjustLive.Run(ctx, s.client, []string{s.cacheKey(key)}, delta).Int64()
	if err != nil {
		// A Lua false reply surfaces as Nil: the key is missing or expired.
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		if strings.Contains(err.Error(), "not an integer") {
			return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
		}
		return 0, false, err
	}
	return n, true, nil
}

func (s *redisStore) Forever(ctx context.Context, key string, value Value) error {
	if s.client == nil {
		return errors.New("redis cache client unavailable")
	}
	body, err := wireEncode(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.cacheKey(key), body, 0).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return errors.New("redis cache client unavailable")
	}
	return s.client.Del(ctx, s.cacheKey(key)).Err()
}

func (s *redisStore) DeleteMany(ctx context.Context, keys ...string) error {
	if s.client == nil {
		return errors.New("redis cache client unavailable")
	}
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, s.cacheKey(key))
	}
	return s.client.Del(ctx, cacheKeys...).Err()
}

// Flush removes only the keys under this store's prefix, scanning in pages
// so a large keyspace never blocks the server.
func (s *redisStore) Flush(ctx context.Context) error {
	if s.client == nil {
		return errors.New("redis cache client unavailable")
	}
	pattern := s.cacheKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Lock returns a distributed mutex living in the same keyspace: the lock
// row is the bare owner token under the prefixed name.
func (s *redisStore) Lock(name string, ttl time.Duration, owner string) *Lock {
	return newLock(s, name, ttl, owner)
}

// RestoreLock rebuilds a handle around a previously issued owner token.
func (s *redisStore) RestoreLock(name, owner string) *Lock {
	return restoreLock(s, name, owner)
}

func (s *redisStore) acquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errors.New("redis cache client unavailable")
	}
	if ttl < 0 {
		ttl = 0
	}
	// ttl 0 means no expiry: the lock holds until released.
	return s.client.SetNX(ctx, s.cacheKey(name), owner, ttl).Result()
}

func (s *redisStore) releaseLock(ctx context.Context, name, owner string) (bool, error) {
	if s.client == nil {
		return false, errors.New("redis cache client unavailable")
	}
	deleted, err := redisReleaseLock.Run(ctx, s.client, []string{s.cacheKey(name)}, owner).Int()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

func (s *redisStore) forceReleaseLock(ctx context.Context, name string) error {
	return s.Delete(ctx, name)
}

func (s *redisStore) lockOwner(ctx context.Context, name string) (string, error) {
	if s.client == nil {
		return "", errors.New("redis cache client unavailable")
	}
	owner, err := s.client.Get(ctx, s.cacheKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return owner, nil
}

func (s *redisStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
