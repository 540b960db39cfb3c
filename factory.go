package cache

import "context"

// NewStore returns a store for the requested driver, wrapped with the
// encryption and value-shaping layers the config asks for. Construction
// never fails loudly: when a backend cannot be built (bad credentials,
// unreachable database, invalid table name) the returned store reports the
// failure from every operation, so callers keep a single wiring path and
// the error surfaces where the cache is first used.
// @group Constructors
//
// Example: select driver explicitly
//
//	ctx := context.Background()
//	store := cache.NewStore(ctx, cache.StoreConfig{
//		Driver: cache.DriverMemory,
//	})
//	fmt.Println(store.Driver()) // memory
func NewStore(ctx context.Context, cfg StoreConfig) Store {
	cfg = cfg.withDefaults()
	store, err := newDriverStore(ctx, cfg)
	if err == nil {
		store, err = newEncryptingStore(store, cfg.EncryptionKey)
	}
	if err != nil {
		return &errorStore{driver: cfg.Driver, prefix: cfg.Prefix, err: err}
	}
	return newShapingStore(store, cfg.Compression, cfg.MaxValueBytes)
}

func newDriverStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Driver {
	case DriverRedis:
		return newRedisStore(cfg), nil
	case DriverDynamo:
		return newDynamoStore(ctx, cfg)
	case DriverSQL:
		return newSQLStore(ctx, cfg)
	case DriverNATS:
		return newNATSStore(cfg), nil
	case DriverNull:
		return newNullStore(cfg), nil
	default:
		return newMemoryStore(cfg), nil
	}
}

// NewStoreWith builds a store using a driver and a set of functional options.
// Required data (e.g., Redis client) must be provided via options when needed.
// @group Constructors
//
// Example: memory store (options)
//
//	ctx := context.Background()
//	store := cache.NewStoreWith(ctx, cache.DriverMemory)
//	fmt.Println(store.Driver()) // memory
//
// Example: redis store (options)
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	store = cache.NewStoreWith(ctx, cache.DriverRedis,
//		cache.WithRedisClient(redisClient),
//		cache.WithPrefix("app"),
//		cache.WithDefaultTTL(5*time.Minute),
//	)
//	fmt.Println(store.Driver()) // redis
func NewStoreWith(ctx context.Context, driver Driver, opts ...StoreOption) Store {
	cfg := StoreConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewStore(ctx, cfg)
}

// NewMemoryStore is a convenience for an in-process store with optional overrides.
// @group Constructors
//
// Example: memory helper
//
//	ctx := context.Background()
//	store := cache.NewMemoryStore(ctx)
//	fmt.Println(store.Driver()) // memory
func NewMemoryStore(ctx context.Context, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverMemory, opts...)
}

// NewRedisStore is a convenience for a redis-backed store. Redis client is required.
// @group Constructors
//
// Example: redis helper
//
//	ctx := context.Background()
//	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	store := cache.NewRedisStore(ctx, redisClient, cache.WithPrefix("app"))
//	fmt.Println(store.Driver()) // redis
func NewRedisStore(ctx context.Context, client RedisClient, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverRedis, append([]StoreOption{WithRedisClient(client)}, opts...)...)
}

// NewDynamoStore is a convenience for a DynamoDB-backed store. Without an
// explicit client the AWS SDK default credential and region chain applies.
// @group Constructors
//
// Example: dynamo helper
//
//	ctx := context.Background()
//	store := cache.NewDynamoStore(ctx,
//		cache.WithTable("cache"),
//		cache.WithDynamoRegion("us-east-1"),
//	)
//	fmt.Println(store.Driver()) // dynamodb
func NewDynamoStore(ctx context.Context, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverDynamo, opts...)
}

// NewSQLStore is a convenience for a relational store. The driver name and
// DSN are passed straight to database/sql; the matching driver package must
// be imported by the caller (or transitively by this module).
// @group Constructors
//
// Example: sqlite helper
//
//	ctx := context.Background()
//	store := cache.NewSQLStore(ctx, "sqlite", "file:cache.db",
//		cache.WithTable("cache_entries"),
//	)
//	fmt.Println(store.Driver()) // sql
func NewSQLStore(ctx context.Context, driverName, dsn string, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverSQL, append([]StoreOption{WithSQL(driverName, dsn)}, opts...)...)
}

// NewNATSStore is a convenience for a store backed by a JetStream key-value
// bucket. The bucket is required.
// @group Constructors
//
// Example: nats helper
//
//	ctx := context.Background()
//	js, _ := nc.JetStream()
//	kv, _ := js.KeyValue("cache")
//	store := cache.NewNATSStore(ctx, kv)
//	fmt.Println(store.Driver()) // nats
func NewNATSStore(ctx context.Context, kv NATSKeyValue, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverNATS, append([]StoreOption{WithNATSKeyValue(kv)}, opts...)...)
}

// NewNullStore returns a store that accepts writes and never returns hits.
// Useful for disabling caching without touching call sites.
// @group Constructors
//
// Example: null helper
//
//	store := cache.NewNullStore()
//	fmt.Println(store.Driver()) // null
func NewNullStore(opts ...StoreOption) Store {
	return NewStoreWith(context.Background(), DriverNull, opts...)
}
