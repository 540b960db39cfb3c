package cache

import "time"

// StoreOption mutates StoreConfig when constructing a store.
type StoreOption func(StoreConfig) StoreConfig

// WithDefaultTTL overrides the fallback TTL used when ttl <= 0.
func WithDefaultTTL(ttl time.Duration) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DefaultTTL = ttl
		return cfg
	}
}

// WithPrefix sets the key prefix for shared backends.
func WithPrefix(prefix string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithTable names the backing table (dynamodb, sql).
func WithTable(table string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Table = table
		return cfg
	}
}

// WithAttributeNames overrides the record attribute names (dynamodb).
func WithAttributeNames(names AttributeNames) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Attributes = names
		return cfg
	}
}

// WithConsistentReads selects between strongly and eventually consistent
// point reads (dynamodb). Strong reads are the default.
func WithConsistentReads(consistent bool) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.ConsistentReads = &consistent
		return cfg
	}
}

// WithDynamoClient injects a pre-built DynamoDB client.
func WithDynamoClient(client DynamoAPI) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DynamoClient = client
		return cfg
	}
}

// WithDynamoRegion sets the AWS region used when the client is auto-built.
func WithDynamoRegion(region string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DynamoRegion = region
		return cfg
	}
}

// WithDynamoEndpoint points the auto-built client at a custom endpoint,
// typically a local DynamoDB container.
func WithDynamoEndpoint(endpoint string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DynamoEndpoint = endpoint
		return cfg
	}
}

// WithRedisClient sets the redis client; required when using DriverRedis.
func WithRedisClient(client RedisClient) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.RedisClient = client
		return cfg
	}
}

// WithSQL sets the database/sql driver name and DSN; required for DriverSQL.
func WithSQL(driverName, dsn string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.SQLDriverName = driverName
		cfg.SQLDSN = dsn
		return cfg
	}
}

// WithNATSKeyValue sets the JetStream key-value bucket; required for DriverNATS.
func WithNATSKeyValue(kv NATSKeyValue) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.NATSKeyValue = kv
		return cfg
	}
}

// WithMemoryCleanupInterval overrides the sweep interval for the memory driver.
func WithMemoryCleanupInterval(interval time.Duration) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.MemoryCleanupInterval = interval
		return cfg
	}
}

// WithLogger attaches a diagnostics logger to the store.
func WithLogger(logger Logger) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Logger = logger
		return cfg
	}
}

// WithCompression enables transparent compression of opaque values.
func WithCompression(codec CompressionCodec) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Compression = codec
		return cfg
	}
}

// WithMaxValueBytes rejects opaque values larger than max before they
// reach the backend.
func WithMaxValueBytes(max int) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.MaxValueBytes = max
		return cfg
	}
}

// WithEncryptionKey enables AES-GCM encryption of opaque values at rest.
// The key must be 16, 24, or 32 bytes.
func WithEncryptionKey(key []byte) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.EncryptionKey = key
		return cfg
	}
}
