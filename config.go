package cache

import "time"

const (
	defaultCachePrefix           = "app"
	defaultCacheTTL              = 5 * time.Minute
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultDynamoRegion          = "us-east-1"
	defaultDynamoTable           = "cache_entries"
	defaultSQLTable              = "cache_entries"

	// foreverTTL is the far-future sentinel used by Forever and by locks
	// with no auto-expiry. The record model always carries a concrete
	// expiration timestamp, so "indefinite" is a timestamp no caller will
	// outlive rather than a special marker.
	foreverTTL = 5 * 365 * 24 * time.Hour
)

// AttributeNames maps the store's record fields onto backend attribute
// names. The defaults collide with DynamoDB reserved words, which is why
// every expression the store builds goes through name placeholders.
type AttributeNames struct {
	Key       string
	Value     string
	ExpiresAt string
}

func (a AttributeNames) withDefaults() AttributeNames {
	if a.Key == "" {
		a.Key = "key"
	}
	if a.Value == "" {
		a.Value = "value"
	}
	if a.ExpiresAt == "" {
		a.ExpiresAt = "expires_at"
	}
	return a
}

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	Driver Driver

	// DefaultTTL is used when a call provides ttl <= 0.
	DefaultTTL time.Duration

	// Prefix is prepended as "prefix:" to every key on shared backends.
	Prefix string

	// Table names the backing table (dynamodb, sql).
	Table string

	// Attributes overrides record attribute names (dynamodb).
	Attributes AttributeNames

	// ConsistentReads selects strongly consistent point reads (dynamodb).
	// Defaults to true; relax for cheaper, eventually consistent reads.
	ConsistentReads *bool

	// DynamoClient is used when set; otherwise a client is built from
	// DynamoRegion/DynamoEndpoint.
	DynamoClient   DynamoAPI
	DynamoRegion   string
	DynamoEndpoint string

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// SQLDriverName/SQLDSN are required when DriverSQL is used.
	SQLDriverName string
	SQLDSN        string

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	// MemoryCleanupInterval controls in-process cache eviction.
	MemoryCleanupInterval time.Duration

	// Logger receives store diagnostics; nil disables logging.
	Logger Logger

	// Compression/MaxValueBytes/EncryptionKey enable the shaping and
	// encryption wrappers around the constructed store.
	Compression   CompressionCodec
	MaxValueBytes int
	EncryptionKey []byte
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultCacheTTL
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.Prefix == "" {
		c.Prefix = defaultCachePrefix
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	if c.Table == "" {
		switch c.Driver {
		case DriverSQL:
			c.Table = defaultSQLTable
		default:
			c.Table = defaultDynamoTable
		}
	}
	c.Attributes = c.Attributes.withDefaults()
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	return c
}

func (c StoreConfig) consistentReads() bool {
	if c.ConsistentReads == nil {
		return true
	}
	return *c.ConsistentReads
}
