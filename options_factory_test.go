package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestStoreOptionsMutateConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var cfg StoreConfig
	cfg = WithDefaultTTL(time.Second)(cfg)
	cfg = WithPrefix("svc")(cfg)
	cfg = WithTable("custom_cache")(cfg)
	cfg = WithAttributeNames(AttributeNames{Key: "k", Value: "v", ExpiresAt: "ea"})(cfg)
	cfg = WithConsistentReads(false)(cfg)
	cfg = WithDynamoRegion("eu-west-1")(cfg)
	cfg = WithDynamoEndpoint("http://localhost:8000")(cfg)
	cfg = WithRedisClient(client)(cfg)
	cfg = WithSQL("sqlite", "file:cache?mode=memory")(cfg)
	cfg = WithMemoryCleanupInterval(2 * time.Second)(cfg)
	cfg = WithLogger(NopLogger{})(cfg)
	cfg = WithCompression(CompressionSnappy)(cfg)
	cfg = WithMaxValueBytes(1024)(cfg)
	cfg = WithEncryptionKey([]byte("01234567890123456789012345678901"))(cfg)

	if cfg.DefaultTTL != time.Second ||
		cfg.Prefix != "svc" ||
		cfg.Table != "custom_cache" ||
		cfg.Attributes.Key != "k" ||
		cfg.ConsistentReads == nil || *cfg.ConsistentReads ||
		cfg.DynamoRegion != "eu-west-1" ||
		cfg.DynamoEndpoint != "http://localhost:8000" ||
		cfg.RedisClient != RedisClient(client) ||
		cfg.SQLDriverName != "sqlite" ||
		cfg.SQLDSN != "file:cache?mode=memory" ||
		cfg.MemoryCleanupInterval != 2*time.Second ||
		cfg.Logger == nil ||
		cfg.Compression != CompressionSnappy ||
		cfg.MaxValueBytes != 1024 ||
		len(cfg.EncryptionKey) != 32 {
		t.Fatalf("options did not apply correctly: %+v", cfg)
	}
}

func TestFactoryHelpers(t *testing.T) {
	ctx := context.Background()

	mem := NewStoreWith(ctx, DriverMemory)
	if mem.Driver() != DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if NewMemoryStore(ctx).Driver() != DriverMemory {
		t.Fatalf("expected memory helper driver")
	}
	if NewNullStore().Driver() != DriverNull {
		t.Fatalf("expected null helper driver")
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rds := NewRedisStore(ctx, client)
	if rds.Driver() != DriverRedis {
		t.Fatalf("expected redis driver")
	}
	if rds.Prefix() != defaultCachePrefix {
		t.Fatalf("expected default prefix, got %q", rds.Prefix())
	}
}

func TestFactoryAppliesMiddlewareOptions(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore(ctx,
		WithPrefix("svc"),
		WithCompression(CompressionGzip),
		WithEncryptionKey([]byte("01234567890123456789012345678901")),
	)

	if _, ok := store.(*shapingStore); !ok {
		t.Fatalf("expected shaping wrapper outermost, got %T", store)
	}
	if store.Prefix() != "svc" {
		t.Fatalf("expected prefix to thread through wrappers, got %q", store.Prefix())
	}

	if err := store.Set(ctx, "k", StringValue("body"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value.String() != "body" {
		t.Fatalf("round trip failed: ok=%v err=%v", ok, err)
	}
}

func TestFactoryInvalidEncryptionKeyReturnsErrorStore(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore(ctx, WithEncryptionKey([]byte("short")))
	if store.Driver() != DriverMemory {
		t.Fatalf("error store should keep the requested driver, got %q", store.Driver())
	}
	if _, ok, err := store.Get(ctx, "k"); err == nil || ok {
		t.Fatalf("expected error store get failure: ok=%v err=%v", ok, err)
	}
	if err := store.Ready(ctx); err == nil {
		t.Fatalf("expected error store ready failure")
	}
}
