package cache

import (
	"context"
	"testing"
	"time"
)

type spyObserver struct {
	ops []string
}

func (s *spyObserver) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	_ = ctx
	_ = key
	_ = hit
	_ = err
	_ = dur
	_ = driver
	s.ops = append(s.ops, op)
}

func TestObserverRecordsAllOps(t *testing.T) {
	obs := &spyObserver{}
	c := NewCache(newMemoryStore(StoreConfig{})).WithObserver(obs)

	_, _ = c.Remember("r1", time.Second, func() (Value, error) { return StringValue("v"), nil })
	_, _ = c.RememberString("r2", time.Second, func() (string, error) { return "v", nil })
	_, _ = RememberJSON[string](c, "r3", time.Second, func() (string, error) { return "v", nil })
	_, _, _ = c.Get("missing")
	_ = c.Delete("missing")
	_ = c.DeleteMany("missing")
	_ = c.Flush()

	if len(obs.ops) < 6 {
		t.Fatalf("expected observer to record multiple ops, got %v", obs.ops)
	}
}

func TestObserverNilIsSafe(t *testing.T) {
	c := NewCache(newMemoryStore(StoreConfig{})) // no observer
	_, _ = c.Remember("k", time.Second, func() (Value, error) { return StringValue("v"), nil })
	// ensure no panic when observer nil
}
