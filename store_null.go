package cache

import (
	"context"
	"time"
)

// nullStore accepts writes and never returns a value. Counters report a
// miss, the same as incrementing a key that does not exist.
type nullStore struct {
	prefix string
}

func newNullStore(cfg StoreConfig) *nullStore { return &nullStore{prefix: cfg.Prefix} }

func (s *nullStore) Driver() Driver { return DriverNull }

func (s *nullStore) Prefix() string { return s.prefix }

func (s *nullStore) WithPrefix(prefix string) Store { return &nullStore{prefix: prefix} }

func (s *nullStore) Ready(context.Context) error { return nil }

func (s *nullStore) Get(context.Context, string) (Value, bool, error) {
	return Value{}, false, nil
}

func (s *nullStore) Set(context.Context, string, Value, time.Duration) error {
	return nil
}

func (s *nullStore) Add(context.Context, string, Value, time.Duration) (bool, error) {
	return true, nil
}

func (s *nullStore) Increment(context.Context, string, int64) (int64, bool, error) {
	return 0, false, nil
}

func (s *nullStore) Decrement(context.Context, string, int64) (int64, bool, error) {
	return 0, false, nil
}

func (s *nullStore) Forever(context.Context, string, Value) error { return nil }

func (s *nullStore) Delete(context.Context, string) error { return nil }

func (s *nullStore) DeleteMany(context.Context, ...string) error { return nil }

func (s *nullStore) Flush(context.Context) error { return nil }
