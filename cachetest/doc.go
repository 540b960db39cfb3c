// Package cachetest provides reusable contract suites for cache.Store and
// cache.LockProvider implementations.
//
// The suites only go through the public Store and Lock surfaces, so they
// run unchanged against fakes, local emulators and real backends. Keys are
// namespaced per case, which lets many suites share one table, database or
// keyspace.
//
// Example (integration test against a live backend):
//
//	func TestRedisStoreContract(t *testing.T) {
//		store := cache.NewRedisStore(ctx, client, cache.WithPrefix("contract"))
//
//		cachetest.RunStoreContract(t, store, cachetest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//		})
//		cachetest.RunLockContract(t, store.(cache.LockProvider), cachetest.LockOptions{
//			CaseName: t.Name(),
//		})
//	}
//
// TTL checks rely on real time passing: expiry resolution is one second on
// the SQL, DynamoDB and NATS backends, so suites wait a few seconds. Keep
// contract runs behind the integration build tag when that is too slow for
// the regular unit run.
package cachetest
