package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newTestNATSStore(t *testing.T, prefix string) (*natsStore, *stubNATSKeyValue, *time.Time) {
	t.Helper()
	kv := newStubNATSKeyValue("bucket")
	store := newNATSStore(StoreConfig{NATSKeyValue: kv, Prefix: prefix})
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }
	return store, kv, &current
}

func natsRawEnvelope(t *testing.T, kv *stubNATSKeyValue, key string) natsEnvelope {
	t.Helper()
	entry, ok := kv.entries[key]
	if !ok {
		t.Fatalf("entry %q missing", key)
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.value)
	if err != nil || !wrapped {
		t.Fatalf("entry %q is not an envelope: wrapped=%v err=%v", key, wrapped, err)
	}
	return envelope
}

func TestNATSStoreNilKeyValueErrors(t *testing.T) {
	store := newNATSStore(StoreConfig{})
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error when nats key-value is nil")
	}
	if err := store.Set(ctx, "k", IntValue(1), time.Minute); err == nil {
		t.Fatalf("expected set error when nats key-value is nil")
	}
	if _, err := store.Add(ctx, "k", IntValue(1), time.Minute); err == nil {
		t.Fatalf("expected add error when nats key-value is nil")
	}
	if _, _, err := store.Increment(ctx, "k", 1); err == nil {
		t.Fatalf("expected increment error when nats key-value is nil")
	}
	if err := store.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected delete error when nats key-value is nil")
	}
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush error when nats key-value is nil")
	}
	if err := store.Ready(ctx); err == nil {
		t.Fatalf("expected ready error when nats key-value is nil")
	}
}

func TestNATSStoreSetGetRoundTrip(t *testing.T) {
	store, kv, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Set(ctx, "n", IntValue(42), time.Minute); err != nil {
		t.Fatalf("set int failed: %v", err)
	}
	// The bucket holds a marked envelope wrapping the wire payload.
	envelope := natsRawEnvelope(t, kv, store.cacheKey("n"))
	if string(envelope.Value) != "42" {
		t.Fatalf("envelope should carry the bare numeric, got %q", envelope.Value)
	}
	v, ok, err := store.Get(ctx, "n")
	if err != nil || !ok {
		t.Fatalf("get int failed: ok=%v err=%v", ok, err)
	}
	if n, _ := v.Int(); v.Kind() != KindInt || n != 42 {
		t.Fatalf("int round trip: kind=%v", v.Kind())
	}

	if err := store.Set(ctx, "f", FloatValue(2.5), time.Minute); err != nil {
		t.Fatalf("set float failed: %v", err)
	}
	v, ok, _ = store.Get(ctx, "f")
	if f, _ := v.Float(); !ok || v.Kind() != KindFloat || f != 2.5 {
		t.Fatalf("float round trip: ok=%v kind=%v", ok, v.Kind())
	}

	if err := store.Set(ctx, "b", BytesValue([]byte("payload")), time.Minute); err != nil {
		t.Fatalf("set bytes failed: %v", err)
	}
	v, ok, _ = store.Get(ctx, "b")
	if !ok || v.Kind() != KindBytes || string(v.Bytes()) != "payload" {
		t.Fatalf("bytes round trip: ok=%v kind=%v val=%q", ok, v.Kind(), v.Bytes())
	}

	if err := store.Set(ctx, "s", StringValue("42"), time.Minute); err != nil {
		t.Fatalf("set string failed: %v", err)
	}
	v, ok, _ = store.Get(ctx, "s")
	if !ok || v.Kind() != KindBytes || string(v.Bytes()) != "42" {
		t.Fatalf("numeric-looking string must stay opaque: kind=%v val=%q", v.Kind(), v.Bytes())
	}

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("miss expected: ok=%v err=%v", ok, err)
	}
}

func TestNATSStoreForeignEntriesNeverExpire(t *testing.T) {
	store, kv, now := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	// Entries written without the envelope by other clients decode by the
	// shared integer-first rule and carry no expiry.
	if _, err := kv.Put(store.cacheKey("foreign"), []byte("123")); err != nil {
		t.Fatalf("seed foreign entry: %v", err)
	}
	v, ok, _ := store.Get(ctx, "foreign")
	if n, _ := v.Int(); !ok || n != 123 {
		t.Fatalf("foreign int: ok=%v kind=%v", ok, v.Kind())
	}

	*now = now.Add(365 * 24 * time.Hour)
	if _, ok, _ := store.Get(ctx, "foreign"); !ok {
		t.Fatalf("foreign entry must not expire")
	}
	created, err := store.Add(ctx, "foreign", IntValue(1), time.Minute)
	if err != nil || created {
		t.Fatalf("add must not steal a foreign entry: created=%v err=%v", created, err)
	}
}

func TestNATSStoreExpiryBoundaryAndLazyPurge(t *testing.T) {
	store, kv, now := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Set(ctx, "k", BytesValue([]byte("v")), 30*time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	*now = now.Add(29 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("entry should be live one second before expiry")
	}

	*now = now.Add(time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("entry should read as absent at its expiry instant")
	}
	if _, exists := kv.entries[store.cacheKey("k")]; exists {
		t.Fatalf("expired entry should have been purged by the read")
	}
}

func TestNATSStoreNonPositiveTTLWritesDeadEntry(t *testing.T) {
	store, _, now := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Set(ctx, "dead", BytesValue([]byte("v")), 0); err != nil {
		t.Fatalf("dead set failed: %v", err)
	}
	// The entry's expiry is pinned to the write instant, so a same-second
	// add cannot steal it yet; one second later it can.
	created, err := store.Add(ctx, "dead", BytesValue([]byte("v2")), time.Minute)
	if err != nil || created {
		t.Fatalf("same-second steal should fail: created=%v err=%v", created, err)
	}
	*now = now.Add(time.Second)
	created, err = store.Add(ctx, "dead", BytesValue([]byte("v2")), time.Minute)
	if err != nil || !created {
		t.Fatalf("steal one second later should win: created=%v err=%v", created, err)
	}
}

func TestNATSStoreAddSemantics(t *testing.T) {
	store, _, now := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	created, err := store.Add(ctx, "once", IntValue(1), time.Minute)
	if err != nil || !created {
		t.Fatalf("fresh add: created=%v err=%v", created, err)
	}
	created, err = store.Add(ctx, "once", IntValue(2), time.Minute)
	if err != nil || created {
		t.Fatalf("add over live entry should lose: created=%v err=%v", created, err)
	}
	v, _, _ := store.Get(ctx, "once")
	if n, _ := v.Int(); n != 1 {
		t.Fatalf("losing add must not clobber the value")
	}

	*now = now.Add(2 * time.Minute)
	created, err = store.Add(ctx, "once", IntValue(3), time.Minute)
	if err != nil || !created {
		t.Fatalf("add after expiry should steal the entry: created=%v err=%v", created, err)
	}
	v, ok, _ := store.Get(ctx, "once")
	if n, _ := v.Int(); !ok || n != 3 {
		t.Fatalf("steal should replace value: ok=%v", ok)
	}
}

func TestNATSStoreCounters(t *testing.T) {
	store, kv, now := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	// Counters never spring into existence on their own.
	n, ok, err := store.Increment(ctx, "ghost", 5)
	if err != nil || ok || n != 0 {
		t.Fatalf("increment of missing key: n=%d ok=%v err=%v", n, ok, err)
	}
	if _, exists := kv.entries[store.cacheKey("ghost")]; exists {
		t.Fatalf("refused increment must not create an entry")
	}

	if err := store.Set(ctx, "visits", IntValue(10), time.Minute); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	seedEA := natsRawEnvelope(t, kv, store.cacheKey("visits")).ExpiresAt

	n, ok, err = store.Increment(ctx, "visits", 5)
	if err != nil || !ok || n != 15 {
		t.Fatalf("increment: n=%d ok=%v err=%v", n, ok, err)
	}
	n, ok, err = store.Decrement(ctx, "visits", 3)
	if err != nil || !ok || n != 12 {
		t.Fatalf("decrement: n=%d ok=%v err=%v", n, ok, err)
	}

	// Arithmetic rides the stored expiry along unchanged.
	if ea := natsRawEnvelope(t, kv, store.cacheKey("visits")).ExpiresAt; ea != seedEA {
		t.Fatalf("adjust must preserve expiry: got %d want %d", ea, seedEA)
	}

	*now = now.Add(2 * time.Minute)
	n, ok, err = store.Increment(ctx, "visits", 1)
	if err != nil || ok || n != 0 {
		t.Fatalf("increment of expired entry: n=%d ok=%v err=%v", n, ok, err)
	}
}

func TestNATSStoreIncrementNonNumeric(t *testing.T) {
	store, _, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Set(ctx, "blob", BytesValue([]byte("NaN")), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, _, err := store.Increment(ctx, "blob", 1); !errors.Is(err, ErrNotNumeric) {
		t.Fatalf("expected ErrNotNumeric, got %v", err)
	}
}

func TestNATSStoreIncrementRetryLimit(t *testing.T) {
	store, kv, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Set(ctx, "hot", IntValue(1), time.Minute); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// Every compare-and-set loses, as under a pathological write storm.
	kv.updateErr = nats.ErrKeyExists
	_, _, err := store.Increment(ctx, "hot", 1)
	if err == nil || !strings.Contains(err.Error(), "retry limit") {
		t.Fatalf("expected retry limit error, got %v", err)
	}
}

func TestNATSStoreForever(t *testing.T) {
	store, _, now := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Forever(ctx, "pinned", BytesValue([]byte("v"))); err != nil {
		t.Fatalf("forever failed: %v", err)
	}
	*now = now.Add(30 * 24 * time.Hour)
	if _, ok, _ := store.Get(ctx, "pinned"); !ok {
		t.Fatalf("forever entry should outlive ordinary ttls")
	}
}

func TestNATSStoreDeleteManyAndScopedFlush(t *testing.T) {
	store, kv, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := store.Set(ctx, k, IntValue(1), time.Minute); err != nil {
			t.Fatalf("set %s failed: %v", k, err)
		}
	}
	if err := store.DeleteMany(ctx, "a", "b"); err != nil {
		t.Fatalf("delete many failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatalf("deleted key should miss")
	}

	// Flush purges only this store's scope; neighbors survive.
	if err := store.Set(ctx, "mine", IntValue(1), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	otherKey := "p." + encodeNATSKeyPart("other") + ".k." + encodeNATSKeyPart("keep")
	if _, err := kv.Put(otherKey, []byte("1")); err != nil {
		t.Fatalf("seed foreign scope: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, exists := kv.entries[store.cacheKey("mine")]; exists {
		t.Fatalf("flush should purge scoped entries")
	}
	if _, exists := kv.entries[otherKey]; !exists {
		t.Fatalf("flush must not cross the scope boundary")
	}
}

func TestNATSStorePrefixViews(t *testing.T) {
	store, _, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	if err := store.Set(ctx, "k", IntValue(1), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	scoped := store.WithPrefix("jobs")
	if _, ok, _ := scoped.Get(ctx, "k"); ok {
		t.Fatalf("prefix views must be isolated")
	}
	if err := scoped.Set(ctx, "k", IntValue(2), time.Minute); err != nil {
		t.Fatalf("scoped set failed: %v", err)
	}
	v, ok, _ := store.Get(ctx, "k")
	if n, _ := v.Int(); !ok || n != 1 {
		t.Fatalf("base view value clobbered: ok=%v n=%d", ok, n)
	}
}

func TestNATSStoreLocks(t *testing.T) {
	store, _, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	lock := store.Lock("job:sync", time.Minute, "")
	locked, err := lock.Acquire()
	if err != nil || !locked {
		t.Fatalf("acquire failed: locked=%v err=%v", locked, err)
	}
	// Cache reads see the owner token as an opaque payload.
	v, ok, _ := store.Get(ctx, "job:sync")
	if !ok || v.Kind() != KindBytes || string(v.Bytes()) != lock.Owner() {
		t.Fatalf("lock entry should read as opaque bytes: ok=%v kind=%v", ok, v.Kind())
	}

	rival := store.Lock("job:sync", time.Minute, "")
	if locked, _ := rival.Acquire(); locked {
		t.Fatalf("contended acquire should lose")
	}
	if released, _ := rival.Release(); released {
		t.Fatalf("non-owner release must report false")
	}
	if owner, _ := rival.CurrentOwner(); owner != lock.Owner() {
		t.Fatalf("owner should be unchanged, got %q", owner)
	}

	released, err := lock.Release()
	if err != nil || !released {
		t.Fatalf("owner release failed: released=%v err=%v", released, err)
	}
	if locked, _ := rival.Acquire(); !locked {
		t.Fatalf("acquire after release should win")
	}

	if err := rival.ForceRelease(); err != nil {
		t.Fatalf("force release failed: %v", err)
	}
	if owner, _ := rival.CurrentOwner(); owner != "" {
		t.Fatalf("force release should clear the owner, got %q", owner)
	}
}

func TestNATSStoreLockExpiryAndRestore(t *testing.T) {
	store, _, now := newTestNATSStore(t, "pfx")

	holder := store.Lock("job:nightly", 30*time.Second, "")
	if locked, _ := holder.Acquire(); !locked {
		t.Fatalf("acquire failed")
	}
	*now = now.Add(time.Minute)
	thief := store.Lock("job:nightly", time.Minute, "")
	if locked, err := thief.Acquire(); err != nil || !locked {
		t.Fatalf("steal after expiry: locked=%v err=%v", locked, err)
	}
	if released, _ := holder.Release(); released {
		t.Fatalf("stale handle must not release the thief's lock")
	}

	restored := store.RestoreLock("job:nightly", thief.Owner())
	if owned, err := restored.OwnedByCurrentProcess(); err != nil || !owned {
		t.Fatalf("restored handle should own the lock: owned=%v err=%v", owned, err)
	}
	if released, _ := restored.Release(); !released {
		t.Fatalf("restored release failed")
	}
}

func TestNATSStoreLockZeroTTLPins(t *testing.T) {
	store, _, now := newTestNATSStore(t, "pfx")

	pinned := store.Lock("job:pinned", 0, "")
	if locked, _ := pinned.Acquire(); !locked {
		t.Fatalf("acquire failed")
	}
	*now = now.Add(365 * 24 * time.Hour)
	rival := store.Lock("job:pinned", time.Minute, "")
	if locked, _ := rival.Acquire(); locked {
		t.Fatalf("pinned lock must not expire")
	}
	if released, _ := pinned.Release(); !released {
		t.Fatalf("pinned release failed")
	}
}

func TestNATSStoreErrorPropagation(t *testing.T) {
	store, kv, _ := newTestNATSStore(t, "pfx")
	ctx := context.Background()

	kv.getErr = errors.New("get")
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error")
	}
	kv.getErr = nil

	kv.putErr = errors.New("put")
	if err := store.Set(ctx, "k", IntValue(1), time.Minute); err == nil {
		t.Fatalf("expected set error")
	}
	kv.putErr = nil

	kv.createErr = errors.New("create")
	if _, err := store.Add(ctx, "k", IntValue(1), time.Minute); err == nil {
		t.Fatalf("expected add error")
	}
	kv.createErr = nil

	kv.deleteErr = errors.New("delete")
	if err := store.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected delete error")
	}
	kv.deleteErr = nil

	kv.listErr = errors.New("list")
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush list error")
	}
	kv.listErr = nil

	kv.statusErr = errors.New("status")
	if err := store.Ready(ctx); err == nil {
		t.Fatalf("expected ready error")
	}
}

type stubNATSKeyValue struct {
	bucket string
	rev    uint64

	entries map[string]*stubNATSKeyValueEntry

	getErr    error
	putErr    error
	createErr error
	updateErr error
	deleteErr error
	purgeErr  error
	listErr   error
	statusErr error
}

func newStubNATSKeyValue(bucket string) *stubNATSKeyValue {
	return &stubNATSKeyValue{
		bucket:  bucket,
		entries: make(map[string]*stubNATSKeyValueEntry),
	}
}

func (s *stubNATSKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	if entry.op == nats.KeyValueDelete || entry.op == nats.KeyValuePurge {
		return nil, nats.ErrKeyDeleted
	}
	return entry.clone(), nil
}

func (s *stubNATSKeyValue) Put(key string, value []byte) (uint64, error) {
	if s.putErr != nil {
		return 0, s.putErr
	}
	s.rev++
	s.entries[key] = &stubNATSKeyValueEntry{
		bucket:   s.bucket,
		key:      key,
		value:    cloneBytes(value),
		revision: s.rev,
		created:  time.Now(),
		op:       nats.KeyValuePut,
	}
	return s.rev, nil
}

func (s *stubNATSKeyValue) Create(key string, value []byte) (uint64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}
	if existing, ok := s.entries[key]; ok && existing.op == nats.KeyValuePut {
		return 0, nats.ErrKeyExists
	}
	return s.Put(key, value)
}

func (s *stubNATSKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	existing, ok := s.entries[key]
	if !ok || existing.op != nats.KeyValuePut {
		return 0, nats.ErrKeyNotFound
	}
	if existing.revision != last {
		return 0, nats.ErrKeyExists
	}
	return s.Put(key, value)
}

func (s *stubNATSKeyValue) Delete(key string, _ ...nats.DeleteOpt) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.rev++
	s.entries[key] = &stubNATSKeyValueEntry{
		bucket:   s.bucket,
		key:      key,
		revision: s.rev,
		created:  time.Now(),
		op:       nats.KeyValueDelete,
	}
	return nil
}

func (s *stubNATSKeyValue) Purge(key string, _ ...nats.DeleteOpt) error {
	if s.purgeErr != nil {
		return s.purgeErr
	}
	delete(s.entries, key)
	return nil
}

func (s *stubNATSKeyValue) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return newStubNATSKeyLister(keys), nil
}

func (s *stubNATSKeyValue) Status() (nats.KeyValueStatus, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return stubNATSStatus{bucket: s.bucket, values: uint64(len(s.entries))}, nil
}

type stubNATSKeyValueEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
	delta    uint64
	op       nats.KeyValueOp
}

func (e *stubNATSKeyValueEntry) clone() *stubNATSKeyValueEntry {
	cp := *e
	cp.value = cloneBytes(e.value)
	return &cp
}

func (e *stubNATSKeyValueEntry) Bucket() string             { return e.bucket }
func (e *stubNATSKeyValueEntry) Key() string                { return e.key }
func (e *stubNATSKeyValueEntry) Value() []byte              { return cloneBytes(e.value) }
func (e *stubNATSKeyValueEntry) Revision() uint64           { return e.revision }
func (e *stubNATSKeyValueEntry) Created() time.Time         { return e.created }
func (e *stubNATSKeyValueEntry) Delta() uint64              { return e.delta }
func (e *stubNATSKeyValueEntry) Operation() nats.KeyValueOp { return e.op }

type stubNATSKeyLister struct {
	keysCh chan string
	errCh  chan error
}

func newStubNATSKeyLister(keys []string) *stubNATSKeyLister {
	keysCh := make(chan string, len(keys))
	errCh := make(chan error)
	for _, key := range keys {
		keysCh <- key
	}
	close(keysCh)
	close(errCh)
	return &stubNATSKeyLister{keysCh: keysCh, errCh: errCh}
}

func (l *stubNATSKeyLister) Keys() <-chan string { return l.keysCh }
func (l *stubNATSKeyLister) Error() <-chan error { return l.errCh }
func (l *stubNATSKeyLister) Stop() error         { return nil }

type stubNATSStatus struct {
	bucket string
	values uint64
}

func (s stubNATSStatus) Bucket() string       { return s.bucket }
func (s stubNATSStatus) Values() uint64       { return s.values }
func (s stubNATSStatus) History() int64       { return 1 }
func (s stubNATSStatus) TTL() time.Duration   { return 0 }
func (s stubNATSStatus) BackingStore() string { return "stub" }
func (s stubNATSStatus) Bytes() uint64        { return 0 }
func (s stubNATSStatus) IsCompressed() bool   { return false }
