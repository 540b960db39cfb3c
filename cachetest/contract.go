package cachetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kvstash/cache"
)

// Options configures shared store contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// NullSemantics enables relaxed expectations for the null store:
	// writes succeed, every read misses, duplicate adds report created.
	NullSemantics bool
	// FlushUnsupported asserts Flush returns cache.ErrFlushUnsupported
	// and leaves records in place. Set it for backends whose store
	// cannot enumerate its own keys.
	FlushUnsupported bool
	// SkipFlush disables the flush checks entirely, for shared backends
	// where clearing the scope would be expensive or disruptive.
	SkipFlush bool
	// TTL is the expiry used in TTL checks. Defaults to one second, the
	// coarsest expiry resolution across backends.
	TTL time.Duration
	// TTLWait bounds how long the harness polls for expiry to be
	// observed. Defaults to TTL plus two seconds.
	TTLWait time.Duration
}

// RunStoreContract exercises the Store behaviors every backend must share:
// typed round-trips, miss semantics, lazy TTL expiry, add-if-absent,
// no-create counters, prefix scoping and delete/flush. Pass a store wired
// to a real or fake backend; keys are namespaced by CaseName so suites can
// share one backend.
func RunStoreContract(t *testing.T, store cache.Store, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Second
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = ttl + 2*time.Second
	}

	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	if err := store.Ready(ctx); err != nil {
		t.Fatalf("store not ready: %v", err)
	}

	// Typed round-trips. Every Value kind must come back as written.
	if err := store.Set(ctx, key("int"), cache.IntValue(-42), time.Minute); err != nil {
		t.Fatalf("set int failed: %v", err)
	}
	if err := store.Set(ctx, key("float"), cache.FloatValue(2.5), time.Minute); err != nil {
		t.Fatalf("set float failed: %v", err)
	}
	// A payload that itself starts with the opaque wire marker, plus raw
	// bytes, to catch double-framing bugs.
	payload := append([]byte("OPQ1"), 0x00, 0xff)
	if err := store.Set(ctx, key("bytes"), cache.BytesValue(payload), time.Minute); err != nil {
		t.Fatalf("set bytes failed: %v", err)
	}
	if err := store.Set(ctx, key("string"), cache.StringValue("42"), time.Minute); err != nil {
		t.Fatalf("set string failed: %v", err)
	}

	if opts.NullSemantics {
		for _, k := range []string{"int", "float", "bytes", "string"} {
			if _, ok, err := store.Get(ctx, key(k)); ok || err != nil {
				t.Fatalf("expected null store miss for %s: ok=%v err=%v", k, ok, err)
			}
		}
	} else {
		v, ok, err := store.Get(ctx, key("int"))
		if err != nil || !ok || v.Kind() != cache.KindInt {
			t.Fatalf("int round-trip failed: %+v ok=%v err=%v", v, ok, err)
		}
		if n, _ := v.Int(); n != -42 {
			t.Fatalf("int payload mismatch: %d", n)
		}
		v, ok, err = store.Get(ctx, key("float"))
		if err != nil || !ok || v.Kind() != cache.KindFloat {
			t.Fatalf("float round-trip failed: %+v ok=%v err=%v", v, ok, err)
		}
		if f, _ := v.Float(); f != 2.5 {
			t.Fatalf("float payload mismatch: %v", f)
		}
		v, ok, err = store.Get(ctx, key("bytes"))
		if err != nil || !ok || v.Kind() != cache.KindBytes || string(v.Bytes()) != string(payload) {
			t.Fatalf("bytes round-trip failed: %+v ok=%v err=%v", v, ok, err)
		}
		// Numeric-looking strings stay opaque; they must not come back
		// as counters.
		v, ok, err = store.Get(ctx, key("string"))
		if err != nil || !ok || v.Kind() != cache.KindBytes || v.String() != "42" {
			t.Fatalf("string round-trip failed: kind=%v %q ok=%v err=%v", v.Kind(), v.String(), ok, err)
		}

		// Mutating the caller's slice after Set must not reach the store.
		payload[0] = 'X'
		v, ok, err = store.Get(ctx, key("bytes"))
		if err != nil || !ok || v.Bytes()[0] != 0x4f {
			t.Fatalf("stored bytes aliased caller slice: %+v ok=%v err=%v", v, ok, err)
		}
	}

	// Absent keys miss without error.
	if _, ok, err := store.Get(ctx, key("absent")); ok || err != nil {
		t.Fatalf("expected clean miss: ok=%v err=%v", ok, err)
	}

	// A Forever record written now must survive the TTL waits below.
	if err := store.Forever(ctx, key("forever"), cache.StringValue("pinned")); err != nil {
		t.Fatalf("forever failed: %v", err)
	}

	// Lazy TTL expiry: the record must read as absent once its deadline
	// passes, with no background sweeper required.
	if err := store.Set(ctx, key("ttl"), cache.StringValue("v"), ttl); err != nil {
		t.Fatalf("set ttl failed: %v", err)
	}
	if !opts.NullSemantics {
		if err := waitForMiss(ctx, store, key("ttl"), wait); err != nil {
			t.Fatalf("expected ttl expiry: %v", err)
		}
	}

	// Add wins only when no live record exists.
	created, err := store.Add(ctx, key("once"), cache.StringValue("first"), time.Minute)
	if err != nil || !created {
		t.Fatalf("add on absent key failed: created=%v err=%v", created, err)
	}
	created, err = store.Add(ctx, key("once"), cache.StringValue("second"), time.Minute)
	if err != nil {
		t.Fatalf("duplicate add errored: %v", err)
	}
	if opts.NullSemantics {
		if !created {
			t.Fatalf("expected null-like duplicate add to report created=true")
		}
	} else {
		if created {
			t.Fatalf("expected duplicate add to report created=false")
		}
		v, ok, err := store.Get(ctx, key("once"))
		if err != nil || !ok || v.String() != "first" {
			t.Fatalf("losing add overwrote the record: %+v ok=%v err=%v", v, ok, err)
		}

		// An expired leftover counts as absent, so Add can steal it.
		if err := store.Set(ctx, key("steal"), cache.StringValue("old"), ttl); err != nil {
			t.Fatalf("set steal failed: %v", err)
		}
		if err := waitForMiss(ctx, store, key("steal"), wait); err != nil {
			t.Fatalf("expected steal candidate to expire: %v", err)
		}
		created, err = store.Add(ctx, key("steal"), cache.StringValue("new"), time.Minute)
		if err != nil || !created {
			t.Fatalf("add over expired record failed: created=%v err=%v", created, err)
		}
	}

	// Counters mutate existing numeric records and never create keys.
	n, ok, err := store.Increment(ctx, key("counter"), 3)
	if err != nil || ok || n != 0 {
		t.Fatalf("increment on absent key should miss: n=%d ok=%v err=%v", n, ok, err)
	}
	if !opts.NullSemantics {
		if err := store.Set(ctx, key("counter"), cache.IntValue(10), time.Minute); err != nil {
			t.Fatalf("seed counter failed: %v", err)
		}
		n, ok, err = store.Increment(ctx, key("counter"), 3)
		if err != nil || !ok || n != 13 {
			t.Fatalf("increment failed: n=%d ok=%v err=%v", n, ok, err)
		}
		n, ok, err = store.Decrement(ctx, key("counter"), 5)
		if err != nil || !ok || n != 8 {
			t.Fatalf("decrement failed: n=%d ok=%v err=%v", n, ok, err)
		}

		// Opaque records reject arithmetic.
		if err := store.Set(ctx, key("opaque"), cache.StringValue("not a number"), time.Minute); err != nil {
			t.Fatalf("seed opaque failed: %v", err)
		}
		if _, _, err := store.Increment(ctx, key("opaque"), 1); err == nil {
			t.Fatalf("expected increment on opaque record to error")
		}

		// The forever record is still alive after the waits above.
		v, ok, err := store.Get(ctx, key("forever"))
		if err != nil || !ok || v.String() != "pinned" {
			t.Fatalf("forever record vanished: %+v ok=%v err=%v", v, ok, err)
		}
	}

	// Prefix scoping: a sibling scope must not see this scope's keys.
	if !opts.NullSemantics {
		sibling := store.WithPrefix(store.Prefix() + "sib")
		if _, ok, err := sibling.Get(ctx, key("once")); ok || err != nil {
			t.Fatalf("sibling scope leaked keys: ok=%v err=%v", ok, err)
		}
		if err := sibling.Set(ctx, key("scoped"), cache.StringValue("sib"), time.Minute); err != nil {
			t.Fatalf("sibling set failed: %v", err)
		}
		if _, ok, err := store.Get(ctx, key("scoped")); ok || err != nil {
			t.Fatalf("scope leaked sibling keys: ok=%v err=%v", ok, err)
		}
		if err := sibling.Delete(ctx, key("scoped")); err != nil {
			t.Fatalf("sibling cleanup failed: %v", err)
		}
	}

	// Delete and DeleteMany; deleting absent keys succeeds.
	if err := store.Set(ctx, key("a"), cache.StringValue("1"), time.Minute); err != nil {
		t.Fatalf("set a failed: %v", err)
	}
	if err := store.Set(ctx, key("b"), cache.StringValue("2"), time.Minute); err != nil {
		t.Fatalf("set b failed: %v", err)
	}
	if err := store.Delete(ctx, key("a")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.DeleteMany(ctx, key("b"), key("absent")); err != nil {
		t.Fatalf("delete many failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, key("a")); err != nil || ok {
		t.Fatalf("expected key a deleted: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Get(ctx, key("b")); err != nil || ok {
		t.Fatalf("expected key b deleted: ok=%v err=%v", ok, err)
	}
	if err := store.Delete(ctx, key("never-existed")); err != nil {
		t.Fatalf("delete of absent key errored: %v", err)
	}

	// Flush clears this scope, or reports it cannot.
	if opts.SkipFlush {
		return
	}
	if err := store.Set(ctx, key("flush"), cache.StringValue("x"), time.Minute); err != nil {
		t.Fatalf("set flush failed: %v", err)
	}
	// A record in a sibling scope must survive a scoped flush. Only a
	// prefixed store has a scope boundary to honor; an unprefixed flush
	// legitimately clears everything.
	var sibling cache.Store
	if !opts.FlushUnsupported && !opts.NullSemantics && store.Prefix() != "" {
		sibling = store.WithPrefix(store.Prefix() + "flushsib")
		if err := sibling.Set(ctx, key("kept"), cache.StringValue("kept"), time.Minute); err != nil {
			t.Fatalf("sibling set before flush failed: %v", err)
		}
	}
	err = store.Flush(ctx)
	if opts.FlushUnsupported {
		if !errors.Is(err, cache.ErrFlushUnsupported) {
			t.Fatalf("expected ErrFlushUnsupported, got %v", err)
		}
		if !opts.NullSemantics {
			if _, ok, gerr := store.Get(ctx, key("flush")); gerr != nil || !ok {
				t.Fatalf("unsupported flush must not remove records: ok=%v err=%v", ok, gerr)
			}
		}
		return
	}
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, key("flush")); err != nil || ok {
		t.Fatalf("expected flush to clear key: ok=%v err=%v", ok, err)
	}
	if sibling != nil {
		if _, ok, err := sibling.Get(ctx, key("kept")); err != nil || !ok {
			t.Fatalf("flush crossed its scope boundary: ok=%v err=%v", ok, err)
		}
		if err := sibling.Delete(ctx, key("kept")); err != nil {
			t.Fatalf("sibling cleanup after flush failed: %v", err)
		}
	}
}

// waitForMiss polls until key reads as absent or wait elapses. Lazy expiry
// means the first read past the deadline deletes the record, so observing
// one miss is enough.
func waitForMiss(ctx context.Context, store cache.Store, key string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		_, ok, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	_, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("key %q still present after %s", key, wait)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
