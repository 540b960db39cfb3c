package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsEnvelopeMarker    = "cache-v1"
	natsAdjustMaxAttempts = 16
)

// NATSKeyValue captures the subset of nats.KeyValue used by the store.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
	Status() (nats.KeyValueStatus, error)
}

// natsStore keeps each record in a JetStream key-value bucket as a JSON
// envelope wrapping the wire payload and a unix-seconds expiry. The bucket
// has no conditional-put primitive, so the add and counter rules are
// enforced with revision-checked updates instead.
type natsStore struct {
	kv     NATSKeyValue
	prefix string
	log    Logger

	// now is swapped by tests that walk the clock across expiry boundaries.
	now func() time.Time
}

type natsEnvelope struct {
	Marker    string `json:"m"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"ea"`
}

func newNATSStore(cfg StoreConfig) *natsStore {
	log := cfg.Logger
	if log == nil {
		log = NopLogger{}
	}
	return &natsStore{
		kv:     cfg.NATSKeyValue,
		prefix: cfg.Prefix,
		log:    log,
		now:    time.Now,
	}
}

func (s *natsStore) Driver() Driver { return DriverNATS }

func (s *natsStore) Prefix() string { return s.prefix }

func (s *natsStore) WithPrefix(prefix string) Store {
	clone := *s
	clone.prefix = prefix
	return &clone
}

func (s *natsStore) Ready(_ context.Context) error {
	if s.kv == nil {
		return errors.New("nats cache key-value unavailable")
	}
	_, err := s.kv.Status()
	return err
}

func (s *natsStore) Get(_ context.Context, key string) (Value, bool, error) {
	if s.kv == nil {
		return Value{}, false, errors.New("nats cache key-value unavailable")
	}
	cacheKey := s.cacheKey(key)
	entry, err := s.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, err
	}
	if isNATSTombstone(entry) {
		return Value{}, false, nil
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return Value{}, false, err
	}
	if !wrapped {
		// Entries written by other clients carry no expiry and decode by
		// the shared integer-first rule.
		return wireDecode(entry.Value()), true, nil
	}
	if s.expiredEnvelope(envelope) {
		// Reads purge dead entries opportunistically. The revision guard
		// keeps a racing fresh write alive, and a failed purge is harmless
		// because the entry stays invisible either way.
		if perr := s.kv.Purge(cacheKey, nats.LastRevision(entry.Revision())); perr != nil && !isNATSMiss(perr) {
			s.log.Debug("nats expired entry purge failed", Fields{"key": key, "error": perr.Error()})
		}
		return Value{}, false, nil
	}
	return wireDecode(envelope.Value), true, nil
}

func (s *natsStore) Set(_ context.Context, key string, value Value, ttl time.Duration) error {
	if s.kv == nil {
		return errors.New("nats cache key-value unavailable")
	}
	wire, err := wireEncode(value)
	if err != nil {
		return err
	}
	body, err := encodeNATSEnvelope(wire, s.expiryAt(s.now(), ttl))
	if err != nil {
		return err
	}
	_, err = s.kv.Put(s.cacheKey(key), body)
	return err
}

// Add installs the value only when no live entry holds the key. An expired
// envelope is stolen with a revision-checked update, so concurrent adders
// race safely: one wins, the rest see false.
func (s *natsStore) Add(_ context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	if s.kv == nil {
		return false, errors.New("nats cache key-value unavailable")
	}
	wire, err := wireEncode(value)
	if err != nil {
		return false, err
	}
	return s.addEntry(s.cacheKey(key), wire, ttl)
}

func (s *natsStore) addEntry(cacheKey string, wire []byte, ttl time.Duration) (bool, error) {
	now := s.now()
	body, err := encodeNATSEnvelope(wire, s.expiryAt(now, ttl))
	if err != nil {
		return false, err
	}
	entry, err := s.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return s.createEntry(cacheKey, body)
	}
	if err != nil {
		return false, err
	}
	if isNATSTombstone(entry) {
		return s.createEntry(cacheKey, body)
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return false, err
	}
	// Foreign entries never expire, so they always win; own envelopes can
	// only be stolen once their expiry is strictly in the past.
	if !wrapped || envelope.ExpiresAt <= 0 || envelope.ExpiresAt >= now.Unix() {
		return false, nil
	}
	_, err = s.kv.Update(cacheKey, body, entry.Revision())
	if err == nil {
		return true, nil
	}
	if isNATSRevisionConflict(err) || isNATSMiss(err) {
		return false, nil
	}
	return false, err
}

func (s *natsStore) createEntry(cacheKey string, body []byte) (bool, error) {
	_, err := s.kv.Create(cacheKey, body)
	if err == nil {
		return true, nil
	}
	if isNATSRevisionConflict(err) {
		return false, nil
	}
	return false, err
}

func (s *natsStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, delta)
}

func (s *natsStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, -delta)
}

// adjust applies delta to a live integer entry with a read-modify-update
// loop. A missing, tombstoned or expired entry refuses the update instead
// of resurrecting a counter from zero, and the stored expiry rides along
// unchanged through the rewrite.
func (s *natsStore) adjust(_ context.Context, key string, delta int64) (int64, bool, error) {
	if s.kv == nil {
		return 0, false, errors.New("nats cache key-value unavailable")
	}
	cacheKey := s.cacheKey(key)
	for attempt := 0; attempt < natsAdjustMaxAttempts; attempt++ {
		entry, err := s.kv.Get(cacheKey)
		if isNATSMiss(err) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		if isNATSTombstone(entry) {
			return 0, false, nil
		}
		envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
		if err != nil {
			return 0, false, err
		}
		raw := entry.Value()
		if wrapped {
			if s.expiredEnvelope(envelope) {
				return 0, false, nil
			}
			raw = envelope.Value
		}
		current, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
		}
		next := current + delta
		body := []byte(strconv.FormatInt(next, 10))
		if wrapped {
			body, err = encodeNATSEnvelope(body, envelope.ExpiresAt)
			if err != nil {
				return 0, false, err
			}
		}
		_, err = s.kv.Update(cacheKey, body, entry.Revision())
		if err == nil {
			return next, true, nil
		}
		if !isNATSRevisionConflict(err) && !isNATSMiss(err) {
			return 0, false, err
		}
	}
	s.log.Warn("nats cache adjust gave up after repeated revision conflicts", Fields{"key": key, "attempts": natsAdjustMaxAttempts})
	return 0, false, errors.New("nats cache increment exceeded retry limit")
}

func (s *natsStore) Forever(ctx context.Context, key string, value Value) error {
	return s.Set(ctx, key, value, foreverTTL)
}

func (s *natsStore) Delete(_ context.Context, key string) error {
	if s.kv == nil {
		return errors.New("nats cache key-value unavailable")
	}
	err := s.kv.Delete(s.cacheKey(key))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (s *natsStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Flush purges every key under this store's scope prefix, leaving the rest
// of the bucket alone.
func (s *natsStore) Flush(_ context.Context) error {
	if s.kv == nil {
		return errors.New("nats cache key-value unavailable")
	}
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scopePrefix := s.scopePrefix()
	purged := 0
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, scopePrefix) {
			continue
		}
		if err := s.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
		purged++
	}
	for err := range lister.Error() {
		if err != nil {
			return err
		}
	}
	s.log.Debug("nats cache flush purged scope", Fields{"scope": scopePrefix, "purged": purged})
	return nil
}

// Lock returns a handle for a distributed mutex living in the same bucket.
// An empty owner is replaced with a random token.
func (s *natsStore) Lock(name string, ttl time.Duration, owner string) *Lock {
	return newLock(s, name, ttl, owner)
}

// RestoreLock rebuilds a handle around an owner token captured from a
// previous Lock call, typically in another process.
func (s *natsStore) RestoreLock(name, owner string) *Lock {
	return restoreLock(s, name, owner)
}

// acquireLock reuses the add machinery. The envelope carries the bare owner
// token, which non-numeric reads surface as opaque bytes.
func (s *natsStore) acquireLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if s.kv == nil {
		return false, errors.New("nats cache key-value unavailable")
	}
	if ttl <= 0 {
		ttl = foreverTTL
	}
	return s.addEntry(s.cacheKey(name), []byte(owner), ttl)
}

// releaseLock removes the lock entry only while the caller still owns it.
// The revision guard on the delete closes the race where the lock expires
// and another process re-acquires it between the read and the delete.
func (s *natsStore) releaseLock(_ context.Context, name, owner string) (bool, error) {
	if s.kv == nil {
		return false, errors.New("nats cache key-value unavailable")
	}
	cacheKey := s.cacheKey(name)
	entry, err := s.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if isNATSTombstone(entry) {
		return false, nil
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return false, err
	}
	raw := entry.Value()
	if wrapped {
		raw = envelope.Value
	}
	if string(raw) != owner {
		return false, nil
	}
	if err := s.kv.Delete(cacheKey, nats.LastRevision(entry.Revision())); err != nil {
		if isNATSRevisionConflict(err) || isNATSMiss(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *natsStore) forceReleaseLock(ctx context.Context, name string) error {
	return s.Delete(ctx, name)
}

// lockOwner reads the current owner token, or "" when the lock is free or
// expired.
func (s *natsStore) lockOwner(_ context.Context, name string) (string, error) {
	if s.kv == nil {
		return "", errors.New("nats cache key-value unavailable")
	}
	entry, err := s.kv.Get(s.cacheKey(name))
	if isNATSMiss(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if isNATSTombstone(entry) {
		return "", nil
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return "", err
	}
	if !wrapped {
		return string(entry.Value()), nil
	}
	if s.expiredEnvelope(envelope) {
		return "", nil
	}
	return string(envelope.Value), nil
}

// cacheKey maps an arbitrary cache key onto the restricted NATS key
// charset. Prefix and key are encoded separately so the scope boundary
// stays parseable.
func (s *natsStore) cacheKey(key string) string {
	return s.scopePrefix() + encodeNATSKeyPart(key)
}

func (s *natsStore) scopePrefix() string {
	return "p." + encodeNATSKeyPart(s.prefix) + ".k."
}

// expiryAt converts a ttl into an absolute unix-seconds deadline. Anything
// non-positive lands exactly on now, an already-dead entry. Positive
// sub-second ttls round up so the entry lives at least one second.
func (s *natsStore) expiryAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return now.Unix()
	}
	exp := now.Add(ttl).Unix()
	if exp <= now.Unix() {
		exp = now.Unix() + 1
	}
	return exp
}

func (s *natsStore) expiredEnvelope(envelope natsEnvelope) bool {
	return envelope.ExpiresAt > 0 && s.now().Unix() >= envelope.ExpiresAt
}

func encodeNATSEnvelope(value []byte, expiresAt int64) ([]byte, error) {
	envelope := natsEnvelope{
		Marker:    natsEnvelopeMarker,
		Value:     cloneBytes(value),
		ExpiresAt: expiresAt,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal nats cache envelope: %w", err)
	}
	return body, nil
}

func decodeNATSEnvelope(body []byte) (natsEnvelope, bool, error) {
	var envelope natsEnvelope
	if len(body) == 0 || body[0] != '{' {
		return envelope, false, nil
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return natsEnvelope{}, false, fmt.Errorf("decode nats cache envelope: %w", err)
	}
	if envelope.Marker != natsEnvelopeMarker {
		return natsEnvelope{}, false, nil
	}
	return envelope, true, nil
}

func isNATSTombstone(entry nats.KeyValueEntry) bool {
	return entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

// isNATSRevisionConflict matches both shapes a lost compare-and-set comes
// back as: the mapped ErrKeyExists and the raw wrong-last-sequence API
// error from revision-checked updates and deletes.
func isNATSRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}
