package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSKeyValue is the part of nats.KeyValue the store and NATSWatcher need.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
	Watch(keys string, opts ...nats.WatchOpt) (nats.KeyWatcher, error)
}

// natsRecordTag marks payloads written by this package. Anything else found
// under the store's scope is treated as garbage and purged on read.
const natsRecordTag = "geostate/1"

// natsRecord wraps values because JetStream KV buckets have a single
// bucket-wide TTL; per-key lifetimes are enforced on read.
type natsRecord struct {
	Tag     string   `json:"tag"`
	Payload []byte   `json:"payload"`
	Expires deadline `json:"expires,omitempty"`
}

// natsScope is the subject prefix for one store. Subject tokens cannot hold
// arbitrary text, so the prefix and each key are base64url encoded.
type natsScope string

func newNATSScope(prefix string) natsScope {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return natsScope("p." + encodeNATSToken(prefix) + ".k.")
}

func (sc natsScope) subject(key string) string {
	return string(sc) + encodeNATSToken(key)
}

func (sc natsScope) key(subject string) (string, bool) {
	token, ok := strings.CutPrefix(subject, string(sc))
	if !ok {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func encodeNATSToken(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

type natsStore struct {
	kv       NATSKeyValue
	scope    natsScope
	lifetime time.Duration
}

func newNATSStore(kv NATSKeyValue, lifetime time.Duration, prefix string) *natsStore {
	return &natsStore{kv: kv, scope: newNATSScope(prefix), lifetime: lifetime}
}

func (s *natsStore) Driver() Driver { return DriverNATS }

func (s *natsStore) ready(op string, keys ...string) error {
	if s.kv == nil {
		return notConfigured(DriverNATS, op)
	}
	return checkKeys(DriverNATS, op, keys...)
}

func (s *natsStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := s.ready("get", key); err != nil {
		return nil, false, err
	}
	subject := s.scope.subject(key)
	entry, err := s.kv.Get(subject)
	if natsMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendErr(DriverNATS, "get", err)
	}
	value, live := openNATSEntry(entry)
	if !live {
		// lapsed or foreign; purge so the bucket does not accumulate them
		_ = s.kv.Purge(subject)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *natsStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.ready("set", key); err != nil {
		return err
	}
	body, err := json.Marshal(natsRecord{
		Tag:     natsRecordTag,
		Payload: value,
		Expires: deadlineFor(ttl, s.lifetime),
	})
	if err != nil {
		return backendErr(DriverNATS, "set", err)
	}
	_, err = s.kv.Put(s.scope.subject(key), body)
	return backendErr(DriverNATS, "set", err)
}

func (s *natsStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

// DeleteMany writes delete markers rather than purging, so watchers see
// the removal.
func (s *natsStore) DeleteMany(_ context.Context, keys ...string) error {
	if err := s.ready("delete", keys...); err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.kv.Delete(s.scope.subject(key)); err != nil && !natsMiss(err) {
			return backendErr(DriverNATS, "delete", err)
		}
	}
	return nil
}

func (s *natsStore) Flush(ctx context.Context) error {
	if err := s.ready("flush"); err != nil {
		return err
	}
	return flushListed(ctx, s)
}

// Keys implements Lister. Only subjects under the store's scope are
// reported; expiry is not checked here.
func (s *natsStore) Keys(context.Context) ([]string, error) {
	if err := s.ready("keys"); err != nil {
		return nil, err
	}
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr(DriverNATS, "keys", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for subject := range lister.Keys() {
		if key, ok := s.scope.key(subject); ok {
			keys = append(keys, key)
		}
	}
	return sortedKeys(keys), nil
}

// openNATSEntry returns the payload held by entry. live is false for
// delete markers, lapsed records and payloads this package did not write.
func openNATSEntry(entry nats.KeyValueEntry) (value []byte, live bool) {
	if entry == nil || entry.Operation() != nats.KeyValuePut {
		return nil, false
	}
	var rec natsRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil || rec.Tag != natsRecordTag {
		return nil, false
	}
	if rec.Expires.passed() {
		return nil, false
	}
	return rec.Payload, true
}

func natsMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}
