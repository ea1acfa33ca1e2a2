// Package storage is the persistence adapter behind geostate: a durable
// key/value Store with interchangeable backends, a JSON Repository that
// treats unreadable values as absent, and change notification so several
// open instances can observe each other's writes.
package storage

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/goforj/geostate/geoerr"
)

// Driver identifies a storage backend.
type Driver string

const (
	DriverNull   Driver = "null"
	DriverFile   Driver = "file"
	DriverMemory Driver = "memory"
	DriverDynamo Driver = "dynamodb"
	DriverSQL    Driver = "sql"
	DriverRedis  Driver = "redis"
	DriverNATS   Driver = "nats"
)

// Store is the backend contract. A ttl <= 0 falls back to the store's
// default lifetime, which is "forever" unless configured otherwise.
//
// Every driver rejects blank keys with an error matching ErrEmptyKey and
// reports backend failures as geoerr.Storage errors.
type Store interface {
	Driver() Driver
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate their live keys.
// Keys come back without any backend prefix, sorted.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// ErrEmptyKey reports a blank key. Match it with errors.Is.
var ErrEmptyKey = geoerr.New(geoerr.Validation, "", "empty key")

// ListKeys returns the keys held by store, or an Unavailable error when the
// driver cannot enumerate them.
func ListKeys(ctx context.Context, store Store) ([]string, error) {
	lister, ok := store.(Lister)
	if !ok {
		return nil, geoerr.Newf(geoerr.Unavailable, "storage.keys", "%s driver cannot list keys", store.Driver())
	}
	return lister.Keys(ctx)
}

// deadline is a unix-millis expiry. Zero never expires.
type deadline int64

func deadlineFor(ttl, fallback time.Duration) deadline {
	if ttl <= 0 {
		ttl = fallback
	}
	if ttl <= 0 {
		return 0
	}
	return deadline(time.Now().Add(ttl).UnixMilli())
}

func (d deadline) passed() bool {
	return d > 0 && time.Now().UnixMilli() > int64(d)
}

// keyspace scopes keys on backends that other applications may share.
type keyspace string

func (ks keyspace) wrap(key string) string {
	if ks == "" {
		return key
	}
	return string(ks) + ":" + key
}

func (ks keyspace) unwrap(stored string) (string, bool) {
	if ks == "" {
		return stored, true
	}
	return strings.CutPrefix(stored, string(ks)+":")
}

func opName(d Driver, op string) string {
	return "storage." + string(d) + "." + op
}

func checkKeys(d Driver, op string, keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			return &geoerr.Error{Kind: geoerr.Validation, Op: opName(d, op), Msg: ErrEmptyKey.Msg}
		}
	}
	return nil
}

// backendErr marks err as a failure of driver d. A nil err stays nil.
func backendErr(d Driver, op string, err error) error {
	return geoerr.Wrap(geoerr.Storage, opName(d, op), err)
}

func notConfigured(d Driver, op string) error {
	return geoerr.Newf(geoerr.Unavailable, opName(d, op), "%s backend not configured", d)
}

type listingStore interface {
	Store
	Lister
}

// flushListed removes every key the store reports, leaving foreign keys on
// a shared backend alone.
func flushListed(ctx context.Context, s listingStore) error {
	keys, err := s.Keys(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.DeleteMany(ctx, keys...)
}

func sortedKeys(keys []string) []string {
	slices.Sort(keys)
	return slices.Compact(keys)
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}
