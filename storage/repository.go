package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/goforj/geostate/geoerr"
)

// Repository provides JSON persistence on top of Store.
//
// Reads never fail on bad data: a value that does not decode is deleted and
// reported as absent, so callers fall back to their defaults. Backend failures
// are returned as geoerr.Storage errors.
type Repository struct {
	store    Store
	observer Observer
	logger   *slog.Logger
}

// NewRepository creates a repository bound to a concrete store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store, logger: slog.Default()}
}

// WithObserver attaches an observer to receive operation events.
func (r *Repository) WithObserver(o Observer) *Repository {
	r.observer = o
	return r
}

// WithLogger sets the logger used for self-healing reports.
func (r *Repository) WithLogger(l *slog.Logger) *Repository {
	if l != nil {
		r.logger = l
	}
	return r
}

// Store returns the underlying store implementation.
func (r *Repository) Store() Store {
	return r.store
}

// Get returns raw bytes for key when present.
func (r *Repository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	body, ok, err := r.store.Get(ctx, key)
	r.observe(ctx, "get", key, ok, err, start)
	if err != nil {
		return nil, false, geoerr.Wrapf(geoerr.Storage, "storage.get", err, "read %q", key)
	}
	return body, ok, nil
}

// Set writes raw bytes to key without expiry unless ttl > 0.
func (r *Repository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := r.store.Set(ctx, key, value, ttl)
	r.observe(ctx, "set", key, false, err, start)
	return geoerr.Wrapf(geoerr.Storage, "storage.set", err, "write %q", key)
}

// Delete removes a single key.
func (r *Repository) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := r.store.Delete(ctx, key)
	r.observe(ctx, "delete", key, false, err, start)
	return geoerr.Wrapf(geoerr.Storage, "storage.delete", err, "delete %q", key)
}

// DeleteMany removes multiple keys.
func (r *Repository) DeleteMany(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := r.store.DeleteMany(ctx, keys...)
	r.observe(ctx, "delete_many", "", false, err, start)
	return geoerr.Wrap(geoerr.Storage, "storage.delete_many", err)
}

// Flush clears every key in this store's scope.
func (r *Repository) Flush(ctx context.Context) error {
	start := time.Now()
	err := r.store.Flush(ctx)
	r.observe(ctx, "flush", "", false, err, start)
	return geoerr.Wrap(geoerr.Storage, "storage.flush", err)
}

// Keys lists the keys held by the underlying store.
func (r *Repository) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := ListKeys(ctx, r.store)
	r.observe(ctx, "keys", "", len(keys) > 0, err, start)
	if geoerr.Is(err, geoerr.Unavailable) {
		return nil, err
	}
	return keys, geoerr.Wrap(geoerr.Storage, "storage.keys", err)
}

// GetJSON decodes the value at key into T. A corrupt value is removed and
// reported as a miss.
func GetJSON[T any](ctx context.Context, r *Repository, key string) (T, bool, error) {
	var zero T
	body, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	out, err := DecodeJSON[T](body)
	if err != nil {
		r.logger.Warn("discarding unreadable persisted value", "key", key, "err", err)
		if delErr := r.store.Delete(ctx, key); delErr != nil {
			r.logger.Warn("failed to remove unreadable persisted value", "key", key, "err", delErr)
		}
		return zero, false, nil
	}
	return out, true, nil
}

// SetJSON encodes value as JSON and writes it to key.
func SetJSON[T any](ctx context.Context, r *Repository, key string, value T, ttl time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return geoerr.Wrapf(geoerr.Storage, "storage.set_json", err, "encode %q", key)
	}
	return r.Set(ctx, key, body, ttl)
}

// DecodeJSON decodes body into T. An empty body or a JSON null is an error so
// callers treat it like any other unusable value.
func DecodeJSON[T any](body []byte) (T, error) {
	var out T
	if len(body) == 0 || string(body) == "null" {
		return out, errEmptyValue
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, err
	}
	return out, nil
}

var errEmptyValue = geoerr.New(geoerr.Validation, "storage.decode", "empty value")

func (r *Repository) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if r.observer == nil {
		return
	}
	r.observer.OnStorageOp(ctx, op, key, hit, err, time.Since(start), r.store.Driver())
}
