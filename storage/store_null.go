package storage

import (
	"context"
	"time"
)

// nullStore accepts every write and keeps none of them, for sessions that
// must leave nothing behind. Reads always miss.
type nullStore struct{}

func newNullStore() nullStore { return nullStore{} }

func (nullStore) Driver() Driver { return DriverNull }

func (nullStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	return nil, false, checkKeys(DriverNull, "get", key)
}

func (nullStore) Set(_ context.Context, key string, _ []byte, _ time.Duration) error {
	return checkKeys(DriverNull, "set", key)
}

func (nullStore) Delete(_ context.Context, key string) error {
	return checkKeys(DriverNull, "delete", key)
}

func (nullStore) DeleteMany(_ context.Context, keys ...string) error {
	return checkKeys(DriverNull, "delete", keys...)
}

func (nullStore) Flush(context.Context) error { return nil }

// Keys implements Lister; there is never anything to report.
func (nullStore) Keys(context.Context) ([]string, error) { return nil, nil }
