package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore keeps values in process. go-cache owns expiry and runs the
// background sweep, so reads never see a lapsed value.
type memoryStore struct {
	items    *gocache.Cache
	lifetime time.Duration
}

func newMemoryStore(lifetime, sweep time.Duration) *memoryStore {
	if sweep <= 0 {
		sweep = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		items:    gocache.New(gocache.NoExpiration, sweep),
		lifetime: lifetime,
	}
}

func (s *memoryStore) Driver() Driver { return DriverMemory }

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := checkKeys(DriverMemory, "get", key); err != nil {
		return nil, false, err
	}
	raw, found := s.items.Get(key)
	if !found {
		return nil, false, nil
	}
	body, _ := raw.([]byte)
	return cloneBytes(body), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKeys(DriverMemory, "set", key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.lifetime
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.items.Set(key, cloneBytes(value), ttl)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

func (s *memoryStore) DeleteMany(_ context.Context, keys ...string) error {
	if err := checkKeys(DriverMemory, "delete", keys...); err != nil {
		return err
	}
	for _, key := range keys {
		s.items.Delete(key)
	}
	return nil
}

func (s *memoryStore) Flush(context.Context) error {
	s.items.Flush()
	return nil
}

// Keys implements Lister.
func (s *memoryStore) Keys(context.Context) ([]string, error) {
	live := s.items.Items()
	keys := make([]string, 0, len(live))
	for key := range live {
		keys = append(keys, key)
	}
	return sortedKeys(keys), nil
}
