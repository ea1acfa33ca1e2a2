package storage

import (
	"context"
	"sync"
	"time"
)

// MemoStore remembers reads of a slower backend for the life of the
// process. Writes through it drop the key they touch; writes by other
// instances are only seen after Forget, which Follow wires to a
// ChangeNotifier.
//
// Example: memoize a redis backend, following remote writes
//
//	base, _ := storage.NewWith(ctx, storage.DriverRedis, storage.WithRedisClient(client))
//	memo := storage.NewMemoStore(base)
//	stop, _ := memo.Follow(ctx, notifier, favorites.DefaultKey)
//	defer stop()
//	repo := storage.NewRepository(memo)
type MemoStore struct {
	store Store

	mu   sync.Mutex
	seen map[string]memoRead
	// gen advances on every invalidation so a read that raced with one is
	// not remembered.
	gen uint64
}

type memoRead struct {
	body  []byte
	found bool
}

// NewMemoStore decorates store with read memoization.
func NewMemoStore(store Store) *MemoStore {
	return &MemoStore{store: store, seen: make(map[string]memoRead)}
}

func (s *MemoStore) Driver() Driver { return s.store.Driver() }

func (s *MemoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	read, ok := s.seen[key]
	gen := s.gen
	s.mu.Unlock()
	if ok {
		return cloneBytes(read.body), read.found, nil
	}

	body, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	if s.gen == gen {
		s.seen[key] = memoRead{body: cloneBytes(body), found: found}
	}
	s.mu.Unlock()
	return body, found, nil
}

func (s *MemoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer s.Forget(key)
	return s.store.Set(ctx, key, value, ttl)
}

func (s *MemoStore) Delete(ctx context.Context, key string) error {
	defer s.Forget(key)
	return s.store.Delete(ctx, key)
}

func (s *MemoStore) DeleteMany(ctx context.Context, keys ...string) error {
	defer s.Forget(keys...)
	return s.store.DeleteMany(ctx, keys...)
}

func (s *MemoStore) Flush(ctx context.Context) error {
	defer s.forgetAll()
	return s.store.Flush(ctx)
}

// Keys implements Lister when the wrapped store does. Listing bypasses the
// memo.
func (s *MemoStore) Keys(ctx context.Context) ([]string, error) {
	return ListKeys(ctx, s.store)
}

// Forget drops remembered reads so the next Get reaches the backend.
func (s *MemoStore) Forget(keys ...string) {
	s.mu.Lock()
	s.gen++
	for _, key := range keys {
		delete(s.seen, key)
	}
	s.mu.Unlock()
}

func (s *MemoStore) forgetAll() {
	s.mu.Lock()
	s.gen++
	clear(s.seen)
	s.mu.Unlock()
}

// Follow forgets each key whenever n reports a change to it. The returned
// stop func ends every watch; it is also called when a watch fails to start.
func (s *MemoStore) Follow(ctx context.Context, n ChangeNotifier, keys ...string) (func(), error) {
	stops := make([]func(), 0, len(keys))
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}
	for _, key := range keys {
		stop, err := n.Watch(ctx, key, func(Change) { s.Forget(key) })
		if err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, stop)
	}
	return stopAll, nil
}
