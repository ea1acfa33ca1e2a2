package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Bus is an in-process change transport. Every store attached to the same Bus
// sees the writes of the others, never its own; this mirrors how browser tabs
// observe each other's storage writes.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]busSub
}

type busSub struct {
	origin string
	key    string
	d      *dispatcher
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]busSub)}
}

// Attach wraps store so its writes are published on the bus under a fresh origin.
func (b *Bus) Attach(store Store) *SharedStore {
	s := &SharedStore{bus: b, origin: uuid.NewString()}
	s.Store = &publishingStore{Store: store, publish: func(_ context.Context, c Change) {
		c.Origin = s.origin
		b.publish(c)
	}}
	return s
}

func (b *Bus) publish(c Change) {
	b.mu.RLock()
	targets := make([]*dispatcher, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.origin == c.Origin || !matchesKey(c, sub.key) {
			continue
		}
		targets = append(targets, sub.d)
	}
	b.mu.RUnlock()
	for _, d := range targets {
		d.deliver(Change{Value: cloneBytes(c.Value), Deleted: c.Deleted, Origin: c.Origin})
	}
}

func (b *Bus) subscribe(ctx context.Context, origin, key string, fn func(Change)) func() {
	d := newDispatcher(ctx, key, fn)
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = busSub{origin: origin, key: key, d: d}
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			d.stop()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-d.done:
			stop()
		}
	}()
	return stop
}

// SharedStore is a Store attached to a Bus. It is also the ChangeNotifier for
// writes made through sibling stores.
type SharedStore struct {
	Store
	bus    *Bus
	origin string
}

// Origin returns the id stamped on changes written through this store.
func (s *SharedStore) Origin() string { return s.origin }

// Watch implements ChangeNotifier.
func (s *SharedStore) Watch(ctx context.Context, key string, fn func(Change)) (func(), error) {
	return s.bus.subscribe(ctx, s.origin, key, fn), nil
}

// Keys implements Lister when the attached store does.
func (s *SharedStore) Keys(ctx context.Context) ([]string, error) {
	return ListKeys(ctx, s.Store)
}
