package storage

import (
	"context"
	"sync"
	"time"
)

// Change describes a write to a watched key made by another instance.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
	// Origin identifies the writer when the transport carries it.
	Origin string
}

// ChangeNotifier delivers changes made to key. Drivers without an origin
// marker also report the watcher's own writes. The returned stop func is
// idempotent; cancelling ctx also stops the watch.
type ChangeNotifier interface {
	Watch(ctx context.Context, key string, fn func(Change)) (stop func(), err error)
}

// NopNotifier never reports changes. Use it for single-instance deployments.
type NopNotifier struct{}

// Watch implements ChangeNotifier.
func (NopNotifier) Watch(context.Context, string, func(Change)) (func(), error) {
	return func() {}, nil
}

// publishingStore reports every successful write through publish.
type publishingStore struct {
	Store
	publish func(ctx context.Context, c Change)
}

func (s *publishingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.Store.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	s.publish(ctx, Change{Key: key, Value: cloneBytes(value)})
	return nil
}

func (s *publishingStore) Delete(ctx context.Context, key string) error {
	if err := s.Store.Delete(ctx, key); err != nil {
		return err
	}
	s.publish(ctx, Change{Key: key, Deleted: true})
	return nil
}

func (s *publishingStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := s.Store.DeleteMany(ctx, keys...); err != nil {
		return err
	}
	for _, key := range keys {
		s.publish(ctx, Change{Key: key, Deleted: true})
	}
	return nil
}

func (s *publishingStore) Flush(ctx context.Context) error {
	if err := s.Store.Flush(ctx); err != nil {
		return err
	}
	s.publish(ctx, Change{Key: flushKey, Deleted: true})
	return nil
}

// flushKey marks a Change that invalidates every key.
const flushKey = "*"

func matchesKey(c Change, key string) bool {
	return c.Key == key || c.Key == flushKey
}

// dispatcher delivers changes to fn on its own goroutine, in order, until
// stopped. Slow handlers never block the publisher beyond the buffer.
type dispatcher struct {
	ch   chan Change
	done chan struct{}
	once sync.Once
}

const dispatchBuffer = 64

func newDispatcher(ctx context.Context, key string, fn func(Change)) *dispatcher {
	d := &dispatcher{
		ch:   make(chan Change, dispatchBuffer),
		done: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				d.stop()
				return
			case <-d.done:
				return
			case c := <-d.ch:
				select {
				case <-d.done:
					return
				default:
				}
				c.Key = key
				fn(c)
			}
		}
	}()
	return d
}

func (d *dispatcher) deliver(c Change) {
	select {
	case <-d.done:
	case d.ch <- c:
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
}

// Keys implements Lister when the wrapped store does.
func (s *publishingStore) Keys(ctx context.Context) ([]string, error) {
	return ListKeys(ctx, s.Store)
}
