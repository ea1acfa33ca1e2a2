// Package notify is the observer registry shared by the stateful services.
//
// Events are delivered in publish order by whichever goroutine finds the
// queue idle. A subscriber that publishes from inside its callback only
// enqueues; its event is delivered after the current one finishes, so
// re-entrant updates never deadlock or reorder.
package notify

import (
	"log/slog"
	"sync"
)

// Registry fans events of type E out to subscribers.
type Registry[E any] struct {
	Logger *slog.Logger

	mu       sync.Mutex
	next     uint64
	order    []uint64
	subs     map[uint64]func(E)
	queue    []E
	draining bool
	closed   bool
}

// Subscribe registers fn and returns an idempotent unsubscribe func.
func (r *Registry[E]) Subscribe(fn func(E)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return func() {}
	}
	if r.subs == nil {
		r.subs = make(map[uint64]func(E))
	}
	r.next++
	id := r.next
	r.subs[id] = fn
	r.order = append(r.order, id)
	return func() { r.remove(id) }
}

func (r *Registry[E]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return
	}
	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of live subscribers.
func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Publish queues e and, unless another goroutine is already draining,
// delivers every queued event before returning.
func (r *Registry[E]) Publish(e E) {
	r.Enqueue(e)
	r.Drain()
}

// Enqueue appends e without delivering it. Callers that assign order under
// their own lock enqueue there and Drain after unlocking.
func (r *Registry[E]) Enqueue(e E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.queue = append(r.queue, e)
}

// Drain delivers queued events unless another goroutine is already doing so.
func (r *Registry[E]) Drain() {
	r.mu.Lock()
	if r.closed || r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	for len(r.queue) > 0 && !r.closed {
		ev := r.queue[0]
		r.queue = r.queue[1:]
		ids := append([]uint64(nil), r.order...)
		r.mu.Unlock()

		for _, id := range ids {
			r.mu.Lock()
			fn, ok := r.subs[id]
			r.mu.Unlock()
			if ok {
				r.call(fn, ev)
			}
		}

		r.mu.Lock()
	}
	r.queue = nil
	r.draining = false
	r.mu.Unlock()
}

// Close drops every subscriber and pending event. Later publishes are ignored.
func (r *Registry[E]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.subs = nil
	r.order = nil
	r.queue = nil
}

func (r *Registry[E]) call(fn func(E), ev E) {
	defer func() {
		if p := recover(); p != nil {
			logger := r.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("subscriber panicked", "panic", p)
		}
	}()
	fn(ev)
}
