// Package storagefake provides an in-memory storage.Store that records calls
// and can be told to fail, for tests of code built on storage.
package storagefake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goforj/geostate/storage"
)

// Op identifies a store operation for assertions.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpDelete     Op = "delete"
	OpDeleteMany Op = "delete_many"
	OpFlush      Op = "flush"
	OpKeys       Op = "keys"
)

// ErrInjected is returned by operations armed with FailNext or FailAlways.
var ErrInjected = errors.New("storagefake: injected failure")

// Fake is a counting in-memory store.
type Fake struct {
	inner storage.Store

	mu       sync.Mutex
	counts   map[Op]map[string]int
	failNext map[Op]int
	failAll  map[Op]bool
}

var (
	_ storage.Store  = (*Fake)(nil)
	_ storage.Lister = (*Fake)(nil)
)

// New creates a Fake backed by the memory driver.
func New() *Fake {
	return &Fake{
		inner:    storage.NewMemoryStore(),
		counts:   make(map[Op]map[string]int),
		failNext: make(map[Op]int),
		failAll:  make(map[Op]bool),
	}
}

// Reset clears recorded counts and armed failures. Stored data is kept.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
	f.failNext = make(map[Op]int)
	f.failAll = make(map[Op]bool)
}

// FailNext makes the next n calls of op return ErrInjected.
func (f *Fake) FailNext(op Op, n int) {
	f.mu.Lock()
	f.failNext[op] += n
	f.mu.Unlock()
}

// FailAlways makes every call of op fail until Reset or fail=false.
func (f *Fake) FailAlways(op Op, fail bool) {
	f.mu.Lock()
	f.failAll[op] = fail
	f.mu.Unlock()
}

// Put writes value directly, bypassing counters and failures.
func (f *Fake) Put(key string, value []byte) {
	_ = f.inner.Set(context.Background(), key, value, 0)
}

// Peek reads key directly, bypassing counters and failures.
func (f *Fake) Peek(key string) ([]byte, bool) {
	body, ok, _ := f.inner.Get(context.Background(), key)
	return body, ok
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

func (f *Fake) Driver() storage.Driver { return storage.DriverMemory }

func (f *Fake) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := f.bump(OpGet, key); err != nil {
		return nil, false, err
	}
	return f.inner.Get(ctx, key)
}

func (f *Fake) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.bump(OpSet, key); err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *Fake) Delete(ctx context.Context, key string) error {
	if err := f.bump(OpDelete, key); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

func (f *Fake) DeleteMany(ctx context.Context, keys ...string) error {
	var err error
	for _, k := range keys {
		if e := f.bump(OpDeleteMany, k); e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return err
	}
	return f.inner.DeleteMany(ctx, keys...)
}

func (f *Fake) Flush(ctx context.Context) error {
	if err := f.bump(OpFlush, ""); err != nil {
		return err
	}
	return f.inner.Flush(ctx)
}

func (f *Fake) Keys(ctx context.Context) ([]string, error) {
	if err := f.bump(OpKeys, ""); err != nil {
		return nil, err
	}
	return storage.ListKeys(ctx, f.inner)
}

func (f *Fake) bump(op Op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
	if f.failAll[op] {
		return ErrInjected
	}
	if f.failNext[op] > 0 {
		f.failNext[op]--
		return ErrInjected
	}
	return nil
}
