package storage

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSWatcher reports changes to keys of a nats-driver store using the
// bucket's native watch. The prefix must match the store's prefix.
type NATSWatcher struct {
	kv    NATSKeyValue
	scope natsScope
}

// NewNATSWatcher creates a watcher over kv for keys written with prefix.
func NewNATSWatcher(kv NATSKeyValue, prefix string) *NATSWatcher {
	return &NATSWatcher{kv: kv, scope: newNATSScope(prefix)}
}

// Watch implements ChangeNotifier.
func (w *NATSWatcher) Watch(ctx context.Context, key string, fn func(Change)) (func(), error) {
	if w.kv == nil {
		return nil, notConfigured(DriverNATS, "watch")
	}
	kw, err := w.kv.Watch(w.scope.subject(key), nats.UpdatesOnly())
	if err != nil {
		return nil, backendErr(DriverNATS, "watch", err)
	}
	d := newDispatcher(ctx, key, fn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = kw.Stop()
			d.stop()
		})
	}
	go func() {
		defer stop()
		for {
			select {
			case <-d.done:
				return
			case entry, ok := <-kw.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				value, live := openNATSEntry(entry)
				d.deliver(Change{Value: value, Deleted: !live})
			}
		}
	}()
	return stop, nil
}
