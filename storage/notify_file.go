package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reports changes to file-driver keys made by any process that
// shares the directory. Writes made by the watching process are reported too,
// and a change may arrive after a newer write, so consumers should treat it as
// a signal to reload the key rather than as its current value.
type FileWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]fileSub
	closed chan struct{}
	once   sync.Once
}

type fileSub struct {
	path string
	d    *dispatcher
}

// NewFileWatcher starts watching dir, which must be the FileDir of a file store.
func NewFileWatcher(dir string, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create watch dir %q: %w", dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: create file watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("storage: watch %q: %w", dir, err)
	}
	fw := &FileWatcher{
		dir:     dir,
		watcher: w,
		logger:  logger,
		subs:    make(map[uint64]fileSub),
		closed:  make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

// Watch implements ChangeNotifier.
func (w *FileWatcher) Watch(ctx context.Context, key string, fn func(Change)) (func(), error) {
	select {
	case <-w.closed:
		return nil, errors.New("storage: file watcher closed")
	default:
	}
	d := newDispatcher(ctx, key, fn)
	w.mu.Lock()
	w.next++
	id := w.next
	w.subs[id] = fileSub{path: filepath.Clean(filePath(w.dir, key)), d: d}
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
			d.stop()
		})
	}, nil
}

// Close stops the underlying fsnotify watcher and every subscription.
func (w *FileWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
		w.mu.Lock()
		for id, sub := range w.subs {
			sub.d.stop()
			delete(w.subs, id)
		}
		w.mu.Unlock()
	})
	return err
}

func (w *FileWatcher) loop() {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.dispatch(filepath.Clean(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "dir", w.dir, "err", err)
		}
	}
}

func (w *FileWatcher) dispatch(path string) {
	w.mu.RLock()
	var targets []*dispatcher
	for _, sub := range w.subs {
		if sub.path == path {
			targets = append(targets, sub.d)
		}
	}
	w.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	change := Change{Deleted: true}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		rec, decodeErr := decodeFileRecord(data)
		if decodeErr == nil && !rec.expires.passed() {
			change = Change{Value: rec.payload}
		}
	case !errors.Is(err, os.ErrNotExist):
		w.logger.Warn("file watcher read failed", "path", path, "err", err)
		return
	}
	for _, d := range targets {
		d.deliver(Change{Value: cloneBytes(change.Value), Deleted: change.Deleted})
	}
}
