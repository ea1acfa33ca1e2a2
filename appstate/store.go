// Package appstate is the application's single source of truth: a state tree
// with merge-style updates, debounced batching, path subscriptions, durable
// slices and periodic cache eviction.
package appstate

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/internal/notify"
)

// Event describes one committed state transition.
type Event struct {
	// Updates is the merged patch that produced the transition. It is nil
	// for functional updates.
	Updates   Patch
	Previous  State
	Current   State
	Source    string
	Timestamp time.Time

	prevTree tree
	nextTree tree
}

// PathChange is delivered to path subscribers when their sub-tree changes.
// Values are plain JSON values: maps, slices, strings, float64 and bool.
type PathChange struct {
	Path     string
	Previous any
	Current  any
	Source   string
}

type pendingUpdate struct {
	patch Patch
	fn    func(*State)
	opts  setOptions
}

// Store holds the application state. It is safe for concurrent use.
type Store struct {
	cfg    Config
	logger *slog.Logger
	events notify.Registry[Event]

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	mu       sync.RWMutex
	state    State
	tree     tree
	closed   bool
	pending  []pendingUpdate
	timer    *time.Timer
	batchGen uint64

	stopNetwork func()
}

// New loads the persisted slices and starts the cleanup loop and network
// watch. Unreadable slices fall back to their defaults.
func New(ctx context.Context, cfg Config) *Store {
	cfg = cfg.withDefaults()
	lifetime, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    lifetime,
		cancel: cancel,
	}
	s.events.Logger = cfg.Logger

	s.state = s.load(ctx)
	t, err := toTree(s.state)
	if err != nil {
		s.logger.Error("state tree unavailable, starting from defaults", "err", err)
		s.state = DefaultState()
		t, _ = toTree(s.state)
	}
	s.tree = t

	if cfg.Network != nil {
		stop, err := cfg.Network.Watch(lifetime, s.setOnline)
		if err != nil {
			s.logger.Warn("network status unavailable", "err", err)
		} else {
			s.stopNetwork = stop
		}
	}
	if cfg.CleanupInterval > 0 {
		s.loops.Add(1)
		go s.cleanupLoop(cfg.CleanupInterval)
	}
	return s
}

// NewWith creates a Store from functional options.
func NewWith(ctx context.Context, opts ...Option) *Store {
	var cfg Config
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return New(ctx, cfg)
}

func errClosed(op string) error {
	return geoerr.New(geoerr.Unavailable, op, "state store is closed")
}

// SetState merges p into the state. With Batch the update is queued and
// committed with the others after the debounce window.
func (s *Store) SetState(ctx context.Context, p Patch, opts ...SetOption) error {
	const op = "appstate.set"
	o := resolve(opts)
	if _, err := p.normalize(); err != nil {
		return geoerr.Wrap(geoerr.Validation, op, err)
	}
	if o.batch {
		return s.enqueue(op, pendingUpdate{patch: p, opts: o})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(op)
	}
	s.flushLocked(ctx, false)
	next, err := p.apply(s.state)
	if err != nil {
		s.mu.Unlock()
		return geoerr.Wrap(geoerr.Validation, op, err)
	}
	s.commitLocked(ctx, next, p, o)
	s.mu.Unlock()

	s.events.Drain()
	return nil
}

// Update computes the next state from a copy of the current one.
func (s *Store) Update(ctx context.Context, fn func(*State), opts ...SetOption) error {
	const op = "appstate.update"
	o := resolve(opts)
	if o.batch {
		return s.enqueue(op, pendingUpdate{fn: fn, opts: o})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(op)
	}
	s.flushLocked(ctx, false)
	next := s.state.Clone()
	fn(&next)
	s.commitLocked(ctx, next, nil, o)
	s.mu.Unlock()

	s.events.Drain()
	return nil
}

func (s *Store) enqueue(op string, u pendingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	s.pending = append(s.pending, u)
	if s.timer == nil {
		s.batchGen++
		gen := s.batchGen
		s.timer = time.AfterFunc(s.cfg.BatchWindow, func() { s.flushGen(gen) })
	}
	return nil
}

func (s *Store) flushGen(gen uint64) {
	s.mu.Lock()
	if s.closed || s.batchGen != gen {
		s.mu.Unlock()
		return
	}
	s.flushLocked(s.ctx, false)
	s.mu.Unlock()
	s.events.Drain()
}

// Flush commits any pending batch now.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed("appstate.flush")
	}
	s.flushLocked(ctx, false)
	s.mu.Unlock()
	s.events.Drain()
	return nil
}

// flushLocked applies the pending updates in submission order and commits
// them as one transition.
func (s *Store) flushLocked(ctx context.Context, quiet bool) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.batchGen++
	}
	if len(s.pending) == 0 {
		return
	}
	pending := s.pending
	s.pending = nil

	working := s.state.Clone()
	var updates tree
	functional := false
	persist, notify := false, false
	for _, u := range pending {
		if u.fn != nil {
			u.fn(&working)
			functional = true
		} else {
			next, err := u.patch.apply(working)
			if err != nil {
				s.logger.Warn("dropping batched update",
					"err", geoerr.Wrap(geoerr.Validation, "appstate.batch", err))
				continue
			}
			working = next
			normalized, _ := u.patch.normalize()
			updates = combine(updates, normalized)
		}
		persist = persist || !u.opts.skipPersist
		notify = notify || !u.opts.skipNotify
	}

	var patch Patch
	if !functional && updates != nil {
		patch = Patch(updates)
	}
	s.commitLocked(ctx, working, patch, setOptions{
		skipPersist: !persist,
		skipNotify:  !notify || quiet,
		source:      SourceBatch,
	})
}

// commitLocked repairs next, installs it, persists the changed slices and
// queues the change event.
func (s *Store) commitLocked(ctx context.Context, next State, updates Patch, o setOptions) {
	if repair(&next) {
		s.logger.Debug("state repaired during commit", "source", o.source)
	}
	nextTree, err := toTree(next)
	if err != nil {
		s.logger.Error("discarding state update", "source", o.source,
			"err", geoerr.Wrap(geoerr.Generic, "appstate.commit", err))
		return
	}
	prev, prevTree := s.state, s.tree
	s.state, s.tree = next, nextTree

	if !o.skipPersist {
		s.persistLocked(ctx, prevTree, nextTree, next)
	}
	if !o.skipNotify {
		s.events.Enqueue(Event{
			Updates:   updates,
			Previous:  prev.Clone(),
			Current:   next.Clone(),
			Source:    o.source,
			Timestamp: s.cfg.Now(),
			prevTree:  prevTree,
			nextTree:  nextTree,
		})
	}
}

// GetState returns a deep copy of the current state.
func (s *Store) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Get returns a copy of the sub-tree at a dotted path such as
// "settings.units". Keys are the JSON field names of State.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := lookup(s.tree, path)
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Subscribe calls fn after each commit that changes the sub-tree at path.
func (s *Store) Subscribe(path string, fn func(PathChange)) (unsubscribe func()) {
	return s.events.Subscribe(func(e Event) {
		prev, hadPrev := lookup(e.prevTree, path)
		cur, hasCur := lookup(e.nextTree, path)
		if hadPrev == hasCur && reflect.DeepEqual(prev, cur) {
			return
		}
		fn(PathChange{Path: path, Previous: cloneValue(prev), Current: cloneValue(cur), Source: e.Source})
	})
}

// SubscribeAll calls fn after every notifying commit.
func (s *Store) SubscribeAll(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// ResetState restores the defaults and wipes every persisted slice. Online
// status is kept since it reflects the host, not user data.
func (s *Store) ResetState(ctx context.Context) error {
	const op = "appstate.reset"
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(op)
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.batchGen++
	}
	s.pending = nil

	next := DefaultState()
	next.UI.IsOnline = s.state.UI.IsOnline
	s.commitLocked(ctx, next, nil, setOptions{skipPersist: true, source: SourceReset})
	err := s.cfg.Repository.DeleteMany(ctx, s.keys()...)
	s.mu.Unlock()

	s.events.Drain()
	if err != nil {
		return geoerr.Wrap(geoerr.Storage, op, err)
	}
	return nil
}

func (s *Store) setOnline(online bool) {
	err := s.SetState(s.ctx, Patch{"ui": Patch{"isOnline": online}},
		SkipPersist(), WithSource(SourceNetwork))
	if err != nil && !geoerr.Is(err, geoerr.Unavailable) {
		s.logger.Warn("failed to record network status", "online", online, "err", err)
	}
}

// Close commits any pending batch without notifying, stops the cleanup loop
// and network watch, and drops subscribers.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.flushLocked(s.ctx, true)
	s.closed = true
	stopNetwork := s.stopNetwork
	s.stopNetwork = nil
	s.mu.Unlock()

	s.cancel()
	if stopNetwork != nil {
		stopNetwork()
	}
	s.loops.Wait()
	s.events.Close()
	return nil
}
