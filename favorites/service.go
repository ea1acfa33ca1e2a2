// Package favorites manages the user's pinned locations: CRUD with a
// deterministic id, ordering, persistence, and reconciliation with writes
// made by other open instances.
package favorites

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/internal/notify"
	"github.com/goforj/geostate/storage"
)

var (
	// ErrDuplicate is returned by Add when a favorite already exists within the tolerance.
	ErrDuplicate = geoerr.New(geoerr.NotFound, "favorites.add", "location is already a favorite")
	// ErrCapacity is returned by Add when the list is full.
	ErrCapacity = geoerr.New(geoerr.NotFound, "favorites.add", "favorites limit reached")
)

type lifecycle int

const (
	uninitialized lifecycle = iota
	initializing
	ready
	closed
)

// Metrics counts favorites activity since the service started.
type Metrics struct {
	TotalAdded   int       `json:"totalAdded"`
	TotalRemoved int       `json:"totalRemoved"`
	TotalViews   int       `json:"totalViews"`
	LastSyncAt   time.Time `json:"lastSyncAt,omitempty"`
}

// Service is the favorites manager. It is safe for concurrent use.
type Service struct {
	cfg    Config
	logger *slog.Logger
	events notify.Registry[Event]

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	state     lifecycle
	readyCh   chan struct{}
	initErr   error
	byID      map[string]*Favorite
	list      []*Favorite
	metrics   Metrics
	stopWatch func()
}

// New creates a Service. Call Initialize, or let the first method call do it.
func New(cfg Config) *Service {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		byID:   make(map[string]*Favorite),
	}
	s.events.Logger = cfg.Logger
	return s
}

// NewWith creates a Service from functional options.
func NewWith(opts ...Option) *Service {
	var cfg Config
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return New(cfg)
}

// Initialize loads persisted favorites and starts watching for changes made
// by other instances. Concurrent callers wait for the first to finish.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case ready:
		s.mu.Unlock()
		return nil
	case closed:
		s.mu.Unlock()
		return geoerr.New(geoerr.Unavailable, "favorites.initialize", "service is closed")
	case initializing:
		ch := s.readyCh
		s.mu.Unlock()
		return s.wait(ctx, ch)
	}
	s.state = initializing
	s.readyCh = make(chan struct{})
	ch := s.readyCh
	s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == initializing {
			s.state = uninitialized
		}
		s.initErr = err
		close(ch)
		s.mu.Unlock()
		return err
	}

	stop, werr := s.cfg.Notifier.Watch(s.ctx, s.cfg.Key, s.onChange)
	if werr != nil {
		s.logger.Warn("favorites sync disabled",
			"err", geoerr.Wrap(geoerr.Sync, "favorites.watch", werr))
		stop = nil
	}

	s.mu.Lock()
	if s.state != initializing {
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		close(ch)
		return geoerr.New(geoerr.Unavailable, "favorites.initialize", "service is closed")
	}
	s.replaceLocked(list)
	s.stopWatch = stop
	s.state = ready
	s.initErr = nil
	close(ch)
	s.mu.Unlock()
	return nil
}

func (s *Service) wait(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ctx.Done():
		return geoerr.Wrap(geoerr.Timeout, "favorites.initialize", ctx.Err())
	case <-ch:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case ready:
		return nil
	case closed:
		return geoerr.New(geoerr.Unavailable, "favorites.initialize", "service is closed")
	}
	return s.initErr
}

// load reads the persisted list. Unreadable data is discarded by the
// repository; invalid records are dropped individually.
func (s *Service) load(ctx context.Context) ([]*Favorite, error) {
	stored, _, err := storage.GetJSON[[]Favorite](ctx, s.cfg.Repository, s.cfg.Key)
	if err != nil {
		return nil, err
	}
	return s.sanitize(stored), nil
}

// sanitize drops invalid and duplicate-id records and enforces the cap.
func (s *Service) sanitize(in []Favorite) []*Favorite {
	out := make([]*Favorite, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, f := range in {
		if f.ID == "" {
			f.ID = ID(f.Location)
		}
		if err := validate(f); err != nil {
			s.logger.Warn("dropping invalid favorite", "id", f.ID, "err", err)
			continue
		}
		if _, dup := seen[f.ID]; dup {
			continue
		}
		if len(out) >= s.cfg.MaxFavorites {
			s.logger.Warn("dropping favorites over the limit", "max", s.cfg.MaxFavorites)
			break
		}
		seen[f.ID] = struct{}{}
		c := f.Clone()
		out = append(out, &c)
	}
	return out
}

func (s *Service) replaceLocked(list []*Favorite) {
	s.list = list
	s.byID = make(map[string]*Favorite, len(list))
	for _, f := range list {
		s.byID[f.ID] = f
	}
}

// Subscribe registers fn for every favorites event.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// Add stores loc as a new favorite.
func (s *Service) Add(ctx context.Context, loc geo.Location, opts AddOptions) (Favorite, error) {
	const op = "favorites.add"
	if err := s.Initialize(ctx); err != nil {
		return Favorite{}, err
	}
	if err := geo.ValidateLocation(loc); err != nil {
		return Favorite{}, geoerr.Wrap(geoerr.Validation, op, err)
	}

	s.mu.Lock()
	if s.findNearLocked(loc.Lat, loc.Lon) != nil {
		s.mu.Unlock()
		return Favorite{}, ErrDuplicate
	}
	id := ID(loc)
	if _, taken := s.byID[id]; taken {
		s.mu.Unlock()
		return Favorite{}, ErrDuplicate
	}
	if len(s.list) >= s.cfg.MaxFavorites {
		s.mu.Unlock()
		return Favorite{}, ErrCapacity
	}

	now := s.cfg.Now()
	fav := &Favorite{
		Location:   loc.Clone(),
		ID:         id,
		AddedAt:    now,
		LastViewed: now,
		IsPinned:   opts.Pinned,
	}
	if len(opts.Metadata) > 0 {
		Changes{Metadata: opts.Metadata}.apply(fav)
	}

	prev := s.list
	next := append(append(make([]*Favorite, 0, len(prev)+1), prev...), fav)
	sortDefault(next)
	if err := s.commitLocked(ctx, op, next); err != nil {
		s.mu.Unlock()
		return Favorite{}, err
	}
	s.metrics.TotalAdded++
	ev := Event{Type: EventAdd, Favorite: fav.Clone(), Count: len(s.list)}
	s.events.Enqueue(ev)
	s.mu.Unlock()

	s.events.Drain()
	return ev.Favorite.Clone(), nil
}

// Remove deletes the favorite with id. It reports false when id is unknown.
func (s *Service) Remove(ctx context.Context, id string) (bool, error) {
	const op = "favorites.remove"
	if err := s.Initialize(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	fav, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	next := make([]*Favorite, 0, len(s.list))
	for _, f := range s.list {
		if f.ID != id {
			next = append(next, f)
		}
	}
	if err := s.commitLocked(ctx, op, next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.metrics.TotalRemoved++
	ev := Event{Type: EventRemove, Favorite: fav.Clone(), Count: len(s.list)}
	s.events.Enqueue(ev)
	s.mu.Unlock()

	s.events.Drain()
	return true, nil
}

// Update merges changes into the favorite with id. The id and AddedAt never change.
func (s *Service) Update(ctx context.Context, id string, changes Changes) (Favorite, error) {
	return s.update(ctx, "favorites.update", id, func(f *Favorite) { changes.apply(f) })
}

// UpdateViewCount records a view of the favorite.
func (s *Service) UpdateViewCount(ctx context.Context, id string) (Favorite, error) {
	return s.update(ctx, "favorites.view", id, func(f *Favorite) {
		f.ViewCount++
		f.LastViewed = s.cfg.Now()
	})
}

// TogglePin flips the pinned flag, which moves the favorite to or from the top.
func (s *Service) TogglePin(ctx context.Context, id string) (Favorite, error) {
	return s.update(ctx, "favorites.pin", id, func(f *Favorite) { f.IsPinned = !f.IsPinned })
}

func (s *Service) update(ctx context.Context, op, id string, mutate func(*Favorite)) (Favorite, error) {
	if err := s.Initialize(ctx); err != nil {
		return Favorite{}, err
	}

	s.mu.Lock()
	cur, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return Favorite{}, geoerr.Newf(geoerr.NotFound, op, "favorite %q not found", id)
	}
	updated := cur.Clone()
	mutate(&updated)
	updated.ID = cur.ID
	updated.AddedAt = cur.AddedAt
	if err := validate(updated); err != nil {
		s.mu.Unlock()
		return Favorite{}, geoerr.Wrap(geoerr.Validation, op, err)
	}

	next := make([]*Favorite, len(s.list))
	for i, f := range s.list {
		if f.ID == id {
			next[i] = &updated
			continue
		}
		next[i] = f
	}
	if updated.IsPinned != cur.IsPinned {
		sortDefault(next)
	}
	if err := s.commitLocked(ctx, op, next); err != nil {
		s.mu.Unlock()
		return Favorite{}, err
	}
	if updated.ViewCount > cur.ViewCount {
		s.metrics.TotalViews += updated.ViewCount - cur.ViewCount
	}
	ev := Event{Type: EventUpdate, Favorite: updated.Clone(), Previous: cur.Clone(), Count: len(s.list)}
	s.events.Enqueue(ev)
	s.mu.Unlock()

	s.events.Drain()
	return ev.Favorite.Clone(), nil
}

// Reorder sets a manual order. ids must be a permutation of the current ids.
func (s *Service) Reorder(ctx context.Context, ids []string) error {
	const op = "favorites.reorder"
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if len(ids) != len(s.list) {
		s.mu.Unlock()
		return geoerr.Newf(geoerr.Validation, op, "expected %d ids, got %d", len(s.list), len(ids))
	}
	next := make([]*Favorite, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		f, ok := s.byID[id]
		if !ok {
			s.mu.Unlock()
			return geoerr.Newf(geoerr.Validation, op, "unknown favorite %q", id)
		}
		if _, dup := seen[id]; dup {
			s.mu.Unlock()
			return geoerr.Newf(geoerr.Validation, op, "favorite %q listed twice", id)
		}
		seen[id] = struct{}{}
		next = append(next, f)
	}
	if err := s.commitLocked(ctx, op, next); err != nil {
		s.mu.Unlock()
		return err
	}
	ev := Event{Type: EventReorder, Count: len(s.list), IDs: append([]string(nil), ids...)}
	s.events.Enqueue(ev)
	s.mu.Unlock()

	s.events.Drain()
	return nil
}

// Clear removes every favorite.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	removed := len(s.list)
	if err := s.commitLocked(ctx, "favorites.clear", nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.metrics.TotalRemoved += removed
	s.events.Enqueue(Event{Type: EventClear, Count: 0})
	s.mu.Unlock()

	s.events.Drain()
	return nil
}

// commitLocked persists next and installs it. On failure nothing changes.
func (s *Service) commitLocked(ctx context.Context, op string, next []*Favorite) error {
	out := make([]Favorite, len(next))
	for i, f := range next {
		out[i] = *f
	}
	if err := storage.SetJSON(ctx, s.cfg.Repository, s.cfg.Key, out, 0); err != nil {
		s.logger.Error("failed to persist favorites", "op", op, "err", err)
		return geoerr.Wrap(geoerr.Storage, op, err)
	}
	s.replaceLocked(next)
	return nil
}

// Get returns the favorite with id.
func (s *Service) Get(ctx context.Context, id string) (Favorite, bool, error) {
	if err := s.Initialize(ctx); err != nil {
		return Favorite{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return Favorite{}, false, nil
	}
	return f.Clone(), true, nil
}

// All returns the favorites in their current order.
func (s *Service) All(ctx context.Context) ([]Favorite, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// Count returns the number of favorites.
func (s *Service) Count(ctx context.Context) (int, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list), nil
}

// Search returns favorites whose name, state, country or local names
// contain query, case-insensitively. An empty query returns everything.
func (s *Service) Search(ctx context.Context, query string) ([]Favorite, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	out := all[:0]
	for _, f := range all {
		if f.matches(q) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Sorted returns the favorites ordered by key, pinned ones always first.
func (s *Service) Sorted(ctx context.Context, by SortBy, order Order) ([]Favorite, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	sortBy(all, by, order)
	return all, nil
}

// IsFavorite reports whether a favorite lies within the tolerance of lat/lon.
func (s *Service) IsFavorite(ctx context.Context, lat, lon float64) (bool, error) {
	_, ok, err := s.FindByCoordinates(ctx, lat, lon)
	return ok, err
}

// FindByCoordinates returns the favorite within the tolerance of lat/lon.
func (s *Service) FindByCoordinates(ctx context.Context, lat, lon float64) (Favorite, bool, error) {
	if err := s.Initialize(ctx); err != nil {
		return Favorite{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.findNearLocked(lat, lon)
	if f == nil {
		return Favorite{}, false, nil
	}
	return f.Clone(), true, nil
}

func (s *Service) findNearLocked(lat, lon float64) *Favorite {
	for _, f := range s.list {
		if geo.Near(f.Lat, f.Lon, lat, lon, s.cfg.Tolerance) {
			return f
		}
	}
	return nil
}

// Metrics returns a copy of the activity counters.
func (s *Service) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Service) snapshotLocked() []Favorite {
	out := make([]Favorite, len(s.list))
	for i, f := range s.list {
		out[i] = f.Clone()
	}
	return out
}

// Close stops the change watch and drops subscribers. The service cannot be
// used afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.state == closed {
		s.mu.Unlock()
		return nil
	}
	s.state = closed
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		stop()
	}
	s.events.Close()
	return nil
}
