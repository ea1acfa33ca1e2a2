package favorites

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/storage"
)

// EventType names what happened to the favorites list.
type EventType string

const (
	EventAdd     EventType = "add"
	EventRemove  EventType = "remove"
	EventUpdate  EventType = "update"
	EventReorder EventType = "reorder"
	EventSync    EventType = "sync"
	EventImport  EventType = "import"
	EventClear   EventType = "clear"
)

// Diff describes a reconciliation between the local list and an external one.
type Diff struct {
	Added   []Favorite
	Removed []Favorite
	Updated []Favorite
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Event is delivered to subscribers after a change has been persisted.
type Event struct {
	Type     EventType
	Favorite Favorite
	Previous Favorite
	IDs      []string
	Diff     Diff
	Count    int
}

// onChange reconciles a write made by another instance. The change only
// signals that the key moved: the list is reloaded from the repository while
// the lock is held, so a delayed notification carrying an older payload can
// never replace a newer list.
func (s *Service) onChange(storage.Change) {
	s.mu.Lock()
	if s.state != ready {
		s.mu.Unlock()
		return
	}
	incoming, err := s.readPersisted(s.ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("ignoring favorites update", "err", err)
		return
	}
	next := s.sanitize(incoming)
	diff := diffLists(s.list, next)
	if diff.Empty() && sameOrder(s.list, next) {
		s.mu.Unlock()
		return
	}
	s.replaceLocked(next)
	s.metrics.LastSyncAt = s.cfg.Now()
	s.events.Enqueue(Event{Type: EventSync, Diff: diff, Count: len(next)})
	s.mu.Unlock()

	s.logger.Debug("favorites synced", "added", len(diff.Added),
		"removed", len(diff.Removed), "updated", len(diff.Updated))
	s.events.Drain()
}

// readPersisted returns the list currently stored under the favorites key.
// An unreadable value is reported rather than discarded; the next local
// commit overwrites it.
func (s *Service) readPersisted(ctx context.Context) ([]Favorite, error) {
	const op = "favorites.sync"
	body, ok, err := s.cfg.Repository.Get(ctx, s.cfg.Key)
	if err != nil {
		return nil, geoerr.Wrap(geoerr.Sync, op, err)
	}
	if !ok || len(body) == 0 {
		return nil, nil
	}
	var list []Favorite
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, geoerr.Wrap(geoerr.Sync, op, err)
	}
	return list, nil
}

func diffLists(prev, next []*Favorite) Diff {
	var d Diff
	old := make(map[string]*Favorite, len(prev))
	for _, f := range prev {
		old[f.ID] = f
	}
	for _, f := range next {
		p, ok := old[f.ID]
		switch {
		case !ok:
			d.Added = append(d.Added, f.Clone())
		case !reflect.DeepEqual(normalized(*p), normalized(*f)):
			d.Updated = append(d.Updated, f.Clone())
		}
		delete(old, f.ID)
	}
	for _, f := range prev {
		if _, gone := old[f.ID]; gone {
			d.Removed = append(d.Removed, f.Clone())
		}
	}
	return d
}

// normalized strips representation differences that survive a JSON round trip.
func normalized(f Favorite) Favorite {
	f = f.Clone()
	f.AddedAt = f.AddedAt.UTC().Truncate(time.Millisecond)
	f.LastViewed = f.LastViewed.UTC().Truncate(time.Millisecond)
	if len(f.LocalNames) == 0 {
		f.LocalNames = nil
	}
	if len(f.Metadata) == 0 {
		f.Metadata = nil
	}
	return f
}

func sameOrder(a, b []*Favorite) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// ExportVersion is the current export document version.
const ExportVersion = 1

// ExportData is a portable snapshot of the favorites list.
type ExportData struct {
	Version    int        `json:"version"`
	ExportedAt time.Time  `json:"exportedAt"`
	Favorites  []Favorite `json:"favorites"`
	Metrics    Metrics    `json:"metrics"`
}

// Export returns a snapshot of the current list and metrics.
func (s *Service) Export(ctx context.Context) (ExportData, error) {
	if err := s.Initialize(ctx); err != nil {
		return ExportData{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ExportData{
		Version:    ExportVersion,
		ExportedAt: s.cfg.Now(),
		Favorites:  s.snapshotLocked(),
		Metrics:    s.metrics,
	}, nil
}

// Import replaces the list with data's favorites in their given order.
// Invalid and duplicate records are skipped and the list is capped at the
// limit. Metrics are not imported. It returns the number of favorites kept.
func (s *Service) Import(ctx context.Context, data ExportData) (int, error) {
	const op = "favorites.import"
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	if data.Version > ExportVersion {
		return 0, geoerr.Newf(geoerr.Validation, op, "unsupported export version %d", data.Version)
	}
	next := s.sanitize(data.Favorites)

	s.mu.Lock()
	diff := diffLists(s.list, next)
	if err := s.commitLocked(ctx, op, next); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	ev := Event{Type: EventImport, Diff: diff, Count: len(next)}
	s.events.Enqueue(ev)
	s.mu.Unlock()

	s.events.Drain()
	return len(next), nil
}
