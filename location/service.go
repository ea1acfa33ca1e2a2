// Package location acquires device positions, resolves places through a
// geocoding endpoint with a TTL cache, and falls back to the last known
// position when a live fix is not available.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/storage"
)

// LastKnown is a remembered position fix.
type LastKnown struct {
	Coordinates geo.Coordinates `json:"coordinates"`
	SavedAt     time.Time       `json:"savedAt"`
}

// Details is a position together with the place it resolves to.
type Details struct {
	Coordinates geo.Coordinates
	// Location is nil when reverse geocoding failed.
	Location *geo.Location
	// Formatted is the display string for Location, or the coordinates.
	Formatted string
	// Fallback is set when Coordinates came from the last known position.
	Fallback bool
}

// Service is the location service. It is safe for concurrent use.
type Service struct {
	cfg    Config
	logger *slog.Logger
	cache  *geocodeCache

	lastMu   sync.RWMutex
	lastSeen *LastKnown

	watchMu sync.Mutex
	watch   *activeWatch
}

// activeWatch guards delivery with mu so that once stopping returns, the
// watch's callback is neither running nor called again.
type activeWatch struct {
	stop func()

	mu      sync.Mutex
	stopped bool
}

// New creates a Service.
func New(cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		cache:  newGeocodeCache(cfg.CacheTTL, cfg.StaleTTL, cfg.Now),
	}
}

// NewWith creates a Service from functional options.
func NewWith(opts ...Option) *Service {
	var cfg Config
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return New(cfg)
}

// CurrentLocation returns a single position fix.
func (s *Service) CurrentLocation(ctx context.Context, opts PositionOptions) (geo.Coordinates, error) {
	const op = "location.current"
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.Timeout
	}
	if opts.MaximumAge > 0 {
		if last, ok := s.lastKnown(ctx); ok && s.cfg.Now().Sub(last.SavedAt) <= opts.MaximumAge {
			return last.Coordinates, nil
		}
	}
	if s.cfg.Geolocator == nil {
		return geo.Coordinates{}, geoerr.New(geoerr.Unavailable, op, "geolocation is not supported on this platform")
	}

	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type result struct {
		coords geo.Coordinates
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := s.cfg.Geolocator.CurrentPosition(reqCtx, opts)
		done <- result{c, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-reqCtx.Done():
		res.err = reqCtx.Err()
	}
	if res.err != nil {
		return geo.Coordinates{}, positionError(op, res.err)
	}
	if !res.coords.Valid() {
		return geo.Coordinates{}, geoerr.Newf(geoerr.Unavailable, op,
			"platform returned invalid coordinates (%v, %v)", res.coords.Latitude, res.coords.Longitude)
	}
	if res.coords.Timestamp.IsZero() {
		res.coords.Timestamp = s.cfg.Now()
	}
	s.remember(ctx, res.coords)
	return res.coords, nil
}

// WatchLocation streams positions to fn. Only one watch is active per
// Service; starting another stops the previous one first and waits for any
// delivery to it in progress. fn must not start or stop a watch itself.
func (s *Service) WatchLocation(ctx context.Context, fn func(geo.Coordinates, error), opts PositionOptions) error {
	const op = "location.watch"
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.stopWatchLocked()
	if s.cfg.Geolocator == nil {
		return geoerr.New(geoerr.Unavailable, op, "geolocation is not supported on this platform")
	}

	w := &activeWatch{}
	stop, err := s.cfg.Geolocator.WatchPosition(ctx, opts, func(c geo.Coordinates, err error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped {
			return
		}
		if err != nil {
			fn(geo.Coordinates{}, positionError(op, err))
			return
		}
		if !c.Valid() {
			fn(geo.Coordinates{}, geoerr.New(geoerr.Unavailable, op, "platform returned invalid coordinates"))
			return
		}
		if c.Timestamp.IsZero() {
			c.Timestamp = s.cfg.Now()
		}
		s.remember(context.Background(), c)
		fn(c, nil)
	})
	if err != nil {
		return positionError(op, err)
	}
	w.stop = stop
	s.watch = w
	return nil
}

// StopWatchingLocation cancels the active watch, if any.
func (s *Service) StopWatchingLocation() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatchLocked()
}

func (s *Service) stopWatchLocked() {
	if s.watch == nil {
		return
	}
	s.watch.mu.Lock()
	s.watch.stopped = true
	s.watch.mu.Unlock()
	if s.watch.stop != nil {
		s.watch.stop()
	}
	s.watch = nil
}

// SearchLocations resolves a free-text place name.
func (s *Service) SearchLocations(ctx context.Context, query string, limit int) ([]geo.Location, error) {
	const op = "location.search"
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < s.cfg.MinQueryLength {
		return nil, geoerr.Newf(geoerr.Validation, op, "query must be at least %d characters", s.cfg.MinQueryLength)
	}
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	key := fmt.Sprintf("direct:%s:%d", strings.ToLower(query), limit)
	return s.geocode(ctx, op, key, func(ctx context.Context, g Geocoder) ([]geo.Location, error) {
		return g.Direct(ctx, query, limit)
	}, fmt.Sprintf("no locations found for %q", query))
}

// ReverseGeocode resolves coordinates to places.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lon float64, limit int) ([]geo.Location, error) {
	const op = "location.reverse"
	if !geo.ValidCoordinates(lat, lon) {
		return nil, geoerr.Newf(geoerr.Validation, op, "invalid coordinates (%v, %v)", lat, lon)
	}
	if limit <= 0 {
		limit = defaultReverseLimit
	}
	key := fmt.Sprintf("reverse:%.*f:%.*f:%d", reverseCoordinateScale, lat, reverseCoordinateScale, lon, limit)
	return s.geocode(ctx, op, key, func(ctx context.Context, g Geocoder) ([]geo.Location, error) {
		return g.Reverse(ctx, lat, lon, limit)
	}, fmt.Sprintf("no locations found at %s", geo.FormatCoordinates(lat, lon)))
}

func (s *Service) geocode(
	ctx context.Context,
	op, key string,
	fetch func(context.Context, Geocoder) ([]geo.Location, error),
	notFound string,
) ([]geo.Location, error) {
	if cached, ok := s.cache.fresh(key); ok {
		return cached, nil
	}
	if s.cfg.Geocoder == nil {
		return nil, geoerr.New(geoerr.Unavailable, op, "no geocoding endpoint configured")
	}

	found, err := fetch(ctx, s.cfg.Geocoder)
	if err != nil {
		if stale, ok := s.cache.staleEntry(key); ok {
			s.logger.Warn("geocoding failed; serving stale results", "op", op, "key", key, "err", err)
			return stale, nil
		}
		if geoerr.KindOf(err) != geoerr.Generic {
			return nil, err
		}
		return nil, geoerr.Wrap(geoerr.Unavailable, op, err)
	}

	valid := found[:0:0]
	for _, l := range found {
		if err := geo.ValidateLocation(l); err != nil {
			s.logger.Debug("dropping invalid geocoding result", "op", op, "err", err)
			continue
		}
		valid = append(valid, l.Clone())
	}
	if len(valid) == 0 {
		return nil, geoerr.New(geoerr.NotFound, op, notFound)
	}
	s.cache.put(key, valid)
	return cloneLocations(valid), nil
}

// LocationFromCoordinates returns the best place match for a position.
func (s *Service) LocationFromCoordinates(ctx context.Context, lat, lon float64) (geo.Location, error) {
	found, err := s.ReverseGeocode(ctx, lat, lon, 1)
	if err != nil {
		return geo.Location{}, err
	}
	return found[0], nil
}

// CurrentLocationWithDetails returns the current position and its place.
// A failed live fix falls back to a last known position younger than
// FallbackMaxAge; a failed reverse lookup leaves Location nil.
func (s *Service) CurrentLocationWithDetails(ctx context.Context, opts PositionOptions) (Details, error) {
	var d Details
	coords, err := s.CurrentLocation(ctx, opts)
	if err != nil {
		last, ok := s.lastKnown(ctx)
		if !ok || s.cfg.Now().Sub(last.SavedAt) > s.cfg.FallbackMaxAge {
			return Details{}, err
		}
		s.logger.Info("using last known location", "age", s.cfg.Now().Sub(last.SavedAt).Round(time.Second), "err", err)
		coords = last.Coordinates
		d.Fallback = true
	}
	d.Coordinates = coords

	loc, err := s.LocationFromCoordinates(ctx, coords.Latitude, coords.Longitude)
	if err != nil {
		s.logger.Warn("reverse geocoding failed; returning coordinates only", "err", err)
		d.Formatted = geo.FormatCoordinates(coords.Latitude, coords.Longitude)
		return d, nil
	}
	d.Location = &loc
	d.Formatted = geo.Format(loc)
	return d, nil
}

// CalculateDistance returns the great-circle distance in kilometers.
func (s *Service) CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.Distance(lat1, lon1, lat2, lon2)
}

// FormatLocation renders "Name, State, Country" without empty or repeated parts.
func (s *Service) FormatLocation(l geo.Location) string {
	return geo.Format(l)
}

// LastKnownLocation returns the remembered position, if any.
func (s *Service) LastKnownLocation(ctx context.Context) (LastKnown, bool) {
	return s.lastKnown(ctx)
}

// ClearCache drops every cached geocoding result.
func (s *Service) ClearCache() {
	s.cache.clear()
}

// CacheStats reports geocoding cache usage.
func (s *Service) CacheStats() CacheStats {
	return s.cache.stats()
}

// Close stops the active watch and drops cached results.
func (s *Service) Close() error {
	s.StopWatchingLocation()
	s.ClearCache()
	return nil
}

func (s *Service) remember(ctx context.Context, c geo.Coordinates) {
	last := LastKnown{Coordinates: c, SavedAt: s.cfg.Now()}
	s.lastMu.Lock()
	s.lastSeen = &last
	s.lastMu.Unlock()
	if s.cfg.Repository == nil {
		return
	}
	if err := storage.SetJSON(ctx, s.cfg.Repository, s.cfg.LastKnownKey, last, 0); err != nil {
		s.logger.Warn("failed to persist last known location", "key", s.cfg.LastKnownKey, "err", err)
	}
}

func (s *Service) lastKnown(ctx context.Context) (LastKnown, bool) {
	s.lastMu.RLock()
	seen := s.lastSeen
	s.lastMu.RUnlock()
	if seen != nil {
		return *seen, true
	}
	if s.cfg.Repository == nil {
		return LastKnown{}, false
	}
	last, ok, err := storage.GetJSON[LastKnown](ctx, s.cfg.Repository, s.cfg.LastKnownKey)
	if err != nil {
		s.logger.Warn("failed to read last known location", "key", s.cfg.LastKnownKey, "err", err)
		return LastKnown{}, false
	}
	if !ok || !last.Coordinates.Valid() {
		return LastKnown{}, false
	}
	s.lastMu.Lock()
	if s.lastSeen == nil {
		s.lastSeen = &last
	}
	s.lastMu.Unlock()
	return last, true
}

// positionError maps a platform failure onto the error taxonomy.
func positionError(op string, err error) error {
	var pe *PositionError
	switch {
	case errors.As(err, &pe):
		switch pe.Code {
		case PermissionDenied:
			return geoerr.Wrapf(geoerr.Permission, op, err, "location permission denied")
		case PositionUnavailable:
			return geoerr.Wrapf(geoerr.Unavailable, op, err, "position unavailable")
		case PositionTimeout:
			return geoerr.Wrapf(geoerr.Timeout, op, err, "location request timed out")
		}
		return geoerr.Wrap(geoerr.Generic, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return geoerr.Wrapf(geoerr.Timeout, op, err, "location request timed out")
	case geoerr.KindOf(err) != geoerr.Generic:
		return err
	default:
		return geoerr.Wrap(geoerr.Generic, op, err)
	}
}
