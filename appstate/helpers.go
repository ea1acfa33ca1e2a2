package appstate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
)

// SetSettings replaces the settings. Disallowed values fall back to defaults.
func (s *Store) SetSettings(ctx context.Context, settings Settings, opts ...SetOption) error {
	return s.Update(ctx, func(st *State) { st.Settings = settings }, opts...)
}

// SetCurrentLocation sets or, with nil, clears the current location.
func (s *Store) SetCurrentLocation(ctx context.Context, loc *geo.Location, opts ...SetOption) error {
	if loc != nil {
		if err := geo.ValidateLocation(*loc); err != nil {
			return geoerr.Wrap(geoerr.Validation, "appstate.set_current_location", err)
		}
		c := loc.Clone()
		loc = &c
	}
	return s.Update(ctx, func(st *State) { st.CurrentLocation = loc }, opts...)
}

func (s *Store) SetLoading(ctx context.Context, loading bool) error {
	return s.SetState(ctx, Patch{"ui": Patch{"loading": loading}}, SkipPersist())
}

// SetError records a user-facing error message; an empty message clears it.
func (s *Store) SetError(ctx context.Context, msg string) error {
	return s.SetState(ctx, Patch{"ui": Patch{"error": msg}}, SkipPersist())
}

func (s *Store) SetActiveView(ctx context.Context, view View) error {
	return s.SetState(ctx, Patch{"ui": Patch{"activeView": view}})
}

func (s *Store) SetSearchQuery(ctx context.Context, query string) error {
	return s.SetState(ctx, Patch{"ui": Patch{"searchQuery": query}}, SkipPersist())
}

// CacheWeather stores an opaque weather payload under key, stamped now.
func (s *Store) CacheWeather(ctx context.Context, key string, data json.RawMessage) error {
	const op = "appstate.cache_weather"
	if key == "" {
		return geoerr.New(geoerr.Validation, op, "weather key is required")
	}
	if !json.Valid(data) {
		return geoerr.New(geoerr.Validation, op, "weather payload is not valid JSON")
	}
	entry := WeatherEntry{Data: append(json.RawMessage(nil), data...), LastUpdated: s.cfg.Now()}
	return s.Update(ctx, func(st *State) { st.Weather[key] = entry })
}

// Weather returns the cached payload for key.
func (s *Store) Weather(key string) (WeatherEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.Weather[key]
	if !ok {
		return WeatherEntry{}, false
	}
	e.Data = append(json.RawMessage(nil), e.Data...)
	return e, true
}

// CacheLocations pins geocoding results for query into state.
func (s *Store) CacheLocations(ctx context.Context, query string, results []geo.Location) error {
	key := locationKey(query)
	if key == "" {
		return geoerr.New(geoerr.Validation, "appstate.cache_locations", "query is required")
	}
	entry := LocationCacheEntry{Results: make([]geo.Location, len(results)), LastUpdated: s.cfg.Now()}
	for i, l := range results {
		entry.Results[i] = l.Clone()
	}
	return s.Update(ctx, func(st *State) { st.Locations[key] = entry })
}

// Locations returns the pinned results for query.
func (s *Store) Locations(query string) ([]geo.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.Locations[locationKey(query)]
	if !ok {
		return nil, false
	}
	out := make([]geo.Location, len(e.Results))
	for i, l := range e.Results {
		out[i] = l.Clone()
	}
	return out, true
}

func locationKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// BindFavorites mirrors svc into the favorites slice: once now and again
// after every favorites event. The returned func stops the mirroring.
func (s *Store) BindFavorites(ctx context.Context, svc *favorites.Service) (func(), error) {
	mirror := func(ctx context.Context) error {
		all, err := svc.All(ctx)
		if err != nil {
			return err
		}
		return s.Update(ctx, func(st *State) { st.Favorites = all }, WithSource(SourceFavorites))
	}
	if err := mirror(ctx); err != nil {
		return nil, err
	}
	return svc.Subscribe(func(favorites.Event) {
		if err := mirror(s.ctx); err != nil && !geoerr.Is(err, geoerr.Unavailable) {
			s.logger.Warn("failed to mirror favorites into state", "err", err)
		}
	}), nil
}
