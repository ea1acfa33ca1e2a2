package appstate

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/storage"
)

// Durable slices, named by their State field.
const (
	sliceSettings        = "settings"
	sliceFavorites       = "favorites"
	sliceCurrentLocation = "currentLocation"
	sliceWeather         = "weather"
	sliceLocations       = "locations"
	sliceUI              = "ui"
)

var slicesInOrder = []string{
	sliceSettings, sliceFavorites, sliceCurrentLocation, sliceWeather, sliceLocations, sliceUI,
}

var errEmptySlice = errors.New("empty value")

// persistedUI is the part of UI that survives a restart.
type persistedUI struct {
	ActiveView View `json:"activeView"`
}

func (s *Store) key(slice string) string {
	return s.cfg.KeyPrefix + ":" + slice
}

func (s *Store) keys() []string {
	return PersistedKeys(s.cfg.KeyPrefix)
}

// PersistedKeys returns the storage keys a Store with prefix writes, one per
// durable slice.
func PersistedKeys(prefix string) []string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	out := make([]string, len(slicesInOrder))
	for i, slice := range slicesInOrder {
		out[i] = prefix + ":" + slice
	}
	return out
}

// load reads every slice independently so one bad blob only resets itself.
func (s *Store) load(ctx context.Context) State {
	st := DefaultState()
	loadSlice(ctx, s, sliceSettings, &st.Settings)
	loadSlice(ctx, s, sliceFavorites, &st.Favorites)
	loadSlice(ctx, s, sliceWeather, &st.Weather)
	loadSlice(ctx, s, sliceLocations, &st.Locations)

	var loc *geo.Location
	if loadSlice(ctx, s, sliceCurrentLocation, &loc) {
		st.CurrentLocation = loc
	}
	ui := persistedUI{ActiveView: st.UI.ActiveView}
	if loadSlice(ctx, s, sliceUI, &ui) {
		st.UI.ActiveView = ui.ActiveView
	}

	if repair(&st) {
		s.logger.Info("repaired persisted state on load")
	}
	return st
}

// loadSlice decodes the slice over a copy of *dst, which holds its default.
// On any failure *dst is left untouched.
func loadSlice[T any](ctx context.Context, s *Store, slice string, dst *T) bool {
	key := s.key(slice)
	body, ok, err := s.cfg.Repository.Get(ctx, key)
	if err != nil {
		s.logger.Warn("persisted state unavailable, using default", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	value := cloneDefault(*dst)
	decodeErr := errEmptySlice
	if len(body) > 0 && string(body) != "null" {
		decodeErr = json.Unmarshal(body, &value)
	}
	if decodeErr != nil {
		s.logger.Warn("discarding unreadable persisted state", "key", key,
			"err", geoerr.Wrap(geoerr.Storage, "appstate.load", decodeErr))
		if err := s.cfg.Repository.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to remove unreadable persisted state", "key", key, "err", err)
		}
		return false
	}
	*dst = value
	return true
}

// cloneDefault copies v so decoding into the copy cannot touch shared maps.
func cloneDefault[T any](v T) T {
	body, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if json.Unmarshal(body, &out) != nil {
		return v
	}
	return out
}

// persistLocked writes the slices that differ between prev and next.
// Failures are logged; a routine commit never fails on persistence.
func (s *Store) persistLocked(ctx context.Context, prev, next tree, st State) {
	for _, slice := range slicesInOrder {
		if slice == sliceUI {
			before, _ := lookup(prev, "ui.activeView")
			after, _ := lookup(next, "ui.activeView")
			if before == after {
				continue
			}
		} else if reflect.DeepEqual(prev[slice], next[slice]) {
			continue
		}

		key := s.key(slice)
		var err error
		switch slice {
		case sliceSettings:
			err = storage.SetJSON(ctx, s.cfg.Repository, key, st.Settings, 0)
		case sliceFavorites:
			err = storage.SetJSON[[]favorites.Favorite](ctx, s.cfg.Repository, key, st.Favorites, 0)
		case sliceCurrentLocation:
			if st.CurrentLocation == nil {
				err = s.cfg.Repository.Delete(ctx, key)
			} else {
				err = storage.SetJSON(ctx, s.cfg.Repository, key, *st.CurrentLocation, 0)
			}
		case sliceWeather:
			err = storage.SetJSON(ctx, s.cfg.Repository, key, st.Weather, 0)
		case sliceLocations:
			err = storage.SetJSON(ctx, s.cfg.Repository, key, st.Locations, 0)
		case sliceUI:
			err = storage.SetJSON(ctx, s.cfg.Repository, key, persistedUI{ActiveView: st.UI.ActiveView}, 0)
		}
		if err != nil {
			s.logger.Warn("failed to persist state slice", "key", key,
				"err", geoerr.Wrap(geoerr.Storage, "appstate.persist", err))
		}
	}
}
