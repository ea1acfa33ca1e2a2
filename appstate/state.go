package appstate

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/geo"
)

// View is a top-level screen of the application.
type View string

const (
	ViewCurrent   View = "current"
	ViewFavorites View = "favorites"
	ViewSearch    View = "search"
	ViewSettings  View = "settings"
)

var (
	allowedUnits     = []string{"metric", "imperial", "standard"}
	allowedThemes    = []string{"light", "dark", "auto"}
	allowedLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ja", "zh"}
	allowedRefresh   = []int{5, 10, 15, 30, 60}
	allowedViews     = []View{ViewCurrent, ViewFavorites, ViewSearch, ViewSettings}
)

// Settings are the user's preferences. Values outside the allow-lists are
// replaced by their defaults on every commit.
type Settings struct {
	Units             string `json:"units"`
	Theme             string `json:"theme"`
	AutoLocation      bool   `json:"autoLocation"`
	Language          string `json:"language"`
	ShowNotifications bool   `json:"showNotifications"`
	// RefreshInterval is in minutes.
	RefreshInterval int `json:"refreshInterval"`
}

// DefaultSettings returns the settings a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{
		Units:             "metric",
		Theme:             "auto",
		AutoLocation:      true,
		Language:          "en",
		ShowNotifications: true,
		RefreshInterval:   15,
	}
}

// UI is transient interface state. Only ActiveView survives a restart.
type UI struct {
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
	ActiveView  View   `json:"activeView"`
	IsOnline    bool   `json:"isOnline"`
	SearchQuery string `json:"searchQuery,omitempty"`
}

// WeatherEntry is an opaque weather payload stamped with its fetch time.
type WeatherEntry struct {
	Data        json.RawMessage `json:"data"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// LocationCacheEntry holds geocoding results pinned into state for a query.
type LocationCacheEntry struct {
	Results     []geo.Location `json:"results"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// State is the application state tree.
type State struct {
	CurrentLocation *geo.Location                 `json:"currentLocation,omitempty"`
	Favorites       []favorites.Favorite          `json:"favorites"`
	Weather         map[string]WeatherEntry       `json:"weather"`
	Locations       map[string]LocationCacheEntry `json:"locations"`
	Settings        Settings                      `json:"settings"`
	UI              UI                            `json:"ui"`
}

// DefaultState returns the state a fresh install starts with.
func DefaultState() State {
	return State{
		Favorites: []favorites.Favorite{},
		Weather:   map[string]WeatherEntry{},
		Locations: map[string]LocationCacheEntry{},
		Settings:  DefaultSettings(),
		UI:        UI{ActiveView: ViewCurrent, IsOnline: true},
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s.CurrentLocation != nil {
		loc := s.CurrentLocation.Clone()
		s.CurrentLocation = &loc
	}
	if s.Favorites != nil {
		favs := make([]favorites.Favorite, len(s.Favorites))
		for i, f := range s.Favorites {
			favs[i] = f.Clone()
		}
		s.Favorites = favs
	}
	if s.Weather != nil {
		weather := make(map[string]WeatherEntry, len(s.Weather))
		for k, v := range s.Weather {
			v.Data = append(json.RawMessage(nil), v.Data...)
			weather[k] = v
		}
		s.Weather = weather
	}
	if s.Locations != nil {
		locs := make(map[string]LocationCacheEntry, len(s.Locations))
		for k, v := range s.Locations {
			results := make([]geo.Location, len(v.Results))
			for i, l := range v.Results {
				results[i] = l.Clone()
			}
			v.Results = results
			locs[k] = v
		}
		s.Locations = locs
	}
	return s
}

// repair coerces s into a valid state in place and reports whether anything
// had to change. It never fails.
func repair(s *State) bool {
	changed := false
	def := DefaultSettings()
	if !slices.Contains(allowedUnits, s.Settings.Units) {
		s.Settings.Units, changed = def.Units, true
	}
	if !slices.Contains(allowedThemes, s.Settings.Theme) {
		s.Settings.Theme, changed = def.Theme, true
	}
	if !slices.Contains(allowedLanguages, s.Settings.Language) {
		s.Settings.Language, changed = def.Language, true
	}
	if !slices.Contains(allowedRefresh, s.Settings.RefreshInterval) {
		s.Settings.RefreshInterval, changed = def.RefreshInterval, true
	}
	if !slices.Contains(allowedViews, s.UI.ActiveView) {
		s.UI.ActiveView, changed = ViewCurrent, true
	}
	if s.CurrentLocation != nil && geo.ValidateLocation(*s.CurrentLocation) != nil {
		s.CurrentLocation, changed = nil, true
	}

	if s.Favorites == nil {
		s.Favorites = []favorites.Favorite{}
	}
	kept := s.Favorites[:0]
	for _, f := range s.Favorites {
		if f.ID == "" || geo.ValidateLocation(f.Location) != nil {
			changed = true
			continue
		}
		kept = append(kept, f)
	}
	s.Favorites = kept

	if s.Weather == nil {
		s.Weather = map[string]WeatherEntry{}
	}
	for k, v := range s.Weather {
		if v.LastUpdated.IsZero() || len(v.Data) == 0 || !json.Valid(v.Data) {
			delete(s.Weather, k)
			changed = true
		}
	}
	if s.Locations == nil {
		s.Locations = map[string]LocationCacheEntry{}
	}
	for k, v := range s.Locations {
		if v.LastUpdated.IsZero() {
			delete(s.Locations, k)
			changed = true
		}
	}
	return changed
}
