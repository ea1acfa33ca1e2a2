package favorites

import (
	"fmt"
	"strings"
	"time"

	"github.com/goforj/geostate/geo"
)

// idDecimals is the coordinate precision baked into favorite ids.
const idDecimals = 4

// Favorite is a user-pinned location with usage metadata.
type Favorite struct {
	geo.Location
	ID         string            `json:"id"`
	AddedAt    time.Time         `json:"addedAt"`
	LastViewed time.Time         `json:"lastViewed"`
	ViewCount  int               `json:"viewCount"`
	IsPinned   bool              `json:"isPinned"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of f.
func (f Favorite) Clone() Favorite {
	f.Location = f.Location.Clone()
	if f.Metadata != nil {
		md := make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			md[k] = v
		}
		f.Metadata = md
	}
	return f
}

// ID derives the stable favorite id for a location: the normalized name plus
// coordinates rounded to four decimals.
func ID(l geo.Location) string {
	return fmt.Sprintf("%s_%.*f_%.*f",
		geo.NormalizeName(l.Name),
		idDecimals, geo.Round(l.Lat, idDecimals),
		idDecimals, geo.Round(l.Lon, idDecimals))
}

// AddOptions customizes a new favorite.
type AddOptions struct {
	Pinned   bool
	Metadata map[string]string
}

// Changes is a partial update. Nil fields are left untouched; Metadata keys
// are merged and an empty value deletes the key.
type Changes struct {
	Name       *string
	Country    *string
	State      *string
	LocalNames map[string]string
	IsPinned   *bool
	ViewCount  *int
	LastViewed *time.Time
	Metadata   map[string]string
}

func (c Changes) apply(f *Favorite) {
	if c.Name != nil {
		f.Name = *c.Name
	}
	if c.Country != nil {
		f.Country = *c.Country
	}
	if c.State != nil {
		f.State = *c.State
	}
	if c.LocalNames != nil {
		f.LocalNames = make(map[string]string, len(c.LocalNames))
		for k, v := range c.LocalNames {
			f.LocalNames[k] = v
		}
	}
	if c.IsPinned != nil {
		f.IsPinned = *c.IsPinned
	}
	if c.ViewCount != nil {
		f.ViewCount = *c.ViewCount
	}
	if c.LastViewed != nil {
		f.LastViewed = *c.LastViewed
	}
	if len(c.Metadata) > 0 {
		if f.Metadata == nil {
			f.Metadata = make(map[string]string, len(c.Metadata))
		}
		for k, v := range c.Metadata {
			if v == "" {
				delete(f.Metadata, k)
				continue
			}
			f.Metadata[k] = v
		}
	}
}

func validate(f Favorite) error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("favorite id is required")
	}
	if f.ViewCount < 0 {
		return fmt.Errorf("favorite %q has negative view count", f.ID)
	}
	return geo.ValidateLocation(f.Location)
}

func (f Favorite) matches(query string) bool {
	if strings.Contains(strings.ToLower(f.Name), query) ||
		strings.Contains(strings.ToLower(f.State), query) ||
		strings.Contains(strings.ToLower(f.Country), query) {
		return true
	}
	for _, name := range f.LocalNames {
		if strings.Contains(strings.ToLower(name), query) {
			return true
		}
	}
	return false
}
