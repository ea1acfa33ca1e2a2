// Package geo holds the coordinate and location value types plus the pure
// helpers (validation, great-circle distance, formatting) used across geostate.
package geo

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// EarthRadiusKm is the mean earth radius used by Distance.
	EarthRadiusKm = 6371.0
)

// Coordinates is a device position fix.
type Coordinates struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the fix lies inside the WGS84 ranges.
func (c Coordinates) Valid() bool {
	return ValidCoordinates(c.Latitude, c.Longitude)
}

// Location is a named place returned by geocoding.
type Location struct {
	Name       string            `json:"name"`
	Country    string            `json:"country"`
	State      string            `json:"state,omitempty"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	LocalNames map[string]string `json:"localNames,omitempty"`
}

// Clone returns a copy that shares no mutable state with l.
func (l Location) Clone() Location {
	if l.LocalNames != nil {
		names := make(map[string]string, len(l.LocalNames))
		for k, v := range l.LocalNames {
			names[k] = v
		}
		l.LocalNames = names
	}
	return l
}

// ValidCoordinates reports whether lat/lon are finite and within range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= MinLatitude && lat <= MaxLatitude && lon >= MinLongitude && lon <= MaxLongitude
}

// ValidateLocation checks the fields a Location needs to be stored.
func ValidateLocation(l Location) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("location name is required")
	}
	if !ValidCoordinates(l.Lat, l.Lon) {
		return fmt.Errorf("location %q has invalid coordinates (%v, %v)", l.Name, l.Lat, l.Lon)
	}
	return nil
}

// Distance returns the haversine great-circle distance in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// Near reports whether both coordinate deltas are within tolerance degrees.
func Near(lat1, lon1, lat2, lon2, tolerance float64) bool {
	return math.Abs(lat1-lat2) < tolerance && math.Abs(lon1-lon2) < tolerance
}

// Format renders "Name, State, Country", dropping empty parts and parts that
// repeat an earlier one (e.g. "Singapore, Singapore, SG" -> "Singapore, SG").
func Format(l Location) string {
	parts := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	for _, p := range []string{l.Name, l.State, l.Country} {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return FormatCoordinates(l.Lat, l.Lon)
	}
	return strings.Join(parts, ", ")
}

// FormatCoordinates renders a coordinate pair with four decimals.
func FormatCoordinates(lat, lon float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// NormalizeName lowercases name and collapses every run of non letters/digits
// to a single '-'.
func NormalizeName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
