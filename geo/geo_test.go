package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"north pole", 90, 0, true},
		{"south pole dateline", -90, -180, true},
		{"max corner", 90, 180, true},
		{"lat too high", 90.0001, 0, false},
		{"lat too low", -91, 0, false},
		{"lon too high", 0, 180.5, false},
		{"lon too low", 0, -181, false},
		{"nan", math.NaN(), 0, false},
		{"inf", 0, math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCoordinates(tt.lat, tt.lon))
			assert.Equal(t, tt.want, Coordinates{Latitude: tt.lat, Longitude: tt.lon}.Valid())
		})
	}
}

func TestValidateLocation(t *testing.T) {
	assert.NoError(t, ValidateLocation(Location{Name: "London", Lat: 51.5, Lon: -0.12}))
	assert.Error(t, ValidateLocation(Location{Name: "  ", Lat: 1, Lon: 1}))
	assert.Error(t, ValidateLocation(Location{Name: "Nowhere", Lat: 100, Lon: 1}))
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0.0, Distance(0, 0, 0, 0))

	londonParis := Distance(51.5, -0.12, 48.85, 2.35)
	assert.InEpsilon(t, 343.0, londonParis, 0.05)

	// symmetric
	assert.InDelta(t, londonParis, Distance(48.85, 2.35, 51.5, -0.12), 1e-9)

	// half the circumference between antipodes on the equator
	assert.InDelta(t, math.Pi*EarthRadiusKm, Distance(0, 0, 0, 180), 1e-6)
}

func TestNear(t *testing.T) {
	assert.True(t, Near(51.5074, -0.1278, 51.5080, -0.1270, 0.001))
	assert.False(t, Near(51.5074, -0.1278, 51.5100, -0.1278, 0.001))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		loc  Location
		want string
	}{
		{Location{Name: "Austin", State: "Texas", Country: "US"}, "Austin, Texas, US"},
		{Location{Name: "Paris", Country: "FR"}, "Paris, FR"},
		{Location{Name: "Singapore", State: "Singapore", Country: "SG"}, "Singapore, SG"},
		{Location{Name: "Monaco", State: "monaco", Country: "Monaco"}, "Monaco"},
		{Location{Lat: 1.23456, Lon: -2.5}, "1.2346, -2.5000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.loc))
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "new-york", NormalizeName("  New York "))
	assert.Equal(t, "são-paulo", NormalizeName("São Paulo!!"))
	assert.Equal(t, "st-john-s", NormalizeName("St. John's"))
	assert.Equal(t, "", NormalizeName("---"))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 51.5074, Round(51.50736, 4))
	assert.Equal(t, -0.1278, Round(-0.12776, 4))
}

func TestLocationClone(t *testing.T) {
	orig := Location{Name: "Rome", LocalNames: map[string]string{"it": "Roma"}}
	c := orig.Clone()
	c.LocalNames["it"] = "changed"
	assert.Equal(t, "Roma", orig.LocalNames["it"])
}
