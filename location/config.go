package location

import (
	"log/slog"
	"time"

	"github.com/goforj/geostate/storage"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultCacheTTL        = 10 * time.Minute
	defaultStaleTTL        = time.Hour
	defaultFallbackMaxAge  = 24 * time.Hour
	defaultMinQueryLength  = 2
	defaultSearchLimit     = 5
	defaultReverseLimit    = 1
	defaultLastKnownKey    = "geostate:location:last_known"
	reverseCoordinateScale = 4
)

// Config controls a Service.
type Config struct {
	Geolocator Geolocator
	Geocoder   Geocoder

	// Repository persists the last known position. Nil keeps it in memory.
	Repository   *storage.Repository
	LastKnownKey string

	// Timeout is the default one-shot position timeout.
	Timeout time.Duration
	// CacheTTL is how long geocoding results are served without a request.
	CacheTTL time.Duration
	// StaleTTL is how long results are kept for use when the endpoint fails.
	StaleTTL time.Duration
	// FallbackMaxAge bounds the age of a last known position used when a
	// live fix fails.
	FallbackMaxAge time.Duration

	MinQueryLength int
	SearchLimit    int

	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.LastKnownKey == "" {
		c.LastKnownKey = defaultLastKnownKey
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.StaleTTL < c.CacheTTL {
		c.StaleTTL = defaultStaleTTL
		if c.StaleTTL < c.CacheTTL {
			c.StaleTTL = c.CacheTTL
		}
	}
	if c.FallbackMaxAge <= 0 {
		c.FallbackMaxAge = defaultFallbackMaxAge
	}
	if c.MinQueryLength <= 0 {
		c.MinQueryLength = defaultMinQueryLength
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = defaultSearchLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Option mutates a Config.
type Option func(Config) Config

// WithGeolocator sets the platform geolocation capability.
func WithGeolocator(g Geolocator) Option {
	return func(c Config) Config { c.Geolocator = g; return c }
}

// WithGeocoder sets the geocoding endpoint client.
func WithGeocoder(g Geocoder) Option {
	return func(c Config) Config { c.Geocoder = g; return c }
}

// WithRepository persists the last known position through repo.
func WithRepository(repo *storage.Repository) Option {
	return func(c Config) Config { c.Repository = repo; return c }
}

// WithCacheTTL sets the geocoding cache freshness window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c Config) Config { c.CacheTTL = ttl; return c }
}

// WithTimeout sets the default one-shot position timeout.
func WithTimeout(d time.Duration) Option {
	return func(c Config) Config { c.Timeout = d; return c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c Config) Config { c.Logger = l; return c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c Config) Config { c.Now = now; return c }
}
