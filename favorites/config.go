package favorites

import (
	"log/slog"
	"time"

	"github.com/goforj/geostate/storage"
)

const (
	// DefaultTolerance is the duplicate-detection radius in degrees, about 100 m.
	DefaultTolerance    = 0.001
	DefaultMaxFavorites = 10
	DefaultKey          = "geostate:favorites"
)

// Config controls a Service.
type Config struct {
	// Repository persists the favorites list. Defaults to an in-memory store.
	Repository *storage.Repository
	// Notifier reports writes to Key made by other instances. Nil disables sync.
	Notifier storage.ChangeNotifier
	Key      string

	MaxFavorites int
	// Tolerance is the coordinate distance in degrees within which two
	// locations are the same favorite.
	Tolerance float64

	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Repository == nil {
		c.Repository = storage.NewRepository(storage.NewMemoryStore())
	}
	if c.Notifier == nil {
		c.Notifier = storage.NopNotifier{}
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.MaxFavorites <= 0 {
		c.MaxFavorites = DefaultMaxFavorites
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
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

// WithRepository sets the persistence repository.
func WithRepository(repo *storage.Repository) Option {
	return func(c Config) Config { c.Repository = repo; return c }
}

// WithNotifier enables cross-instance sync.
func WithNotifier(n storage.ChangeNotifier) Option {
	return func(c Config) Config { c.Notifier = n; return c }
}

// WithKey sets the persistence key.
func WithKey(key string) Option {
	return func(c Config) Config { c.Key = key; return c }
}

// WithMaxFavorites caps the list size.
func WithMaxFavorites(n int) Option {
	return func(c Config) Config { c.MaxFavorites = n; return c }
}

// WithTolerance sets the duplicate-detection radius in degrees.
func WithTolerance(deg float64) Option {
	return func(c Config) Config { c.Tolerance = deg; return c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c Config) Config { c.Logger = l; return c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c Config) Config { c.Now = now; return c }
}
