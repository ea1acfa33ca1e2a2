package appstate

import (
	"log/slog"
	"time"

	"github.com/goforj/geostate/storage"
)

const (
	DefaultKeyPrefix        = "geostate:state"
	DefaultBatchWindow      = 16 * time.Millisecond
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultWeatherTTL       = 10 * time.Minute
	DefaultLocationCacheTTL = time.Hour
)

// Config controls a Store.
type Config struct {
	// Repository persists the durable slices. Defaults to an in-memory store.
	Repository *storage.Repository
	// Network reports online status changes. Nil leaves ui.isOnline to callers.
	Network   NetworkMonitor
	KeyPrefix string

	// BatchWindow is the debounce window for batched updates.
	BatchWindow time.Duration
	// CleanupInterval is the cache eviction period. Negative disables the loop.
	CleanupInterval  time.Duration
	WeatherTTL       time.Duration
	LocationCacheTTL time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Repository == nil {
		c.Repository = storage.NewRepository(storage.NewMemoryStore())
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.WeatherTTL <= 0 {
		c.WeatherTTL = DefaultWeatherTTL
	}
	if c.LocationCacheTTL <= 0 {
		c.LocationCacheTTL = DefaultLocationCacheTTL
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

// WithNetwork sets the online status source.
func WithNetwork(n NetworkMonitor) Option {
	return func(c Config) Config { c.Network = n; return c }
}

// WithKeyPrefix sets the prefix of the persisted slice keys.
func WithKeyPrefix(prefix string) Option {
	return func(c Config) Config { c.KeyPrefix = prefix; return c }
}

// WithBatchWindow sets the batch debounce window.
func WithBatchWindow(d time.Duration) Option {
	return func(c Config) Config { c.BatchWindow = d; return c }
}

// WithCleanup sets the cleanup period and the cache TTLs it enforces.
func WithCleanup(interval, weatherTTL, locationTTL time.Duration) Option {
	return func(c Config) Config {
		c.CleanupInterval = interval
		c.WeatherTTL = weatherTTL
		c.LocationCacheTTL = locationTTL
		return c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c Config) Config { c.Logger = l; return c }
}

func WithClock(now func() time.Time) Option {
	return func(c Config) Config { c.Now = now; return c }
}

// SetOption adjusts a single state update.
type SetOption func(*setOptions)

type setOptions struct {
	batch       bool
	skipPersist bool
	skipNotify  bool
	source      string
}

// Batch queues the update for the next debounced commit.
func Batch() SetOption { return func(o *setOptions) { o.batch = true } }

// SkipPersist commits without writing the durable slices.
func SkipPersist() SetOption { return func(o *setOptions) { o.skipPersist = true } }

// SkipNotify commits without notifying subscribers.
func SkipNotify() SetOption { return func(o *setOptions) { o.skipNotify = true } }

// WithSource labels the resulting change event.
func WithSource(source string) SetOption { return func(o *setOptions) { o.source = source } }

// Change sources recorded on events.
const (
	SourceUser      = "user"
	SourceBatch     = "batch"
	SourceNetwork   = "network"
	SourceCleanup   = "cleanup"
	SourceReset     = "reset"
	SourceFavorites = "favorites"
)

func resolve(opts []SetOption) setOptions {
	o := setOptions{source: SourceUser}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
