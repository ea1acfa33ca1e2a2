// Package config loads the geostate runtime configuration from the
// environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/goforj/geostate/storage"
)

// Notifier kinds for cross-instance change delivery.
const (
	NotifierNone  = "none"
	NotifierFile  = "file"
	NotifierRedis = "redis"
	NotifierNATS  = "nats"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Storage  Storage  `envPrefix:"STORAGE_"`
	Notifier string   `env:"NOTIFIER" envDefault:"none"`
	Geocoder Geocoder `envPrefix:"OWM_"`
	IPGeo    IPGeo    `envPrefix:"IPGEO_"`
	Network  Network  `envPrefix:"NETWORK_"`
	State    State    `envPrefix:"STATE_"`

	FavoritesMax       int     `env:"FAVORITES_MAX" envDefault:"10"`
	FavoritesTolerance float64 `env:"FAVORITES_TOLERANCE" envDefault:"0.001"`

	LocationCacheTTL time.Duration `env:"LOCATION_CACHE_TTL" envDefault:"10m"`
	LocationTimeout  time.Duration `env:"LOCATION_TIMEOUT" envDefault:"10s"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Driver string `env:"DRIVER" envDefault:"file"`
	Prefix string `env:"PREFIX" envDefault:"geostate"`
	Dir    string `env:"DIR"`

	// Memo remembers reads in process; remote writes are followed through
	// the configured notifier.
	Memo bool `env:"MEMO"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NATSURL    string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSBucket string `env:"NATS_BUCKET" envDefault:"geostate"`

	SQLDriver string `env:"SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN    string `env:"SQL_DSN"`
	SQLTable  string `env:"SQL_TABLE"`

	DynamoEndpoint string `env:"DYNAMO_ENDPOINT"`
	DynamoRegion   string `env:"DYNAMO_REGION"`
	DynamoTable    string `env:"DYNAMO_TABLE"`
}

// Geocoder configures the OpenWeatherMap geocoding client.
type Geocoder struct {
	APIKey        string  `env:"API_KEY"`
	BaseURL       string  `env:"BASE_URL"`
	RatePerSecond float64 `env:"RATE" envDefault:"1"`
}

// IPGeo configures IP-based geolocation.
type IPGeo struct {
	URL      string        `env:"URL"`
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`
}

// Network configures the online probe. An empty URL disables it.
type Network struct {
	ProbeURL string        `env:"PROBE_URL"`
	Interval time.Duration `env:"PROBE_INTERVAL" envDefault:"30s"`
}

// State configures the application state store.
type State struct {
	BatchWindow      time.Duration `env:"BATCH_WINDOW" envDefault:"16ms"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	WeatherTTL       time.Duration `env:"WEATHER_TTL" envDefault:"10m"`
	LocationCacheTTL time.Duration `env:"LOCATION_TTL" envDefault:"1h"`
}

// Prefix namespaces every variable, e.g. GEOSTATE_STORAGE_DRIVER.
const Prefix = "GEOSTATE_"

// Load reads the given .env files, if present, then parses the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse(env.Options{Prefix: Prefix})
}

// Parse parses the configuration with opts, which tests use to inject an
// environment map.
func Parse(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = Prefix
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component could run with.
func (c Config) Validate() error {
	var errs []error
	switch storage.Driver(c.Storage.Driver) {
	case storage.DriverNull, storage.DriverMemory, storage.DriverFile, storage.DriverRedis,
		storage.DriverNATS, storage.DriverSQL, storage.DriverDynamo:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Notifier {
	case NotifierNone, NotifierFile, NotifierRedis, NotifierNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q", c.Notifier))
	}
	if c.Notifier == NotifierFile && c.Storage.Driver != string(storage.DriverFile) {
		errs = append(errs, errors.New("file notifier requires the file storage driver"))
	}
	if c.Notifier == NotifierNATS && c.Storage.Driver != string(storage.DriverNATS) {
		errs = append(errs, errors.New("nats notifier requires the nats storage driver"))
	}
	if c.Storage.Driver == string(storage.DriverSQL) {
		switch c.Storage.SQLDriver {
		case "sqlite", "mysql", "pgx":
		default:
			errs = append(errs, fmt.Errorf("unknown sql driver %q", c.Storage.SQLDriver))
		}
		if c.Storage.SQLDSN == "" {
			errs = append(errs, errors.New("sql storage requires a dsn"))
		}
	}
	if c.FavoritesMax <= 0 {
		errs = append(errs, errors.New("favorites max must be positive"))
	}
	if c.FavoritesTolerance < 0 {
		errs = append(errs, errors.New("favorites tolerance must not be negative"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StorageConfig maps the storage settings onto storage.Config. Clients for
// networked drivers are attached by the caller.
func (c Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:         storage.Driver(c.Storage.Driver),
		Prefix:         c.Storage.Prefix,
		FileDir:        c.Storage.Dir,
		SQLDriverName:  c.Storage.SQLDriver,
		SQLDSN:         c.Storage.SQLDSN,
		SQLTable:       c.Storage.SQLTable,
		DynamoEndpoint: c.Storage.DynamoEndpoint,
		DynamoRegion:   c.Storage.DynamoRegion,
		DynamoTable:    c.Storage.DynamoTable,
	}
}

// Logger builds the process logger.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
