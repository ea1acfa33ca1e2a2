package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/goforj/geostate/appstate"
	"github.com/goforj/geostate/config"
	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/location"
	"github.com/goforj/geostate/location/ipgeo"
	"github.com/goforj/geostate/location/owm"
	"github.com/goforj/geostate/storage"
)

// Storage operations slower than this are logged at info.
const slowStorageOp = 250 * time.Millisecond

// app is the composed runtime: one repository shared by every service.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	repo      *storage.Repository
	notifier  storage.ChangeNotifier
	location  *location.Service
	favorites *favorites.Service
	state     *appstate.Store

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	sc := cfg.StorageConfig()
	if sc.Driver == storage.DriverFile && sc.FileDir == "" {
		base, dirErr := os.UserConfigDir()
		if dirErr != nil {
			base = os.TempDir()
		}
		sc.FileDir = filepath.Join(base, "geostate")
	}

	var rdb *redis.Client
	if sc.Driver == storage.DriverRedis || cfg.Notifier == config.NotifierRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		sc.RedisClient = rdb
	}

	var kv nats.KeyValue
	if sc.Driver == storage.DriverNATS {
		kv, err = a.openNATS(cfg.Storage.NATSURL, cfg.Storage.NATSBucket)
		if err != nil {
			return nil, err
		}
		sc.NATSKeyValue = kv
	}

	store, err := storage.New(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", sc.Driver, err)
	}

	switch cfg.Notifier {
	case config.NotifierFile:
		w, werr := storage.NewFileWatcher(sc.FileDir, logger)
		if werr != nil {
			return nil, werr
		}
		a.closers = append(a.closers, w.Close)
		a.notifier = w
	case config.NotifierRedis:
		n := storage.NewRedisNotifier(rdb, sc.Prefix, logger)
		store = n.Wrap(store)
		a.notifier = n
	case config.NotifierNATS:
		a.notifier = storage.NewNATSWatcher(kv, sc.Prefix)
	default:
		a.notifier = storage.NopNotifier{}
	}

	if cfg.Storage.Memo {
		memo := storage.NewMemoStore(store)
		keys := append(appstate.PersistedKeys(appstate.DefaultKeyPrefix), favorites.DefaultKey)
		stop, ferr := memo.Follow(ctx, a.notifier, keys...)
		if ferr != nil {
			return nil, fmt.Errorf("follow storage changes: %w", ferr)
		}
		a.closers = append(a.closers, func() error { stop(); return nil })
		store = memo
	}

	a.repo = storage.NewRepository(store).
		WithLogger(logger).
		WithObserver(storage.LogObserver(logger, slowStorageOp))

	var geocoder location.Geocoder
	if cfg.Geocoder.APIKey != "" {
		geocoder = owm.New(owm.Config{
			APIKey:        cfg.Geocoder.APIKey,
			BaseURL:       cfg.Geocoder.BaseURL,
			RatePerSecond: cfg.Geocoder.RatePerSecond,
		})
	}
	a.location = location.New(location.Config{
		Geolocator: ipgeo.New(ipgeo.Config{Endpoint: cfg.IPGeo.URL, PollInterval: cfg.IPGeo.Interval}),
		Geocoder:   geocoder,
		Repository: a.repo,
		Timeout:    cfg.LocationTimeout,
		CacheTTL:   cfg.LocationCacheTTL,
		Logger:     logger,
	})
	a.closers = append(a.closers, a.location.Close)

	a.favorites = favorites.New(favorites.Config{
		Repository:   a.repo,
		Notifier:     a.notifier,
		MaxFavorites: cfg.FavoritesMax,
		Tolerance:    cfg.FavoritesTolerance,
		Logger:       logger,
	})
	a.closers = append(a.closers, a.favorites.Close)

	var network appstate.NetworkMonitor
	if cfg.Network.ProbeURL != "" {
		network = appstate.HTTPProbe{URL: cfg.Network.ProbeURL, Interval: cfg.Network.Interval}
	}
	a.state = appstate.New(ctx, appstate.Config{
		Repository:       a.repo,
		Network:          network,
		BatchWindow:      cfg.State.BatchWindow,
		CleanupInterval:  cfg.State.CleanupInterval,
		WeatherTTL:       cfg.State.WeatherTTL,
		LocationCacheTTL: cfg.State.LocationCacheTTL,
		Logger:           logger,
	})
	a.closers = append(a.closers, a.state.Close)

	unbind, err := a.state.BindFavorites(ctx, a.favorites)
	if err != nil {
		return nil, fmt.Errorf("mirror favorites into state: %w", err)
	}
	a.closers = append(a.closers, func() error { unbind(); return nil })
	return a, nil
}

func (a *app) openNATS(url, bucket string) (nats.KeyValue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	a.closers = append(a.closers, func() error { nc.Close(); return nil })

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("open nats bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
