package storage

import (
	"context"

	"github.com/goforj/geostate/geoerr"
)

// New returns a concrete store for the requested driver.
// Driver-specific dependencies (redis client, kv bucket, dsn) must be present in cfg.
//
// Example: file store
//
//	store, err := storage.New(ctx, storage.Config{
//		Driver:  storage.DriverFile,
//		FileDir: "/var/lib/geostate",
//	})
func New(ctx context.Context, cfg Config) (Store, error) {
	cfg = cfg.withDefaults()
	switch cfg.Driver {
	case DriverNull:
		return newNullStore(), nil
	case DriverMemory:
		return newMemoryStore(cfg.DefaultTTL, cfg.MemoryCleanupInterval), nil
	case DriverFile:
		store, err := newFileStore(cfg.FileDir, cfg.DefaultTTL)
		return opened(store, err)
	case DriverRedis:
		if cfg.RedisClient == nil {
			return nil, notConfigured(DriverRedis, "open")
		}
		return newRedisStore(cfg.RedisClient, cfg.DefaultTTL, cfg.Prefix), nil
	case DriverNATS:
		if cfg.NATSKeyValue == nil {
			return nil, notConfigured(DriverNATS, "open")
		}
		return newNATSStore(cfg.NATSKeyValue, cfg.DefaultTTL, cfg.Prefix), nil
	case DriverSQL:
		store, err := newSQLStore(ctx, cfg)
		return opened(store, err)
	case DriverDynamo:
		store, err := newDynamoStore(ctx, cfg)
		return opened(store, err)
	default:
		return nil, geoerr.Newf(geoerr.Validation, "storage.open", "unknown driver %q", cfg.Driver)
	}
}

// opened keeps a failed constructor's typed nil out of the Store interface.
func opened[S Store](store S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewWith builds a store using a driver and a set of functional options.
//
// Example: redis store
//
//	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	store, err := storage.NewWith(ctx, storage.DriverRedis,
//		storage.WithRedisClient(client),
//		storage.WithPrefix("geostate"),
//	)
func NewWith(ctx context.Context, driver Driver, opts ...Option) (Store, error) {
	cfg := Config{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return New(ctx, cfg)
}

// NewMemoryStore is a convenience for an in-process store.
func NewMemoryStore(opts ...Option) Store {
	cfg := Config{Driver: DriverMemory}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	cfg = cfg.withDefaults()
	return newMemoryStore(cfg.DefaultTTL, cfg.MemoryCleanupInterval)
}

// NewFileStore is a convenience for a filesystem-backed store.
func NewFileStore(dir string, opts ...Option) (Store, error) {
	return NewWith(context.Background(), DriverFile, append([]Option{WithFileDir(dir)}, opts...)...)
}
