package storage

import "time"

// Option mutates Config when constructing a store.
type Option func(Config) Config

// WithDefaultTTL sets the TTL applied when a write passes ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cfg Config) Config {
		cfg.DefaultTTL = ttl
		return cfg
	}
}

// WithMemoryCleanupInterval overrides the sweep interval for the memory driver.
func WithMemoryCleanupInterval(interval time.Duration) Option {
	return func(cfg Config) Config {
		cfg.MemoryCleanupInterval = interval
		return cfg
	}
}

// WithPrefix sets the key prefix for shared backends.
func WithPrefix(prefix string) Option {
	return func(cfg Config) Config {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithFileDir sets the directory used by the file driver.
func WithFileDir(dir string) Option {
	return func(cfg Config) Config {
		cfg.FileDir = dir
		return cfg
	}
}

// WithRedisClient sets the redis client; required when using DriverRedis.
func WithRedisClient(client RedisClient) Option {
	return func(cfg Config) Config {
		cfg.RedisClient = client
		return cfg
	}
}

// WithNATSKeyValue sets the JetStream key-value bucket; required when using DriverNATS.
func WithNATSKeyValue(kv NATSKeyValue) Option {
	return func(cfg Config) Config {
		cfg.NATSKeyValue = kv
		return cfg
	}
}

// WithSQL configures the sql driver connection.
func WithSQL(driverName, dsn, table string) Option {
	return func(cfg Config) Config {
		cfg.SQLDriverName = driverName
		cfg.SQLDSN = dsn
		cfg.SQLTable = table
		return cfg
	}
}

// WithDynamoClient injects a pre-built DynamoDB client.
func WithDynamoClient(client DynamoAPI) Option {
	return func(cfg Config) Config {
		cfg.DynamoClient = client
		return cfg
	}
}

// WithDynamoEndpoint points the DynamoDB driver at a custom endpoint (e.g. DynamoDB Local).
func WithDynamoEndpoint(endpoint, region string) Option {
	return func(cfg Config) Config {
		cfg.DynamoEndpoint = endpoint
		cfg.DynamoRegion = region
		return cfg
	}
}

// WithDynamoTable sets the DynamoDB table name.
func WithDynamoTable(table string) Option {
	return func(cfg Config) Config {
		cfg.DynamoTable = table
		return cfg
	}
}
