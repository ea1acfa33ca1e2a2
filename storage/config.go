package storage

import (
	"os"
	"path/filepath"
	"time"
)

const (
	defaultPrefix                = "geostate"
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultSQLTable              = "geostate_entries"
	defaultDynamoTable           = "geostate_entries"
	defaultDynamoRegion          = "us-east-1"
)

func defaultFileDir() string {
	return filepath.Join(os.TempDir(), "geostate")
}

// Config controls how a Store is constructed.
type Config struct {
	Driver Driver

	// DefaultTTL applies when a write passes ttl <= 0. Zero keeps values forever.
	DefaultTTL time.Duration

	// MemoryCleanupInterval controls how often the memory driver sweeps expired keys.
	MemoryCleanupInterval time.Duration

	// Prefix scopes keys on shared backends (redis, nats, sql, dynamodb).
	Prefix string

	// FileDir is where the file driver keeps one file per key.
	FileDir string

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	// SQLDriverName is one of "sqlite", "mysql", "pgx".
	SQLDriverName string
	SQLDSN        string
	SQLTable      string

	DynamoClient   DynamoAPI
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.DefaultTTL < 0 {
		c.DefaultTTL = 0
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.FileDir == "" {
		c.FileDir = defaultFileDir()
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	return c
}
