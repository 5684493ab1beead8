package domain

import (
	"context"
	"time"
)

// KVStore is the durable key-value interface profile persistence uses.
// Values are whole-profile blobs keyed by customer ID; a partially
// written profile must never be observable.
type KVStore interface {
	// Load retrieves the value for a key. Returns nil, nil for an
	// absent key.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores the value for a key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// KVConfig holds configuration for key-value store initialization.
type KVConfig struct {
	// Driver is the store driver: "sqlite", "postgres", "redis" or
	// "memory".
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis specific
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
