package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeNone   StoreType = "none"
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// StoreConfig selects a backend per store.
type StoreConfig struct {
	// MessageStore is one of none, memory, redis
	MessageStore StoreType `json:"message_store" yaml:"message_store" env:"MESSAGE_STORE"`

	// TaskStore is one of none, memory, sql
	TaskStore StoreType `json:"task_store" yaml:"task_store" env:"TASK_STORE"`

	// MaxMessages bounds the memory and redis message logs; 0 means unbounded
	MaxMessages int `json:"max_messages" yaml:"max_messages" env:"MAX_MESSAGES"`

	// Redis configuration (only used when MessageStore is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`

	// Database configuration (only used when TaskStore is "sql")
	Database DatabaseConfig `json:"database" yaml:"database" env:"DATABASE"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr" env:"ADDR"`
	Password  string `json:"password" yaml:"password" env:"PASSWORD"`
	DB        int    `json:"db" yaml:"db" env:"DB"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
	// TLS 开启后使用 tlsutil.ClientConfig 连接
	TLS bool `json:"tls" yaml:"tls" env:"TLS"`
}

// DatabaseConfig contains gorm connection settings.
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`
	// DSN is passed to the driver unchanged; for sqlite it is a file path or ":memory:"
	DSN             string        `json:"dsn" yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MessageStore: StoreTypeMemory,
		TaskStore:    StoreTypeMemory,
		MaxMessages:  50000,
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "agentcouncil:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "agentcouncil.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}
