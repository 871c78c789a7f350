// Package config provides configuration management for cadence.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Lock      LockConfig      `mapstructure:"lock"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout in milliseconds
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig controls the overdue-rule pass.
type SchedulerConfig struct {
	// Cron expression for the pass, e.g. "@every 30s" or "*/5 * * * *"
	Schedule string `mapstructure:"schedule"`

	// Run one pass immediately on start
	RunOnStart bool `mapstructure:"run_on_start"`

	// Maximum handler classes processed per pass (0 = unlimited)
	HandlerLimit int `mapstructure:"handler_limit"`

	// Maximum related-entity rules considered per pass (0 = unlimited)
	RelatedLimit int `mapstructure:"related_limit"`

	// Glob patterns restricting which handler names are dispatched
	HandlerNames []string `mapstructure:"handler_names"`

	// Glob patterns restricting which related entity types are dispatched
	RelatedTypes []string `mapstructure:"related_types"`
}

// LockConfig selects the single-flight lock guarding each pass.
type LockConfig struct {
	// Backend is one of: sqlite, redis, postgres, none
	Backend string `mapstructure:"backend"`

	// Name of the lock shared by all scheduler processes
	Name string `mapstructure:"name"`

	// Lease duration; a crashed holder loses the lock after this long
	TTL time.Duration `mapstructure:"ttl"`

	// Redis connection URL, e.g. redis://localhost:6379/0
	RedisURL string `mapstructure:"redis_url"`

	// Postgres connection string
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}
