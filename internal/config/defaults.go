package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "cadence.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultSchedule     = "@every 30s"
	DefaultHandlerLimit = 0
	DefaultRelatedLimit = 0

	// Lock defaults.
	DefaultLockBackend = "sqlite"
	DefaultLockName    = "cadence:handle-overdue"
	DefaultLockTTL     = 5 * time.Minute

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsListen = ":9464"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Scheduler: SchedulerConfig{
			Schedule:     DefaultSchedule,
			RunOnStart:   true,
			HandlerLimit: DefaultHandlerLimit,
			RelatedLimit: DefaultRelatedLimit,
		},
		Lock: LockConfig{
			Backend: DefaultLockBackend,
			Name:    DefaultLockName,
			TTL:     DefaultLockTTL,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsListen,
		},
	}
}
