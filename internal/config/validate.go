package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateLock(&cfg.Lock)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

// CronParser is the schedule grammar accepted by scheduler.schedule.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Schedule == "" {
		errs = append(errs, ValidationError{
			Field:   "scheduler.schedule",
			Message: "required",
		})
	} else if _, err := CronParser.Parse(cfg.Schedule); err != nil {
		errs = append(errs, ValidationError{
			Field:   "scheduler.schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	if cfg.HandlerLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.handler_limit",
			Message: "must be non-negative",
		})
	}

	if cfg.RelatedLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.related_limit",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateLock(cfg *LockConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Backend {
	case "none":
		return errs
	case "sqlite":
	case "redis":
		if cfg.RedisURL == "" {
			errs = append(errs, ValidationError{
				Field:   "lock.redis_url",
				Message: "required when lock.backend is redis",
			})
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			errs = append(errs, ValidationError{
				Field:   "lock.postgres_dsn",
				Message: "required when lock.backend is postgres",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "lock.backend",
			Message: "must be one of: sqlite, redis, postgres, none",
		})
	}

	if cfg.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "lock.name",
			Message: "required",
		})
	}

	if cfg.TTL < time.Second {
		errs = append(errs, ValidationError{
			Field:   "lock.ttl",
			Message: "must be at least 1s",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.Listen == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: "required when metrics are enabled",
		})
	}

	return errs
}
