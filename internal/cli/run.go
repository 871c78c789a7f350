package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/lock"
	"github.com/watzon/cadence/internal/metrics"
	"github.com/watzon/cadence/internal/rules"
	"github.com/watzon/cadence/internal/scheduler"
)

// LogHandlerName is a built-in handler that logs and advances its rules.
const LogHandlerName = "cadence.log"

var (
	runOnce     bool
	runSchedule string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the overdue rule scheduler",
	Long: `Run the scheduler, dispatching overdue rules to their handlers on the
configured schedule.

Each pass holds the configured lock so that several processes can share one
database. Pass limits, filters and the log level are reloaded when the config
file changes.

Use --once to run a single pass and exit.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single pass and exit")
	runCmd.Flags().StringVar(&runSchedule, "schedule", "", "Override the pass schedule (cron expression)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var live atomic.Pointer[scheduler.Runner]
	cfg, err := loadConfig(func(updated *config.Config) {
		setupLogging(updated.Logging)
		runner := live.Load()
		if runner == nil {
			return
		}
		rc, err := scheduler.RunnerConfigFrom(updated)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid scheduler filters")
			return
		}
		runner.SetOptions(rc.Options)
		log.Info().
			Int("handler_limit", rc.Options.HandlerLimit).
			Int("related_limit", rc.Options.RelatedLimit).
			Msg("Scheduler options updated")
	})
	if err != nil {
		return err
	}
	if runSchedule != "" {
		cfg.Scheduler.Schedule = runSchedule
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := registerBuiltins(handlers); err != nil {
		return err
	}

	locker, closeLocker, err := lock.New(ctx, cfg.Lock, db)
	if err != nil {
		return fmt.Errorf("creating %s lock: %w", cfg.Lock.Backend, err)
	}
	defer closeLocker()

	rc, err := scheduler.RunnerConfigFrom(cfg)
	if err != nil {
		return err
	}
	runner, err := scheduler.NewRunner(scheduler.NewDispatcher(db, handlers), locker, rc)
	if err != nil {
		return err
	}
	live.Store(runner)

	if runOnce {
		report, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info().
			Strs("handlers", report.Handlers).
			Int("related", len(report.Related)).
			Int("advanced", report.Advanced).
			Int("skipped", report.Skipped).
			Msg("Pass complete")
		return nil
	}

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Listen)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info().
		Str("database", cfg.Database.Path).
		Str("lock_backend", cfg.Lock.Backend).
		Strs("handlers", handlers.Names()).
		Msg("Starting scheduler")

	runner.Start()
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	runner.Stop()

	return nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server error")
		}
	}()

	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	return srv
}

// registerBuiltins adds the handlers shipped with the binary unless the
// embedding program already claimed their names.
func registerBuiltins(registry *scheduler.Registry) error {
	if registry.Handler(LogHandlerName).IsPresent() {
		return nil
	}
	return registry.Register(LogHandlerName, scheduler.HandlerFunc(logOverdue))
}

func logOverdue(ctx context.Context, store *rules.Store, now time.Time) ([]*rules.Rule, error) {
	overdue, err := store.Overdue(ctx, LogHandlerName, now)
	if err != nil {
		return nil, err
	}
	for _, r := range overdue {
		log.Info().
			Str("rule_id", r.ID).
			Time("occurrence", *r.NextOccurrence).
			Str("time_zone", r.TimeZone).
			Msg("Occurrence due")
	}
	return overdue, nil
}
