package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/lock"
	"github.com/watzon/cadence/internal/metrics"
)

// RunnerConfig holds configuration for Runner.
type RunnerConfig struct {
	// Schedule is a cron expression or descriptor (default: "@every 30s").
	Schedule string
	// RunOnStart triggers one pass as soon as the runner starts.
	RunOnStart bool
	// LockName and LockTTL identify the lease held during each pass.
	LockName string
	LockTTL  time.Duration
	Options  Options
}

// RunnerConfigFrom builds a RunnerConfig from the loaded configuration.
func RunnerConfigFrom(cfg *config.Config) (RunnerConfig, error) {
	handlerFilter, err := NewFilter(cfg.Scheduler.HandlerNames...)
	if err != nil {
		return RunnerConfig{}, err
	}
	relatedFilter, err := NewFilter(cfg.Scheduler.RelatedTypes...)
	if err != nil {
		return RunnerConfig{}, err
	}

	return RunnerConfig{
		Schedule:   cfg.Scheduler.Schedule,
		RunOnStart: cfg.Scheduler.RunOnStart,
		LockName:   cfg.Lock.Name,
		LockTTL:    cfg.Lock.TTL,
		Options: Options{
			HandlerLimit:  cfg.Scheduler.HandlerLimit,
			RelatedLimit:  cfg.Scheduler.RelatedLimit,
			HandlerFilter: handlerFilter,
			RelatedFilter: relatedFilter,
		},
	}, nil
}

// Runner triggers overdue passes on a cron schedule. A tick is skipped while
// the previous one is still running, and each pass holds a named lease so
// that several processes never run passes concurrently.
type Runner struct {
	dispatcher *Dispatcher
	locker     lock.Locker
	cron       *cron.Cron
	job        cron.Job
	cfg        RunnerConfig

	mu      sync.RWMutex
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
	started bool
}

func NewRunner(dispatcher *Dispatcher, locker lock.Locker, cfg RunnerConfig) (*Runner, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultSchedule
	}
	if cfg.LockName == "" {
		cfg.LockName = config.DefaultLockName
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = config.DefaultLockTTL
	}
	if locker == nil {
		locker = lock.Noop{}
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		dispatcher: dispatcher,
		locker:     locker,
		cron:       c,
		cfg:        cfg,
		opts:       cfg.Options,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
	// The start pass and scheduled ticks share one chain so they never overlap.
	r.job = cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(r.tick))

	if _, err := c.AddJob(cfg.Schedule, r.job); err != nil {
		cancel()
		return nil, fmt.Errorf("parsing schedule %q: %w", cfg.Schedule, err)
	}

	return r, nil
}

// SetOptions replaces the limits and filters used by later passes.
func (r *Runner) SetOptions(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = opts
}

func (r *Runner) options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Start begins background processing.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	if r.cfg.RunOnStart {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.job.Run()
		}()
	}
	r.cron.Start()

	log.Info().
		Str("schedule", r.cfg.Schedule).
		Str("lock", r.cfg.LockName).
		Msg("Scheduler started")
}

// Stop waits for a running pass to finish and shuts down.
func (r *Runner) Stop() {
	done := r.cron.Stop()
	r.cancel()
	<-done.Done()
	r.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (r *Runner) tick() {
	if _, err := r.RunOnce(r.ctx); err != nil && !errors.Is(err, lock.ErrNotAcquired) {
		log.Error().Err(err).Msg("Overdue pass failed")
	}
}

// RunOnce runs a single pass under the lease. It returns lock.ErrNotAcquired
// when another process holds the lease.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	lease, err := r.locker.Acquire(ctx, r.cfg.LockName, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			metrics.RecordPassSkipped("locked")
			log.Debug().Str("lock", r.cfg.LockName).Msg("Pass skipped, lock held elsewhere")
		}
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.Error().Err(err).Str("lock", r.cfg.LockName).Msg("Failed to release lock")
		}
	}()

	return r.dispatcher.HandleOverdue(ctx, r.now(), r.options())
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		metrics.RecordPassSkipped("still_running")
	}
	withFields(log.Debug(), keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	withFields(log.Error().Err(err), keysAndValues).Msg("cron: " + msg)
}

func withFields(e *zerolog.Event, keysAndValues []any) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}
