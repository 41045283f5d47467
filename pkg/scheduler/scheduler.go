package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/robfig/cron/v3"

	appcontext "github.com/Ramsey-B/heather/pkg/context"
	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/redis"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	DefaultLockTTL    = 15 * time.Minute
	DefaultRunTimeout = 10 * time.Minute
)

// Job is one cron-triggered task.
type Job struct {
	// Name identifies the job in logs and, when Locked, names its Redis lock.
	Name    string
	Spec    string
	Enabled bool
	// Locked jobs take the cross-replica lock before running.
	Locked       bool
	RunOnStartup bool
	// StartupAfter names a job whose startup run must be enabled for this one to run at startup.
	StartupAfter string
	Run          func(ctx context.Context) error
}

type Lock interface {
	Release(ctx context.Context) error
	KeepAlive(ctx context.Context, ttl time.Duration)
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

type redisLocker struct {
	locker *redis.Locker
}

// RedisLocker adapts the Redis import locker.
func RedisLocker(locker *redis.Locker) Locker {
	return redisLocker{locker: locker}
}

func (r redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	lock, err := r.locker.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

type Config struct {
	Location   *time.Location
	LockTTL    time.Duration
	RunTimeout time.Duration
}

// Scheduler runs the import jobs on their cron specs and once at startup.
type Scheduler struct {
	jobs   []Job
	locker Locker
	config Config
	logger ectologger.Logger

	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

// NewScheduler creates a scheduler. A nil locker leaves exclusion to the reconcilers' own guards.
func NewScheduler(jobs []Job, locker Locker, config Config, logger ectologger.Logger) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultRunTimeout
	}

	return &Scheduler{
		jobs:   jobs,
		locker: locker,
		config: config,
		logger: logger,
	}
}

// Start registers the enabled jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.config.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for _, job := range s.jobs {
		if !job.Enabled {
			s.logger.WithContext(ctx).Infof("Job %s is disabled", job.Name)
			continue
		}
		job := job
		if _, err := c.AddFunc(job.Spec, func() {
			_ = s.runJob(baseCtx, job, models.TriggerSchedule)
		}); err != nil {
			cancel()
			return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
		}
		s.logger.WithContext(ctx).Infof("Scheduled job %s: %s (%s)", job.Name, job.Spec, s.config.Location)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true

	s.logger.WithContext(ctx).Info("Scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	cancel()
	stopped := c.Stop()

	select {
	case <-stopped.Done():
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunStartup runs the jobs flagged for startup, in order. A failed startup run is logged and
// does not stop the ones after it.
func (s *Scheduler) RunStartup(ctx context.Context) {
	startup := make(map[string]bool, len(s.jobs))
	for _, job := range s.jobs {
		startup[job.Name] = job.RunOnStartup
	}

	for _, job := range s.jobs {
		if !job.RunOnStartup {
			continue
		}
		if job.StartupAfter != "" && !startup[job.StartupAfter] {
			s.logger.WithContext(ctx).Infof("Skipping startup run of %s because %s does not run at startup", job.Name, job.StartupAfter)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		_ = s.runJob(ctx, job, models.TriggerStartup)
	}
}

// runJob runs one job under the lock and the run timeout. Lock contention skips the run.
func (s *Scheduler) runJob(ctx context.Context, job Job, trigger models.Trigger) error {
	ctx = appcontext.SetTrigger(ctx, string(trigger))
	ctx, span := tracing.StartSpan(ctx, "scheduler.runJob",
		attribute.String("job", job.Name),
		attribute.String("trigger", string(trigger)),
	)
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{"job": job.Name, "trigger": trigger})

	if job.Locked && s.locker != nil {
		lock, err := s.locker.Acquire(ctx, job.Name, s.config.LockTTL)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			metrics.RecordLockSkip(job.Name)
			log.Debug("Job is running on another replica; skipping")
			return nil
		}
		if err != nil {
			tracing.RecordError(span, err)
			log.WithError(err).Warn("Failed to acquire job lock; skipping")
			return err
		}

		keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
		go lock.KeepAlive(keepAliveCtx, s.config.LockTTL)
		defer func() {
			stopKeepAlive()
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("Failed to release job lock")
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	if err := job.Run(runCtx); err != nil {
		tracing.RecordError(span, err)
		log.WithError(err).Warn("Job run failed; it will be retried on the next tick")
		return err
	}
	return nil
}
