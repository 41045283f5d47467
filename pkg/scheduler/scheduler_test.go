package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	appcontext "github.com/Ramsey-B/heather/pkg/context"
	"github.com/Ramsey-B/heather/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) job(name string, err error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls = append(c.calls, name+":"+appcontext.GetTrigger(ctx))
		return err
	}
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeLock struct {
	released bool
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}

func (l *fakeLock) KeepAlive(ctx context.Context, ttl time.Duration) {
	<-ctx.Done()
}

type fakeLocker struct {
	held  map[string]bool
	err   error
	locks []*fakeLock
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held[name] {
		return nil, redis.ErrLockNotAcquired
	}
	lock := &fakeLock{}
	f.locks = append(f.locks, lock)
	return lock, nil
}

func importJobs(log *callLog, catalogOnStartup, availabilityOnStartup bool) []Job {
	return []Job{
		{Name: "catalog", Spec: "0 16 * * *", Enabled: true, Locked: true, RunOnStartup: catalogOnStartup, Run: log.job("catalog", nil)},
		{Name: "availability", Spec: "@every 1m", Enabled: true, Locked: true, RunOnStartup: availabilityOnStartup, StartupAfter: "catalog", Run: log.job("availability", nil)},
	}
}

func TestScheduler_RunStartup(t *testing.T) {
	t.Run("should run catalog then availability", func(t *testing.T) {
		log := &callLog{}
		s := NewScheduler(importJobs(log, true, true), nil, Config{}, testLogger())

		s.RunStartup(context.Background())

		assert.Equal(t, []string{"catalog:startup", "availability:startup"}, log.list())
	})

	t.Run("should skip availability when the catalog startup run is disabled", func(t *testing.T) {
		log := &callLog{}
		s := NewScheduler(importJobs(log, false, true), nil, Config{}, testLogger())

		s.RunStartup(context.Background())

		assert.Empty(t, log.list())
	})

	t.Run("should continue after a failed startup run", func(t *testing.T) {
		log := &callLog{}
		jobs := importJobs(log, true, true)
		jobs[0].Run = log.job("catalog", errors.New("feed down"))
		s := NewScheduler(jobs, nil, Config{}, testLogger())

		s.RunStartup(context.Background())

		assert.Equal(t, []string{"catalog:startup", "availability:startup"}, log.list())
	})
}

func TestScheduler_RunJob(t *testing.T) {
	t.Run("should skip when another replica holds the lock", func(t *testing.T) {
		log := &callLog{}
		locker := &fakeLocker{held: map[string]bool{"catalog": true}}
		s := NewScheduler(importJobs(log, true, true), locker, Config{}, testLogger())

		err := s.runJob(context.Background(), s.jobs[0], "schedule")

		require.NoError(t, err)
		assert.Empty(t, log.list())
	})

	t.Run("should release the lock after the run", func(t *testing.T) {
		log := &callLog{}
		locker := &fakeLocker{}
		s := NewScheduler(importJobs(log, true, true), locker, Config{}, testLogger())

		err := s.runJob(context.Background(), s.jobs[1], "schedule")

		require.NoError(t, err)
		assert.Equal(t, []string{"availability:schedule"}, log.list())
		require.Len(t, locker.locks, 1)
		assert.True(t, locker.locks[0].released)
	})

	t.Run("should not run when the lock store fails", func(t *testing.T) {
		log := &callLog{}
		locker := &fakeLocker{err: errors.New("connection refused")}
		s := NewScheduler(importJobs(log, true, true), locker, Config{}, testLogger())

		err := s.runJob(context.Background(), s.jobs[0], "schedule")

		assert.Error(t, err)
		assert.Empty(t, log.list())
	})

	t.Run("should bound the run with the timeout", func(t *testing.T) {
		s := NewScheduler(nil, nil, Config{RunTimeout: 20 * time.Millisecond}, testLogger())
		job := Job{Name: "slow", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}

		err := s.runJob(context.Background(), job, "manual")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestScheduler_StartStop(t *testing.T) {
	t.Run("should reject an invalid cron spec", func(t *testing.T) {
		jobs := []Job{{Name: "bad", Spec: "not a spec", Enabled: true, Run: func(context.Context) error { return nil }}}
		s := NewScheduler(jobs, nil, Config{}, testLogger())

		err := s.Start(context.Background())

		assert.Error(t, err)
		assert.False(t, s.IsRunning())
	})

	t.Run("should start once and stop", func(t *testing.T) {
		log := &callLog{}
		s := NewScheduler(importJobs(log, false, false), nil, Config{}, testLogger())

		require.NoError(t, s.Start(context.Background()))
		assert.True(t, s.IsRunning())
		assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
		assert.False(t, s.IsRunning())
	})

	t.Run("should fire jobs on their schedule", func(t *testing.T) {
		log := &callLog{}
		jobs := []Job{{Name: "tick", Spec: "@every 1s", Enabled: true, Run: log.job("tick", nil)}}
		s := NewScheduler(jobs, nil, Config{}, testLogger())

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop(context.Background())

		assert.Eventually(t, func() bool { return len(log.list()) > 0 }, 3*time.Second, 50*time.Millisecond)
		assert.Equal(t, "tick:schedule", log.list()[0])
	})
}
