package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, needs ...string) Dependency {
	return Dependency{
		Name:  name,
		Needs: needs,
		StartFn: func(ctx context.Context) error {
			r.events = append(r.events, "start:"+name)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			r.events = append(r.events, "stop:"+name)
			return nil
		},
	}
}

func noWait(ctx context.Context, d time.Duration) error { return nil }

func TestStartup(t *testing.T) {
	t.Run("should start in dependency order and stop in reverse", func(t *testing.T) {
		rec := &recorder{}
		s := NewStartup(testLogger(), 1)
		s.AddDependency(rec.dep("scheduler", "database", "redis"))
		s.AddDependency(rec.dep("migrations", "database"))
		s.AddDependency(rec.dep("database"))
		s.AddDependency(rec.dep("redis"))

		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, []string{"start:database", "start:redis", "start:scheduler", "start:migrations"}, rec.events)

		rec.events = nil
		require.NoError(t, s.Stop(context.Background()))
		assert.Equal(t, []string{"stop:migrations", "stop:scheduler", "stop:redis", "stop:database"}, rec.events)
		assert.Equal(t, StartupStatusStopped, s.Status("database"))
	})

	t.Run("should retry and not restart what already started", func(t *testing.T) {
		rec := &recorder{}
		failures := 2
		flaky := Dependency{Name: "database", StartFn: func(ctx context.Context) error {
			if failures > 0 {
				failures--
				return errors.New("connection refused")
			}
			return nil
		}}

		s := NewStartup(testLogger(), 5)
		s.wait = noWait
		s.AddDependency(rec.dep("tracing"))
		s.AddDependency(flaky)

		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, []string{"start:tracing"}, rec.events)
		assert.Equal(t, StartupStatusStarted, s.Status("database"))
	})

	t.Run("should give up after the last attempt", func(t *testing.T) {
		s := NewStartup(testLogger(), 3)
		s.wait = noWait
		s.AddDependency(Dependency{Name: "database", StartFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		}})

		err := s.Start(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "startup failed after 3 attempts")
		assert.Equal(t, StartupStatusFailed, s.Status("database"))
	})

	t.Run("should fail fast on an unregistered dependency", func(t *testing.T) {
		s := NewStartup(testLogger(), 5)
		s.AddDependency(Dependency{Name: "scheduler", Needs: []string{"redis"}})

		err := s.Start(context.Background())

		var missing *MissingDependencyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "redis", missing.Name)
	})
}
