// Package testutil starts throwaway Postgres and Redis containers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/db/pg"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/redis"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Logger discards everything.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// SkipShort skips integration tests under -short.
func SkipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

func start(t *testing.T, req testcontainers.ContainerRequest, port string) (string, string) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start %s", req.Image)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host, mapped.Port()
}

// Postgres starts PostgreSQL, applies the embedded migrations and returns a pool opened with
// the given driver ("postgres" or "pgx").
func Postgres(t *testing.T, driver string) database.DB {
	t.Helper()
	SkipShort(t)

	host, port := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "heather",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	logger := Logger()
	db, err := database.Connect(context.Background(), logger, database.ConnectionConfig{
		Driver: driver,
		DSN:    fmt.Sprintf("postgres://user:password@%s:%s/heather?sslmode=disable", host, port),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = database.NewMigrationService(logger, &database.MigrationConfig{Source: pg.Migrations}).MigrateDB(db)
	require.NoError(t, err)
	return db
}

// Truncate empties every table between subtests.
func Truncate(t *testing.T, db database.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		"TRUNCATE housings, districts, cities, housing_types, import_runs RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

// Redis starts a Redis server and returns a connected client.
func Redis(t *testing.T) *redis.Client {
	t.Helper()
	SkipShort(t)

	host, port := start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379")

	client, err := redis.NewClient(context.Background(), redis.Config{Addr: host + ":" + port}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
