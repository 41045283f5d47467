package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/config"
	"github.com/Ramsey-B/heather/db/pg"
	"github.com/Ramsey-B/heather/internal/repositories/district"
	"github.com/Ramsey-B/heather/internal/repositories/housing"
	"github.com/Ramsey-B/heather/internal/repositories/importrun"
	"github.com/Ramsey-B/heather/internal/repositories/reference"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/feed"
	"github.com/Ramsey-B/heather/pkg/fetcher"
	"github.com/Ramsey-B/heather/pkg/health"
	"github.com/Ramsey-B/heather/pkg/httpclient"
	"github.com/Ramsey-B/heather/pkg/kafka"
	"github.com/Ramsey-B/heather/pkg/mapper"
	"github.com/Ramsey-B/heather/pkg/reconcile"
	"github.com/Ramsey-B/heather/pkg/redis"
	"github.com/Ramsey-B/heather/pkg/routes/imports"
	"github.com/Ramsey-B/heather/pkg/scheduler"
	"github.com/Ramsey-B/heather/pkg/startup"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"github.com/Ramsey-B/heather/pkg/tracing/exporters"
)

const shutdownTimeout = 30 * time.Second

type app struct {
	cfg            *config.Config
	logger         ectologger.Logger
	deps           *startup.Startup
	shutdownTracer func(context.Context) error
	scheduler      *scheduler.Scheduler
	checker        *health.Checker
	server         *http.Server
}

// infra holds the clients the startup sequence connects. Redis and Kafka stay nil when disabled.
type infra struct {
	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func newApp(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (*app, error) {
	shutdownTracer, err := tracing.Setup(ctx, logger, tracing.Config{
		ServiceName:    cfg.AppName,
		ServiceVersion: cfg.Version,
		OTLPEnabled:    cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Headers:  exporters.ParseHeaders(cfg.OTLPHeaders),
		},
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, err
	}

	in := &infra{}
	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	for _, dep := range dependencies(cfg, logger, in) {
		deps.AddDependency(dep)
	}
	if err := deps.Start(ctx); err != nil {
		_ = deps.Stop(context.WithoutCancel(ctx))
		_ = shutdownTracer(context.WithoutCancel(ctx))
		return nil, err
	}

	a := &app{
		cfg:            cfg,
		logger:         logger,
		deps:           deps,
		shutdownTracer: shutdownTracer,
		checker:        health.NewChecker(cfg.Version),
	}
	if err := a.wire(in); err != nil {
		_ = a.shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func dependencies(cfg *config.Config, logger ectologger.Logger, in *infra) []startup.StartupDependency {
	deps := []startup.StartupDependency{
		startup.Dependency{
			Name: "database",
			StartFn: func(ctx context.Context) error {
				db, err := database.Connect(ctx, logger, database.ConnectionConfig{
					Driver:          cfg.DatabaseDriver,
					DSN:             cfg.DatabaseDSN(),
					MaxOpenConns:    cfg.DatabaseMaxOpenConns,
					MaxIdleConns:    cfg.DatabaseMaxIdleConns,
					ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
				})
				if err != nil {
					return err
				}
				in.db = db
				return nil
			},
			StopFn: func(ctx context.Context) error {
				return in.db.Close()
			},
		},
		startup.Dependency{
			Name:  "migrations",
			Needs: []string{"database"},
			StartFn: func(ctx context.Context) error {
				migrationConfig := &database.MigrationConfig{
					FolderPath:   cfg.DatabaseMigrationFolderPath,
					Version:      uint(cfg.DatabaseMigrationVersion),
					Force:        cfg.DatabaseMigrationForce,
					AutoRollback: cfg.DatabaseMigrationAutoRollback,
				}
				if cfg.DatabaseMigrationFolderPath == "" {
					migrationConfig.Source = pg.Migrations
				}
				return database.NewMigrationService(logger, migrationConfig).MigrateDB(in.db)
			},
		},
	}

	if cfg.RedisEnabled {
		deps = append(deps, startup.Dependency{
			Name: "redis",
			StartFn: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Addr:     cfg.RedisAddr(),
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				in.redis = client
				return nil
			},
			StopFn: func(ctx context.Context) error {
				return in.redis.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		deps = append(deps, startup.Dependency{
			Name: "kafka",
			StartFn: func(ctx context.Context) error {
				brokers := cfg.KafkaBrokerList()
				if len(brokers) == 0 {
					return errors.New("KAFKA_BROKERS is empty")
				}
				in.producer = kafka.NewProducer(kafka.Config{Brokers: brokers, Topic: cfg.KafkaImportTopic}, logger)
				return nil
			},
			StopFn: func(ctx context.Context) error {
				return in.producer.Close()
			},
		})
	}

	return deps
}

// wire builds the import pipeline on top of the connected infrastructure.
func (a *app) wire(in *infra) error {
	cfg, logger := a.cfg, a.logger

	feedLocation, err := time.LoadLocation(cfg.FeedTimezone)
	if err != nil {
		return fmt.Errorf("invalid FEED_TIMEZONE: %w", err)
	}
	schedulerLocation, err := time.LoadLocation(cfg.SchedulerTimezone)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}

	m, err := mapper.NewMapper(logger, feedLocation)
	if err != nil {
		return err
	}

	clientConfig := httpclient.DefaultConfig()
	clientConfig.Timeout = cfg.FeedRequestTimeout
	executor := feed.NewHTTPExecutor(httpclient.NewClient(clientConfig, logger), cfg.FeedURL, cfg.AppName+"/"+cfg.Version, logger)

	policy := fetcher.RetryPolicy{
		MaxAttempts:  cfg.FetchMaxAttempts,
		InitialDelay: cfg.FetchInitialDelay,
		Multiplier:   cfg.FetchMultiplier,
		MaxDelay:     cfg.FetchMaxDelay,
	}

	runs := importrun.NewRepository(in.db, logger)
	housings := housing.NewRepository(in.db, logger)

	opts := []reconcile.Option{reconcile.WithRunRecorder(runs)}
	if in.producer != nil {
		opts = append(opts, reconcile.WithEventPublisher(in.producer))
	}

	catalog := reconcile.NewCatalogReconciler(
		fetcher.NewCatalogFetcher(executor, m, policy, logger),
		in.db,
		reconcile.CatalogStores{
			Cities:       reference.NewCityRepository(in.db, logger),
			HousingTypes: reference.NewHousingTypeRepository(in.db, logger),
			Districts:    district.NewRepository(in.db, logger),
			Housings:     housings,
		},
		logger,
		opts...,
	)
	availability := reconcile.NewAvailabilityReconciler(
		fetcher.NewAvailabilityFetcher(executor, m, policy, logger),
		in.db,
		housings,
		logger,
		opts...,
	)

	var locker scheduler.Locker
	if in.redis != nil {
		locker = scheduler.RedisLocker(redis.NewLocker(in.redis))
	}
	a.scheduler = scheduler.NewScheduler(
		jobs(cfg, logger, catalog, availability, runs),
		locker,
		scheduler.Config{
			Location:   schedulerLocation,
			LockTTL:    cfg.ImportLockTTL,
			RunTimeout: cfg.ImportRunTimeout,
		},
		logger,
	)

	a.checker.AddCheck("database", in.db.PingContext)
	if in.redis != nil {
		a.checker.AddOptionalCheck("redis", in.redis.Ping)
	}
	a.checker.AddImporter(catalog)
	a.checker.AddImporter(availability)

	a.server = newServer(cfg, logger, a.checker, imports.NewHandler(catalog, availability, runs, logger))
	return nil
}

func jobs(cfg *config.Config, logger ectologger.Logger, catalog *reconcile.CatalogReconciler, availability *reconcile.AvailabilityReconciler, runs *importrun.Repository) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:         "catalog",
			Spec:         cfg.CatalogImportCron,
			Enabled:      cfg.CatalogImportEnabled,
			Locked:       true,
			RunOnStartup: cfg.CatalogImportRunOnStartup,
			Run: func(ctx context.Context) error {
				_, err := catalog.Run(ctx)
				return err
			},
		},
		{
			Name:         "availability",
			Spec:         cfg.AvailabilityImportCron,
			Enabled:      cfg.AvailabilityImportEnabled,
			Locked:       true,
			RunOnStartup: cfg.AvailabilityImportRunOnStartup,
			StartupAfter: "catalog",
			Run: func(ctx context.Context) error {
				_, err := availability.Run(ctx)
				return err
			},
		},
		{
			Name:    "run-retention",
			Spec:    "@daily",
			Enabled: cfg.ImportRunRetention > 0,
			Locked:  true,
			Run: func(ctx context.Context) error {
				deleted, err := runs.DeleteBefore(ctx, time.Now().Add(-cfg.ImportRunRetention))
				if err != nil {
					return err
				}
				logger.WithContext(ctx).Infof("Pruned %d import runs older than %s", deleted, cfg.ImportRunRetention)
				return nil
			},
		},
	}
}

// Run serves HTTP and the schedule until ctx is cancelled, then shuts everything down.
func (a *app) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		_ = a.shutdown(context.WithoutCancel(ctx))
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Infof("Starting HTTP server on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	a.checker.SetReady(true)
	go a.scheduler.RunStartup(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case err := <-serverErrors:
		a.logger.WithError(err).Error("HTTP server failed")
		runErr = fmt.Errorf("http server: %w", err)
	}

	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *app) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	a.checker.SetReady(false)

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if err := a.deps.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.shutdownTracer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	if len(errs) > 0 {
		a.logger.WithError(errors.Join(errs...)).Warn("Shutdown finished with errors")
		return errors.Join(errs...)
	}
	a.logger.Info("Shutdown complete")
	return nil
}
