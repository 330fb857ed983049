package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/ethpandaops/kpt/pkg/admin"
	"github.com/ethpandaops/kpt/pkg/api"
	"github.com/ethpandaops/kpt/pkg/api/handlers"
	"github.com/ethpandaops/kpt/pkg/cache"
	_ "github.com/ethpandaops/kpt/pkg/catalog/builtin" // registers the builtin KPI functions
	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/ethpandaops/kpt/pkg/metadata"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/ethpandaops/kpt/pkg/pipeline"
	r "github.com/ethpandaops/kpt/pkg/redis"
	"github.com/ethpandaops/kpt/pkg/scheduler"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/ethpandaops/kpt/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Roles selects the services an Application runs
type Roles struct {
	Worker    bool
	Scheduler bool
	API       bool
}

// AllRoles runs every service in one process
func AllRoles() Roles {
	return Roles{Worker: true, Scheduler: true, API: true}
}

// Application wires the backends, the pipeline service and the long running
// services around it
type Application struct {
	config *Config
	log    *logrus.Logger
	roles  Roles

	chClient    clickhouse.ClientInterface
	checkpoints checkpoint.Store
	redisClient *redis.Client
	queue       *tasks.QueueManager

	engine    *Service
	scheduler scheduler.Service
	worker    worker.Service
	api       api.Service

	healthServer *http.Server
	pprofServer  *http.Server
}

// NewApplication connects every backend and builds the services of roles
func NewApplication(ctx context.Context, log *logrus.Logger, cfg *Config, roles Roles) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	redisOptions, err := cfg.Redis.Options()
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(redisOptions)

	chClient, err := clickhouse.NewClient(log, &cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}

	checkpoints, err := checkpoint.NewStore(ctx, log, &cfg.Checkpoint, chClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	cacheStore, err := cache.NewStore(ctx, &cfg.Cache, redisClient, cfg.Redis.PrefixKey("cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}

	meta := metadata.NewClient(log, &cfg.Metadata, metadata.NewCache(redisClient, cfg.Redis.Prefix, cfg.Metadata.CacheTTL))

	var alerts pipeline.AlertSink
	if cfg.Engine.AlertStream != "" {
		alerts = pipeline.NewRedisAlertSink(redisClient, cfg.Engine.AlertStream, cfg.Engine.AlertStreamMaxLen)
	}

	runs := admin.NewService(redisClient, cfg.Redis.Prefix, cfg.RunLog.Retention, cfg.RunLog.Keep)

	engine := NewService(log, &cfg.Engine, Dependencies{
		Metadata:    meta,
		ClickHouse:  chClient,
		Checkpoints: checkpoints,
		Cache:       cacheStore,
		Runs:        runs,
		Alerts:      alerts,
	})

	asynqRedis := r.NewAsynqRedisOptions(redisOptions)

	app := &Application{
		config:      cfg,
		log:         log,
		roles:       roles,
		chClient:    chClient,
		checkpoints: checkpoints,
		redisClient: redisClient,
		queue:       tasks.NewQueueManager(asynqRedis, cfg.Engine.RunTimeout, cfg.Scheduler.MaxRetry),
		engine:      engine,
	}

	if roles.Worker {
		if app.worker, err = worker.NewService(log, &cfg.Worker, asynqRedis, engine); err != nil {
			return nil, fmt.Errorf("failed to create worker service: %w", err)
		}
	}

	if roles.Scheduler {
		if app.scheduler, err = scheduler.NewService(log, &cfg.Scheduler, cfg.Tenant, redisOptions, &cfg.Redis); err != nil {
			return nil, fmt.Errorf("failed to create scheduler service: %w", err)
		}
	}

	if roles.API {
		app.api = api.NewService(log, &cfg.API, handlers.Dependencies{
			Tenant:      cfg.Tenant,
			Runs:        runs,
			Checkpoints: checkpoints,
			Queue:       app.queue,
			Trees:       engine,
		})
	}

	return app, nil
}

// Engine returns the pipeline service
func (a *Application) Engine() *Service {
	return a.engine
}

// Queue returns the task queue
func (a *Application) Queue() *tasks.QueueManager {
	return a.queue
}

// Start starts the servers and services of the configured roles
func (a *Application) Start(ctx context.Context) error {
	a.log.Info("Starting kpt...")

	observability.StartMetricsServer(a.log, a.config.MetricsAddr)

	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	if err := a.chClient.Start(); err != nil {
		return fmt.Errorf("failed to start ClickHouse client: %w", err)
	}

	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API service: %w", err)
		}
	}

	a.log.WithFields(logrus.Fields{
		"worker":    a.roles.Worker,
		"scheduler": a.roles.Scheduler,
		"api":       a.roles.API,
	}).Info("kpt started successfully")

	return nil
}

// Stop shuts services down in reverse dependency order
func (a *Application) Stop() error {
	a.log.Info("Shutting down kpt...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stop := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// stop creating tasks before draining the ones in flight
	if a.scheduler != nil {
		stop("scheduler service", a.scheduler.Stop)
	}

	if a.api != nil {
		stop("API service", a.api.Stop)
	}

	if a.worker != nil {
		stop("worker service", a.worker.Stop)
	}

	stop("task queue", a.queue.Close)
	stop("Redis client", a.redisClient.Close)

	if closer, ok := a.checkpoints.(interface{ Close() }); ok {
		closer.Close()
	}

	if err := a.chClient.Stop(); err != nil {
		a.log.WithError(err).Error("Failed to stop ClickHouse client")
		return err
	}

	stop("metrics server", func() error { return observability.StopMetricsServer(ctx) })

	if a.healthServer != nil {
		stop("health check server", func() error { return a.healthServer.Shutdown(ctx) })
	}

	if a.pprofServer != nil {
		stop("pprof server", func() error { return a.pprofServer.Shutdown(ctx) })
	}

	return nil
}

func (a *Application) startHealthCheck() {
	a.log.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := a.redisClient.Ping(req.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Application) startPProf() {
	a.log.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
