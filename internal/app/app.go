package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/clipforge/server/internal/shared/config"
)

// App represents the application.
type App struct {
	deps    *Dependencies
	cleanup func()
	router  *gin.Engine
	cron    *cron.Cron
	logger  *zap.Logger
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	deps, cleanup, err := newDependencies(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		deps:    deps,
		cleanup: cleanup,
		logger:  deps.ZapLogger.Named("app"),
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
	app.router = setupRouter(deps)

	if err := app.schedule(); err != nil {
		cleanup()
		return nil, err
	}
	return app, nil
}

// newDependencies builds the same graph as InitializeDependencies, in order,
// releasing what was built when a later step fails.
func newDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	d := &Dependencies{Config: cfg}

	log, logCleanup, err := ProvideLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	cleanups = append(cleanups, logCleanup)
	d.Logger = log
	d.ZapLogger = ProvideZapLogger(log)
	d.Metrics = ProvideMetrics(cfg)

	db, dbCleanup, err := ProvideDatabase(cfg, d.ZapLogger)
	if err != nil {
		return fail(fmt.Errorf("init database: %w", err))
	}
	cleanups = append(cleanups, dbCleanup)
	d.DB = db

	client, redisCleanup := ProvideRedisClient(cfg, d.ZapLogger)
	cleanups = append(cleanups, redisCleanup)
	d.Redis = client
	d.RateLimiter = ProvideRateLimiter(client)

	d.Resolver, err = ProvideResolver(cfg, ProvideHealthMirror(client), d.ZapLogger, d.Metrics)
	if err != nil {
		return fail(fmt.Errorf("init providers: %w", err))
	}
	d.Tasks = ProvideTaskManager(cfg, d.ZapLogger, d.Metrics)
	d.Hub = ProvideHub(cfg, d.Tasks, d.ZapLogger, d.Metrics)

	d.Storage, err = ProvideStorage(cfg)
	if err != nil {
		return fail(fmt.Errorf("init storage: %w", err))
	}
	d.Generation = ProvideGenerationService(cfg, d.Resolver, d.Storage, ProvideFetcher(cfg), d.Tasks, d.ZapLogger)

	recorder, recorderCleanup := ProvideRecorder(cfg, ProvideAnalyticsRepository(db), ProvideAnalyticsCounter(client), d.ZapLogger, d.Metrics)
	cleanups = append(cleanups, recorderCleanup)
	d.Recorder = recorder

	d.Auth = ProvideAuthService(cfg, d.ZapLogger)

	return d, cleanup, nil
}

// schedule registers the periodic jobs: retention sweep and provider probes.
func (a *App) schedule() error {
	cfg := a.deps.Config

	if cfg.Tasks.CleanupInterval > 0 {
		if _, err := a.cron.AddFunc(every(cfg.Tasks.CleanupInterval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			a.deps.Tasks.Sweep(ctx)
		}); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}

	if cfg.Providers.HealthCheckInterval > 0 {
		if _, err := a.cron.AddFunc(every(cfg.Providers.HealthCheckInterval), a.probe); err != nil {
			return fmt.Errorf("schedule health checks: %w", err)
		}
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (a *App) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), a.deps.Config.Providers.HealthCheckTimeout+5*time.Second)
	defer cancel()

	results := a.deps.Resolver.ProbeAll(ctx)
	healthy := 0
	for _, d := range results {
		if d.Healthy {
			healthy++
		}
	}
	a.logger.Debug("provider health probed",
		zap.Int("providers", len(results)),
		zap.Int("healthy", healthy))
}

// Start restores shared provider health, launches the workers and the scheduler.
func (a *App) Start(ctx context.Context) {
	a.deps.Resolver.Restore(ctx)
	a.deps.Tasks.Start()
	a.cron.Start()
	go a.probe()

	a.logger.Info("application started",
		zap.String("storage", a.deps.Config.Storage.Backend),
		zap.Bool("redis", a.deps.Redis != nil))
}

// Reload applies the settings that can change without a restart.
func (a *App) Reload(cfg *config.Config) {
	a.deps.Logger.SetLevel(cfg.Log.Level)
	a.logger.Info("configuration reloaded", zap.String("log_level", cfg.Log.Level))
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Dependencies returns the wired dependencies.
func (a *App) Dependencies() *Dependencies {
	return a.deps
}

// Stop stops the scheduler and the workers, then releases every resource.
// Running tasks get until ctx expires to finish.
func (a *App) Stop(ctx context.Context) error {
	<-a.cron.Stop().Done()

	err := a.deps.Tasks.Stop(ctx)
	if err != nil {
		a.logger.Warn("task manager did not drain in time", zap.Error(err))
	}

	a.logger.Info("application stopped")
	a.cleanup()
	return err
}
