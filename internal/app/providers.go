package app

import (
	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clipforge/server/internal/adapter/outbound/postgres"
	redisadapter "github.com/clipforge/server/internal/adapter/outbound/redis"
	"github.com/clipforge/server/internal/adapter/outbound/storage"
	"github.com/clipforge/server/internal/adapter/outbound/vendor"
	"github.com/clipforge/server/internal/module/analytics"
	"github.com/clipforge/server/internal/module/auth"
	"github.com/clipforge/server/internal/module/generation"
	"github.com/clipforge/server/internal/module/progress"
	"github.com/clipforge/server/internal/module/provider"
	"github.com/clipforge/server/internal/module/task"
	"github.com/clipforge/server/internal/shared/cache"
	"github.com/clipforge/server/internal/shared/config"
	"github.com/clipforge/server/internal/shared/database"
	"github.com/clipforge/server/internal/shared/logger"
	"github.com/clipforge/server/internal/shared/metrics"
	"github.com/clipforge/server/internal/shared/middleware"
)

// Dependencies holds everything the HTTP layer and the lifecycle need.
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	ZapLogger   *zap.Logger
	Metrics     *metrics.Metrics
	DB          *gorm.DB
	Redis       goredis.UniversalClient
	RateLimiter middleware.RateLimiter

	Resolver   *provider.Resolver
	Tasks      *task.Manager
	Hub        *progress.Hub
	Storage    generation.Storage
	Generation *generation.Service
	Recorder   *analytics.Recorder
	Auth       *auth.Service
}

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideZapLogger,
	ProvideMetrics,
	ProvideDatabase,
	ProvideRedisClient,
	ProvideRateLimiter,
	ProvideHealthMirror,
	ProvideAnalyticsCounter,
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, func(), error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { _ = log.Close() }, nil
}

// ProvideZapLogger exposes the underlying zap logger.
func ProvideZapLogger(log *logger.Logger) *zap.Logger {
	return log.Logger
}

// ProvideMetrics creates a metrics instance, or nil when metrics are disabled.
func ProvideMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(cfg.Metrics.Namespace)
}

// ProvideDatabase opens the analytics database and migrates it when configured.
func ProvideDatabase(cfg *config.Config, zapLog *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.AutoMigrate(db); err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
	}
	zapLog.Info("database connected", zap.String("driver", cfg.Database.Driver))
	return db, func() { _ = database.Close(db) }, nil
}

// ProvideRedisClient creates a Redis client. It returns nil when Redis is
// disabled or unreachable; every consumer then falls back to local state.
func ProvideRedisClient(cfg *config.Config, zapLog *zap.Logger) (goredis.UniversalClient, func()) {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil, func() {}
	}
	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		zapLog.Warn("Redis connection failed, continuing without it", zap.Error(err))
		return nil, func() {}
	}
	return client, func() { _ = client.Close() }
}

// ProvideRateLimiter creates the submission rate limiter.
func ProvideRateLimiter(client goredis.UniversalClient) middleware.RateLimiter {
	if client == nil {
		return nil
	}
	return redisadapter.NewRateLimiter(client)
}

// ProvideHealthMirror shares provider health across instances.
func ProvideHealthMirror(client goredis.UniversalClient) provider.HealthMirror {
	if client == nil {
		return nil
	}
	return redisadapter.NewProviderHealthMirror(client)
}

// ProvideAnalyticsCounter creates the per-video counters.
func ProvideAnalyticsCounter(client goredis.UniversalClient) analytics.Counter {
	if client == nil {
		return nil
	}
	return redisadapter.NewAnalyticsCounter(client)
}

// ===== Module Providers =====

// ModuleSet provides the domain modules.
var ModuleSet = wire.NewSet(
	ProvideResolver,
	ProvideTaskManager,
	ProvideHub,
	ProvideStorage,
	ProvideFetcher,
	ProvideGenerationService,
	ProvideAnalyticsRepository,
	ProvideRecorder,
	ProvideAuthService,
)

// ProvideResolver creates the provider resolver with every vendor adapter registered.
func ProvideResolver(cfg *config.Config, mirror provider.HealthMirror, zapLog *zap.Logger, m *metrics.Metrics) (*provider.Resolver, error) {
	r := provider.NewResolver(mirror, zapLog, m, &provider.Config{
		HealthCheckTimeout: cfg.Providers.HealthCheckTimeout,
		FailureThreshold:   cfg.Providers.FailureThreshold,
		BreakerTimeout:     cfg.Providers.BreakerTimeout,
		BreakerInterval:    cfg.Providers.HealthCheckInterval,
	})
	for _, a := range vendor.NewAdapters(&cfg.Providers) {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ProvideTaskManager creates the task manager. Its publisher is attached by ProvideHub.
func ProvideTaskManager(cfg *config.Config, zapLog *zap.Logger, m *metrics.Metrics) *task.Manager {
	return task.NewManager(task.NewMemoryStore(), nil, zapLog, m, &task.Config{
		Workers:      cfg.Tasks.Workers,
		QueueCeiling: cfg.Tasks.QueueCeiling,
		Retention:    cfg.Tasks.Retention,
	})
}

// ProvideHub creates the progress hub and connects it to the task manager.
func ProvideHub(cfg *config.Config, manager *task.Manager, zapLog *zap.Logger, m *metrics.Metrics) *progress.Hub {
	hub := progress.NewHub(manager, zapLog, m, &progress.Config{
		Shards:           cfg.Progress.Shards,
		SubscriberBuffer: cfg.Progress.SubscriberBuffer,
	})
	manager.SetPublisher(hub)
	return hub
}

// ProvideStorage creates the configured media storage backend.
func ProvideStorage(cfg *config.Config) (generation.Storage, error) {
	return storage.New(&cfg.Storage)
}

// ProvideFetcher creates the image downloader used for posters.
func ProvideFetcher(cfg *config.Config) generation.Fetcher {
	return vendor.NewFetcher(cfg.Tasks.ProviderTimeout)
}

// ProvideGenerationService creates the generation service and installs its pipelines.
func ProvideGenerationService(
	cfg *config.Config,
	resolver *provider.Resolver,
	store generation.Storage,
	fetcher generation.Fetcher,
	manager *task.Manager,
	zapLog *zap.Logger,
) *generation.Service {
	gc := generation.DefaultConfig()
	gc.Retry = task.RetryPolicy{
		MaxAttempts: cfg.Tasks.StepRetries,
		BaseDelay:   cfg.Tasks.RetryBaseDelay,
		MaxDelay:    cfg.Tasks.RetryMaxDelay,
		Timeout:     cfg.Tasks.ProviderTimeout,
	}
	if cfg.Providers.ImageCacheTTL > 0 {
		gc.ImageCacheTTL = cfg.Providers.ImageCacheTTL
	}

	svc := generation.NewService(resolver, store, fetcher, zapLog, gc)
	svc.Register(manager)
	return svc
}

// ProvideAnalyticsRepository creates the analytics repository.
func ProvideAnalyticsRepository(db *gorm.DB) analytics.Repository {
	return postgres.NewAnalyticsAdapter(db)
}

// ProvideRecorder creates the analytics recorder. The cleanup flushes pending records.
func ProvideRecorder(cfg *config.Config, repo analytics.Repository, counter analytics.Counter, zapLog *zap.Logger, m *metrics.Metrics) (*analytics.Recorder, func()) {
	r := analytics.NewRecorder(repo, counter, zapLog, m, &analytics.Config{
		BufferSize:   cfg.Analytics.BufferSize,
		WriteTimeout: cfg.Analytics.WriteTimeout,
		TopSegments:  cfg.Analytics.TopSegments,
		SegmentWidth: float64(cfg.Analytics.SegmentWidth),
	})
	return r, r.Close
}

// ProvideAuthService creates the admin auth service.
func ProvideAuthService(cfg *config.Config, zapLog *zap.Logger) *auth.Service {
	return auth.NewService(&auth.Config{
		PasswordHash: cfg.Auth.AdminPasswordHash,
		JWT: &auth.JWTConfig{
			Secret:      cfg.Auth.JWTSecret,
			TokenExpiry: cfg.Auth.TokenExpiry,
			Issuer:      "clipforge",
		},
	}, zapLog)
}

// ===== App Set =====

// AppSet is the complete provider set.
var AppSet = wire.NewSet(
	InfraSet,
	ModuleSet,
)
