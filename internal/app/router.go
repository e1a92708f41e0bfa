package app

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ginadapter "github.com/clipforge/server/internal/adapter/inbound/gin"
	"github.com/clipforge/server/internal/adapter/outbound/storage"
	"github.com/clipforge/server/internal/shared/middleware"
)

// setupRouter builds the gin engine with every route mounted.
func setupRouter(d *Dependencies) *gin.Engine {
	cfg := d.Config

	if cfg.Server.Mode == gin.DebugMode || cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(d.ZapLogger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(d.ZapLogger))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.CORS(cfg.CORS.AllowOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	mountSwagger(r, cfg.Server.SwaggerFile)

	// Locally stored media is served by the API itself.
	if local, ok := d.Storage.(*storage.LocalStorage); ok && strings.HasPrefix(cfg.Storage.PublicURL, "/") {
		r.Static(strings.TrimSuffix(cfg.Storage.PublicURL, "/"), local.Root())
	}

	var submit []gin.HandlerFunc
	if cfg.RateLimit.Enabled && d.RateLimiter != nil {
		submit = append(submit, middleware.RateLimit(d.RateLimiter, middleware.RateLimitConfig{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
		}, d.ZapLogger))
	}
	admin := middleware.RequireAdmin(d.Auth)

	api := r.Group("/api")
	ginadapter.NewTaskAdapter(d.Tasks).RegisterRoutes(api, submit...)
	ginadapter.NewVideoAdapter(d.Generation).RegisterRoutes(api)
	ginadapter.NewSystemAdapter(d.Tasks, d.Resolver, d.Hub).RegisterRoutes(api, admin)
	ginadapter.NewAnalyticsAdapter(d.Recorder).RegisterRoutes(api)
	ginadapter.NewAuthAdapter(d.Auth).RegisterRoutes(api)

	ginadapter.NewProgressAdapter(d.Hub, d.ZapLogger, d.Metrics, &ginadapter.WSConfig{
		PingInterval:   cfg.Progress.PingInterval,
		WriteTimeout:   cfg.Progress.WriteTimeout,
		SendBuffer:     cfg.Progress.SubscriberBuffer,
		AllowedOrigins: cfg.Progress.AllowedOrigins,
	}).RegisterRoutes(r)

	return r
}
