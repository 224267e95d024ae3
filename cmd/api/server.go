package main

import (
	"net/http"
	"time"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/greenofig/greenofig/config"
	"github.com/greenofig/greenofig/pkg/api/handlers"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/metrics"
	custommiddleware "github.com/greenofig/greenofig/pkg/middleware"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverDeps are the collaborators the HTTP layer is built from
type serverDeps struct {
	config    *config.Config
	logger    logger.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	processor handlers.EventProcessor
	resolvers handlers.ResolverSource
	ledger    handlers.WebhookLedger
	db        handlers.Pinger
	cache     handlers.Pinger // nil when Redis is unavailable
	sentry    bool
}

// newServer builds the echo instance with middleware and routes.
// The returned rate limiters must be stopped on shutdown.
func newServer(deps *serverDeps) (*echo.Echo, []*custommiddleware.RateLimiter) {
	cfg := deps.config
	log := deps.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	webhookRateLimiter := custommiddleware.NewRateLimiter(cfg.WebhookRateLimitPerMinute, cfg.WebhookRateLimitPerMinute/5+1)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency_ms", v.Latency.Milliseconds()}
			if v.Error != nil {
				log.Warn("request failed", append(args, "error", v.Error)...)
				return nil
			}
			log.Debug("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if deps.sentry {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true,
			Timeout: 2 * time.Second,
		}))
	}
	e.Use(deps.metrics.Middleware())
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))

	healthHandler := handlers.NewHealthHandler(deps.db, deps.cache)
	e.GET("/health", healthHandler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/api/v1")

	// Webhooks are server-to-server: no CORS, their own rate limit, raw body untouched
	webhookHandler := handlers.NewWebhookHandler(deps.processor, log)
	v1.POST("/webhook/stripe", webhookHandler.HandleStripeWebhook, webhookRateLimiter.RateLimitMiddleware())

	app := v1.Group("",
		middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)),
		globalRateLimiter.RateLimitMiddleware(),
		custommiddleware.JWTAuth(cfg.JWTSecret),
	)

	entitlementsHandler := handlers.NewEntitlementsHandler(deps.resolvers)
	app.GET("/entitlements", entitlementsHandler.GetEntitlements)
	app.GET("/entitlements/:feature", entitlementsHandler.GetFeature)

	admin := app.Group("/admin", custommiddleware.RequireAdmin())
	webhookEventsHandler := handlers.NewWebhookEventsHandler(deps.ledger)
	admin.GET("/webhook-events", webhookEventsHandler.ListWebhookEvents)
	admin.GET("/webhook-events/:event_id", webhookEventsHandler.GetWebhookEvent)

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
	})

	return e, []*custommiddleware.RateLimiter{globalRateLimiter, webhookRateLimiter}
}
