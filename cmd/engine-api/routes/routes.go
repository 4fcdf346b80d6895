// Package routes wires the engine-api control plane (spec.md §6/§13):
// workflow/version CRUD, execution create/read/events/state/debug, and the
// ambient middleware stack (request id, recovery, identity, rate limiting),
// assembled the way the teacher's cmd/orchestrator/routes package assembles
// its own route groups from a shared set of handlers.
package routes

import (
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowengine/cmd/engine-api/handlers"
	"github.com/lyzr/workflowengine/cmd/engine-api/middleware"
	"github.com/lyzr/workflowengine/common/config"
	commonmw "github.com/lyzr/workflowengine/common/middleware"
	"github.com/lyzr/workflowengine/common/logger"
	"github.com/lyzr/workflowengine/common/ratelimit"
	"github.com/lyzr/workflowengine/common/server"
	"github.com/lyzr/workflowengine/internal/engine"
	"github.com/lyzr/workflowengine/internal/store"
)

// New builds the echo.Echo serving the control plane described in spec §6.
func New(eng *engine.Engine, st store.Store, cfg *config.Config, log *logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.ExtractUserID())

	e.GET("/health", echo.WrapHandler(server.HealthHandler()))

	workflowHandler := handlers.NewWorkflowHandler(st)
	executionHandler := handlers.NewExecutionHandler(eng, st)

	api := e.Group("/api/v1")

	limiter := newRateLimiter(cfg, log)
	if limiter != nil {
		api.Use(commonmw.GlobalRateLimitMiddleware(limiter, ratelimit.DefaultGlobalConfig.Limit))
		executionHandler.WithRateLimiter(limiter)
	}

	workflows := api.Group("/workflows")
	if limiter != nil {
		workflows.Use(commonmw.UserRateLimitMiddleware(limiter, ratelimit.GetLimitForTier(ratelimit.TierStandard)))
	}
	workflows.POST("", workflowHandler.Create)
	workflows.GET("", workflowHandler.List)
	workflows.GET("/:id", workflowHandler.Get)
	workflows.POST("/:id/versions", workflowHandler.CreateVersion)
	workflows.GET("/:id/versions", workflowHandler.ListVersions)

	// Execution creation is throttled per-request inside executionHandler.Create,
	// keyed to the resolved workflow's own complexity tier (spec §13.4) rather
	// than one flat limit applied uniformly ahead of the handler.
	executions := api.Group("/executions")
	executions.POST("", executionHandler.Create)
	executions.GET("/:id", executionHandler.Get)
	executions.GET("/:id/events", executionHandler.ListEvents)
	executions.GET("/:id/state", executionHandler.GetState)
	executions.POST("/:id/debug/:action", executionHandler.Debug)

	return e
}

// newRateLimiter builds a Redis-backed rate limiter when Redis is configured
// (spec §13.4); control planes run without Redis skip rate limiting entirely
// rather than fail open on every request through a broken client.
func newRateLimiter(cfg *config.Config, log *logger.Logger) *ratelimit.RateLimiter {
	if cfg == nil || !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	return ratelimit.NewRateLimiter(client, log)
}
