package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/scrapeflow/api/handler"
	"github.com/use-agent/scrapeflow/api/middleware"
	"github.com/use-agent/scrapeflow/config"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Service   handler.Service
	Pool      handler.PagePool // nil when no browser engine is enabled
	Engines   []string
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Observe
//	API:     Auth (if enabled) → RateLimit
//
// Health and /metrics sit outside auth so probes and scrapers always work.
// ctx bounds the rate limiter's background sweep.
func NewRouter(ctx context.Context, deps Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Observe())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(deps.Service, deps.Pool, deps.Engines, deps.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/scrape", handler.Scrape(deps.Service))
	protected.POST("/scrape/simple", handler.ScrapeSimple(deps.Service))
	protected.POST("/scrape/fast", handler.ScrapeFast(deps.Service))
	protected.GET("/tasks/:id", handler.GetTask(deps.Service))

	return r
}
