package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/scrapeflow/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// queueBacklog is the webhook queue depth above which the service reports
// itself degraded.
const queueBacklog = 100

// PagePool reports browser page pool utilisation.
type PagePool interface {
	ActivePages() int
	MaxPages() int
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when more than 80% of browser pages are busy or the
// webhook queue is backing up. pool may be nil when no browser runs.
func Health(svc Service, pool PagePool, engines []string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := svc.Stats()

		status := "healthy"
		if pool != nil && pool.MaxPages() > 0 && pool.ActivePages() > int(float64(pool.MaxPages())*0.8) {
			status = "degraded"
		}
		if stats.QueueDepth > queueBacklog {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			CacheSize:   stats.CacheSize,
			ActiveTasks: stats.ActiveTasks,
			QueueDepth:  stats.QueueDepth,
			Engines:     engines,
			Version:     Version,
		})
	}
}
