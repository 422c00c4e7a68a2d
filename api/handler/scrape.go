package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/scrapeflow/models"
	"github.com/use-agent/scrapeflow/orchestrator"
)

// Service is the orchestration surface the handlers call.
type Service interface {
	Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult
	ScrapeAsync(req *models.ScrapeRequest) (string, error)
	GetTask(id string) (*models.Task, bool)
	Stats() orchestrator.Stats
}

// Scrape returns a handler for POST /api/v1/scrape.
//
// Requests with a webhook are accepted with 202 and a task id; the result
// is delivered to the webhook. All others are served inline.
func Scrape(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("body", err.Error()))
			return
		}
		serve(c, svc, &req)
	}
}

// ScrapeSimple returns a handler for POST /api/v1/scrape/simple: the
// simple tier with every generic category unless extract_all is false.
func ScrapeSimple(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SimpleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("body", err.Error()))
			return
		}
		serve(c, svc, req.ToScrapeRequest())
	}
}

// ScrapeFast returns a handler for POST /api/v1/scrape/fast: the fast
// tier with title and text only and no retries.
func ScrapeFast(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.FastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("body", err.Error()))
			return
		}
		serve(c, svc, req.ToScrapeRequest())
	}
}

func serve(c *gin.Context, svc Service, req *models.ScrapeRequest) {
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	if req.Webhook != "" {
		id, err := svc.ScrapeAsync(req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, models.AsyncResponse{
			Success: true,
			TaskID:  id,
			Status:  string(models.TaskPending),
			Webhook: req.Webhook,
		})
		return
	}

	res := svc.Scrape(c.Request.Context(), req)
	status := http.StatusOK
	if !res.Success && res.Error != nil {
		status = codeToStatus(res.Error.Code)
	}
	c.JSON(status, res)
}

// respondError writes a coded error response.
func respondError(c *gin.Context, err error) {
	detail := models.DetailFromError(err)
	status := codeToStatus(detail.Code)
	if errors.Is(err, orchestrator.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, models.ErrorResponse{Success: false, Error: detail})
}

// codeToStatus translates error codes to HTTP status codes.
func codeToStatus(code string) int {
	switch code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodePermanentFetch, models.ErrCodeTransientFetch:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	default:
		return http.StatusInternalServerError // 500
	}
}
