package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/scrapeflow/models"
)

// GetTask returns a handler for GET /api/v1/tasks/:id.
func GetTask(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		task, ok := svc.GetTask(id)
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "task not found: " + id,
				},
			})
			return
		}
		c.JSON(http.StatusOK, models.TaskResponse{Success: true, Task: task})
	}
}
