package models

// AsyncResponse is returned when a scrape request declares a webhook.
type AsyncResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Webhook string `json:"webhook"`
}

// TaskResponse is the response for GET /api/v1/tasks/:id.
type TaskResponse struct {
	Success bool  `json:"success"`
	Task    *Task `json:"task"`
}

// ErrorResponse wraps an ErrorDetail for non-scrape failures.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string   `json:"status"` // "healthy" or "degraded"
	Uptime      string   `json:"uptime"`
	CacheSize   int      `json:"cache_size"`
	ActiveTasks int      `json:"active_tasks"`
	QueueDepth  int      `json:"queue_depth"`
	Engines     []string `json:"engines"`
	Version     string   `json:"version"`
}
