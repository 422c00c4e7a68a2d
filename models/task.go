package models

import "time"

// TaskStatus is the lifecycle state of an asynchronous scrape.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Task tracks one webhook-bound scrape from acceptance to delivery.
type Task struct {
	ID               string         `json:"id"`
	Request          *ScrapeRequest `json:"request"`
	Status           TaskStatus     `json:"status"`
	Result           *ScrapeResult  `json:"result,omitempty"`
	Error            *ErrorDetail   `json:"error,omitempty"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
