package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/scrapeflow/models"
)

func TestTaskRegistry_Lifecycle(t *testing.T) {
	r := NewTaskRegistry(time.Hour)
	task := r.Create(&models.ScrapeRequest{URL: "https://example.com/"})

	require.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, 1, r.Active())

	require.True(t, r.Update(task.ID, func(t *models.Task) { t.Status = models.TaskRunning }))
	require.True(t, r.Update(task.ID, func(t *models.Task) { t.Status = models.TaskSucceeded }))

	// Terminal tasks are not resurrected.
	assert.False(t, r.Update(task.ID, func(t *models.Task) { t.Status = models.TaskRunning }))
	got, ok := r.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskSucceeded, got.Status)
	assert.Zero(t, r.Active())
}

func TestTaskRegistry_GetReturnsCopy(t *testing.T) {
	r := NewTaskRegistry(time.Hour)
	task := r.Create(&models.ScrapeRequest{URL: "https://example.com/"})

	got, _ := r.Get(task.ID)
	got.Status = models.TaskFailed

	again, _ := r.Get(task.ID)
	assert.Equal(t, models.TaskPending, again.Status)
}

func TestTaskRegistry_DropsWebhookSecret(t *testing.T) {
	r := NewTaskRegistry(time.Hour)
	req := &models.ScrapeRequest{
		URL:           "https://example.com/",
		Webhook:       "https://hooks.example.com/x",
		WebhookSecret: "s3cret",
	}
	task := r.Create(req)

	got, ok := r.Get(task.ID)
	require.True(t, ok)
	require.NotNil(t, got.Request)
	assert.Empty(t, got.Request.WebhookSecret)
	assert.Equal(t, "https://hooks.example.com/x", got.Request.Webhook)

	// The caller's request keeps its secret for signing.
	assert.Equal(t, "s3cret", req.WebhookSecret)
}

func TestTaskRegistry_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewTaskRegistry(time.Hour)
	r.now = func() time.Time { return now }

	done := r.Create(&models.ScrapeRequest{URL: "https://example.com/a"})
	r.Update(done.ID, func(t *models.Task) { t.Status = models.TaskFailed })
	pending := r.Create(&models.ScrapeRequest{URL: "https://example.com/b"})

	now = now.Add(59 * time.Minute)
	assert.Zero(t, r.Sweep())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Sweep())

	_, ok := r.Get(done.ID)
	assert.False(t, ok)
	_, ok = r.Get(pending.ID)
	assert.True(t, ok, "non-terminal tasks are kept")
}

func TestTaskRegistry_UnknownID(t *testing.T) {
	r := NewTaskRegistry(0)

	_, ok := r.Get("missing")
	assert.False(t, ok)
	assert.False(t, r.Update("missing", func(*models.Task) {}))
}
