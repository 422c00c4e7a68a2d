package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/scrapeflow/models"
)

// DefaultTaskRetention is how long terminal tasks stay queryable.
const DefaultTaskRetention = time.Hour

// TaskRegistry holds asynchronous tasks until they are swept. Reads return
// copies so callers never observe a task mid-update.
type TaskRegistry struct {
	mu        sync.RWMutex
	tasks     map[string]*models.Task
	retention time.Duration
	now       func() time.Time
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry(retention time.Duration) *TaskRegistry {
	if retention <= 0 {
		retention = DefaultTaskRetention
	}
	return &TaskRegistry{
		tasks:     make(map[string]*models.Task),
		retention: retention,
		now:       time.Now,
	}
}

// Create registers a pending task for req and returns a copy of it. The
// stored request has its webhook secret cleared since tasks are served
// back to clients; the secret travels only on the delivery job.
func (r *TaskRegistry) Create(req *models.ScrapeRequest) *models.Task {
	stored := req.Clone()
	stored.WebhookSecret = ""

	now := r.now()
	t := &models.Task{
		ID:        uuid.NewString(),
		Request:   stored,
		Status:    models.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	c := *t
	return &c
}

// Get returns a copy of the task with id.
func (r *TaskRegistry) Get(id string) (*models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	c := *t
	return &c, true
}

// Update applies fn to the task with id. Terminal tasks are never changed;
// Update reports whether fn ran.
func (r *TaskRegistry) Update(id string, fn func(t *models.Task)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status.Terminal() {
		return false
	}
	fn(t)
	t.UpdatedAt = r.now()
	return true
}

// Sweep removes terminal tasks older than the retention window and returns
// how many were removed.
func (r *TaskRegistry) Sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.tasks {
		if t.Status.Terminal() && !t.UpdatedAt.After(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Active returns the number of tasks not yet terminal.
func (r *TaskRegistry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// Len returns the number of tasks held.
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
