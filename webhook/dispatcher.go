package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/use-agent/scrapeflow/metrics"
	"github.com/use-agent/scrapeflow/retry"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("webhook: queue full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("webhook: dispatcher closed")
)

// Job is one event bound for one endpoint.
type Job struct {
	TaskID string
	URL    string
	Secret string
	Event  *Event

	// Done is called once with the number of attempts made and the final
	// delivery error (nil when delivered).
	Done func(attempts int, err error)
}

// Options configures a Dispatcher. Zero values take the defaults noted.
type Options struct {
	Workers     int           // default: 4
	QueueSize   int           // default: 256
	MaxAttempts int           // default: 3
	Timeout     time.Duration // per attempt; default: 10s

	// Policy is the backoff between attempts. Default: 1s, 5s ... capped
	// at 30s.
	Policy retry.Policy

	// Client overrides the HTTP client used for delivery.
	Client *http.Client
}

// DefaultPolicy is the delivery backoff: 1s, 5s, 25s, capped at 30s.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		Initial:    time.Second,
		Multiplier: 5,
		Max:        30 * time.Second,
	}
}

// Dispatcher drains a buffered queue of jobs with a fixed worker pool.
type Dispatcher struct {
	client      *http.Client
	policy      retry.Policy
	maxAttempts int
	timeout     time.Duration
	workers     int

	queue chan *Job

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

// NewDispatcher creates a Dispatcher. Call Start to launch the workers.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Policy.Initial == 0 && opts.Policy.Multiplier == 0 && opts.Policy.Max == 0 {
		p := DefaultPolicy()
		p.Sleep = opts.Policy.Sleep
		p.Classify = opts.Policy.Classify
		p.OnRetry = opts.Policy.OnRetry
		opts.Policy = p
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:      opts.Client,
		policy:      opts.Policy,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		workers:     opts.Workers,
		queue:       make(chan *Job, opts.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker pool. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.start.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		slog.Info("webhook dispatcher started", "workers", d.workers, "queue", cap(d.queue))
	})
}

// Enqueue hands job to the worker pool without blocking.
func (d *Dispatcher) Enqueue(job *Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- job:
		metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Close stops accepting jobs and waits for the workers to finish. Jobs
// still queued are reported as failed without another attempt.
func (d *Dispatcher) Close() {
	d.cancel()
	_ = d.Shutdown(context.Background())
}

// Shutdown stops accepting jobs and lets the workers drain the queue
// until ctx is done. Deliveries still pending at that point are
// cancelled and reported as failed; Shutdown then returns ctx's error.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	var err error
	d.stop.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.Start()
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			slog.Warn("webhook drain interrupted, abandoning pending deliveries", "queued", len(d.queue))
			d.cancel()
			<-done
		}
		d.cancel()
		slog.Info("webhook dispatcher stopped")
	})
	return err
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
		d.process(job)
	}
}

// process delivers one job under the retry policy and reports the outcome.
func (d *Dispatcher) process(job *Job) {
	policy := d.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		slog.Warn("webhook delivery failed, retrying",
			"task_id", job.TaskID, "url", job.URL, "event", job.Event.Type,
			"attempt", attempt, "wait", wait, "error", err,
		)
		if d.policy.OnRetry != nil {
			d.policy.OnRetry(attempt, err, wait)
		}
	}

	attempts := 0
	_, err := retry.Execute(d.ctx, policy, d.maxAttempts-1, func(ctx context.Context, attempt int) (struct{}, error) {
		attempts = attempt
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return struct{}{}, d.Deliver(ctx, job.URL, job.Secret, job.Event)
	})

	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		slog.Error("webhook delivery exhausted retries",
			"task_id", job.TaskID, "url", job.URL, "event", job.Event.Type,
			"attempts", attempts, "error", err,
		)
	} else {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		slog.Info("webhook delivered",
			"task_id", job.TaskID, "url", job.URL, "event", job.Event.Type,
			"attempts", attempts,
		)
	}

	if job.Done != nil {
		job.Done(attempts, err)
	}
}
