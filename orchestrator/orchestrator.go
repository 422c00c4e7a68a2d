// Package orchestrator drives a scrape from request to result: cache
// lookup, fetching under the retry policy, extraction, cache write and,
// for webhook requests, asynchronous delivery.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/use-agent/scrapeflow/cache"
	"github.com/use-agent/scrapeflow/engine"
	"github.com/use-agent/scrapeflow/extract"
	"github.com/use-agent/scrapeflow/metrics"
	"github.com/use-agent/scrapeflow/models"
	"github.com/use-agent/scrapeflow/profile"
	"github.com/use-agent/scrapeflow/retry"
	"github.com/use-agent/scrapeflow/webhook"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultCacheTTL      = 60 * time.Second
	DefaultMaxConcurrent = 16
)

var (
	// ErrNoWebhook is returned by ScrapeAsync for requests without a webhook.
	ErrNoWebhook = errors.New("request has no webhook")

	// ErrClosed is returned by ScrapeAsync after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// Notifier hands finished tasks to the delivery workers.
type Notifier interface {
	Enqueue(job *webhook.Job) error
	QueueDepth() int
}

// Options configures an Orchestrator.
type Options struct {
	// Policy is the fetch retry policy. Default: retry.Default().
	Policy retry.Policy

	// CacheTTL applies to requests that do not set cache_ttl.
	CacheTTL time.Duration

	// MaxConcurrent bounds asynchronous scrapes running at once.
	MaxConcurrent int

	TaskRetention      time.Duration
	CacheSweepInterval time.Duration
	TaskSweepInterval  time.Duration
}

// Orchestrator owns the cache, the task registry and the background
// janitors. It is safe for concurrent use.
type Orchestrator struct {
	fetcher   engine.Fetcher
	extractor *extract.Extractor
	cache     cache.Store
	notifier  Notifier
	tasks     *TaskRegistry

	policy   retry.Policy
	cacheTTL time.Duration
	sem      chan struct{}
	flight   singleflight.Group

	janitors []*cache.Janitor

	// ctx is cancelled by Close to stop in-flight asynchronous scrapes.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates an Orchestrator. notifier may be nil when webhooks are not
// used; ScrapeAsync then still records the outcome on the task.
func New(fetcher engine.Fetcher, extractor *extract.Extractor, store cache.Store, notifier Notifier, opts Options) *Orchestrator {
	if opts.Policy.Initial == 0 && opts.Policy.Multiplier == 0 && opts.Policy.Max == 0 {
		p := retry.Default()
		p.Sleep = opts.Policy.Sleep
		p.Classify = opts.Policy.Classify
		p.OnRetry = opts.Policy.OnRetry
		opts.Policy = p
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	o := &Orchestrator{
		fetcher:   fetcher,
		extractor: extractor,
		cache:     store,
		notifier:  notifier,
		tasks:     NewTaskRegistry(opts.TaskRetention),
		policy:    opts.Policy,
		cacheTTL:  opts.CacheTTL,
		sem:       make(chan struct{}, opts.MaxConcurrent),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.janitors = []*cache.Janitor{
		cache.NewJanitor("cache", store, opts.CacheSweepInterval),
		cache.NewJanitor("tasks", o.tasks, opts.TaskSweepInterval),
	}
	return o
}

// Start launches the cache and task janitors.
func (o *Orchestrator) Start() {
	for _, j := range o.janitors {
		j.Start()
	}
}

// Close stops accepting asynchronous work, cancels in-flight scrapes,
// waits for them and stops the janitors. The cache itself is closed by
// its owner.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	for _, j := range o.janitors {
		j.Stop()
	}
}

// Scrape serves req synchronously. It never returns nil: failures come
// back as a result with Success=false and a coded error.
func (o *Orchestrator) Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult {
	req = req.Clone()
	req.Defaults()
	if err := req.Validate(); err != nil {
		return models.FailedResult(req.URL, req.Tier, 0, models.DetailFromError(err))
	}

	key := cache.Key(req)
	if res, ok := o.lookup(ctx, key); ok {
		return res
	}

	// Concurrent identical requests share one fetch.
	v, _, shared := o.flight.Do(key, func() (any, error) {
		return o.run(ctx, req, key), nil
	})
	res := v.(*models.ScrapeResult)
	if shared {
		slog.Debug("scrape shared with concurrent request", "url", req.URL, "key", key)
	}
	return res
}

// ScrapeAsync accepts a webhook request and returns its task id at once.
// The scrape runs on its own goroutine and the outcome is delivered to
// the webhook.
func (o *Orchestrator) ScrapeAsync(req *models.ScrapeRequest) (string, error) {
	req = req.Clone()
	req.Defaults()
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.Webhook == "" {
		return "", models.NewValidationError("webhook", ErrNoWebhook.Error())
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return "", ErrClosed
	}

	task := o.tasks.Create(req)
	metrics.ActiveTasks.Inc()
	o.wg.Add(1)
	go o.runTask(task.ID, req)

	slog.Info("async scrape accepted", "task_id", task.ID, "url", req.URL, "webhook", req.Webhook)
	return task.ID, nil
}

// GetTask returns a snapshot of the task with id.
func (o *Orchestrator) GetTask(id string) (*models.Task, bool) {
	return o.tasks.Get(id)
}

// Stats is a point-in-time view for health reporting.
type Stats struct {
	CacheSize   int
	ActiveTasks int
	QueueDepth  int
}

// Stats reports cache size (when the store can count), active tasks and
// the webhook queue depth.
func (o *Orchestrator) Stats() Stats {
	s := Stats{ActiveTasks: o.tasks.Active(), CacheSize: -1}
	if l, ok := o.cache.(interface{ Len() int }); ok {
		s.CacheSize = l.Len()
	}
	if o.notifier != nil {
		s.QueueDepth = o.notifier.QueueDepth()
	}
	return s
}

func (o *Orchestrator) lookup(ctx context.Context, key string) (*models.ScrapeResult, bool) {
	res, ok := o.cache.Get(ctx, key)
	if !ok {
		metrics.CacheLookups.WithLabelValues(models.CacheMiss).Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues(models.CacheHit).Inc()
	slog.Debug("cache hit", "key", key, "url", res.URL)
	return res.WithCacheStatus(models.CacheHit), true
}

// run fetches and extracts under the retry policy, then caches. req must be
// defaulted and valid.
func (o *Orchestrator) run(ctx context.Context, req *models.ScrapeRequest, key string) *models.ScrapeResult {
	start := time.Now()
	p := profile.Resolve(req.Tier).Effective(req)
	tier := string(req.Tier)

	policy := o.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		slog.Warn("fetch attempt failed, retrying",
			"url", req.URL, "attempt", attempt, "wait", wait, "error", err,
		)
		if o.policy.OnRetry != nil {
			o.policy.OnRetry(attempt, err, wait)
		}
	}

	// Fetch and extraction form one retryable unit. Extraction reports
	// failures per category, so only the fetch can fail an attempt.
	type outcome struct {
		page *engine.FetchResult
		data map[models.Category]models.CategoryResult
	}
	attempts := 0
	out, err := retry.Execute(ctx, policy, req.Retries(), func(ctx context.Context, attempt int) (outcome, error) {
		attempts = attempt
		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		fr, err := o.fetcher.Fetch(actx, engine.NewFetchRequest(req.URL, p))
		cancel()
		metrics.FetchAttempts.WithLabelValues(tier, fetchOutcome(err)).Inc()
		if err != nil {
			return outcome{}, err
		}
		return outcome{page: fr, data: o.extractor.Extract(ctx, fr, req, p)}, nil
	})
	if err != nil {
		detail := failureDetail(err)
		res := models.FailedResult(req.URL, req.Tier, attempts, detail)
		res.Provenance.DurationMs = time.Since(start).Milliseconds()
		metrics.ScrapeDuration.WithLabelValues(tier, "failed").Observe(time.Since(start).Seconds())
		slog.Error("scrape failed",
			"url", req.URL, "tier", req.Tier, "attempts", attempts,
			"code", detail.Code, "error", err,
		)
		return res
	}

	page, data := out.page, out.data
	for c, r := range data {
		if r.Failed() {
			metrics.CategoryFailures.WithLabelValues(string(c), r.Error.Code).Inc()
		}
	}

	res := &models.ScrapeResult{
		Success: true,
		URL:     req.URL,
		Data:    data,
		Provenance: models.Provenance{
			Engine:     page.EngineName,
			Tier:       req.Tier,
			Attempts:   attempts,
			FinalURL:   page.FinalURL,
			StatusCode: page.StatusCode,
			DurationMs: time.Since(start).Milliseconds(),
		},
		CompletedAt: time.Now(),
	}

	ttl := o.cacheTTL
	if req.CacheTTL > 0 {
		ttl = time.Duration(req.CacheTTL) * time.Second
	}
	if err := o.cache.Put(ctx, key, res, ttl); err != nil {
		slog.Warn("cache write failed", "key", key, "url", req.URL, "error", err)
	}

	metrics.ScrapeDuration.WithLabelValues(tier, "succeeded").Observe(time.Since(start).Seconds())
	slog.Info("scrape completed",
		"url", req.URL, "tier", req.Tier, "engine", page.EngineName,
		"attempts", attempts, "categories", len(data),
		"duration_ms", res.Provenance.DurationMs,
	)
	return res.WithCacheStatus(models.CacheMiss)
}

// runTask executes one asynchronous scrape and hands the outcome to the
// webhook dispatcher.
func (o *Orchestrator) runTask(id string, req *models.ScrapeRequest) {
	defer o.wg.Done()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-o.ctx.Done():
		o.finishTask(id, nil, models.NewScrapeError(models.ErrCodeInternal, "shutting down", o.ctx.Err()).ToDetail(), 0)
		return
	}

	o.tasks.Update(id, func(t *models.Task) { t.Status = models.TaskRunning })

	key := cache.Key(req)
	res, ok := o.lookup(o.ctx, key)
	if !ok {
		res = o.run(o.ctx, req, key)
	}
	o.tasks.Update(id, func(t *models.Task) {
		t.Result = res
		t.Error = res.Error
	})

	if o.notifier == nil {
		o.finishTask(id, res, res.Error, 0)
		return
	}

	job := &webhook.Job{
		TaskID: id,
		URL:    req.Webhook,
		Secret: req.WebhookSecret,
		Event:  webhook.NewEvent(id, res),
		Done: func(attempts int, err error) {
			var detail *models.ErrorDetail
			if err != nil {
				detail = models.NewScrapeError(models.ErrCodeDelivery, err.Error(), err).ToDetail()
				detail.Attempts = attempts
			} else {
				detail = res.Error
			}
			o.finishTask(id, res, detail, attempts)
		},
	}
	if err := o.notifier.Enqueue(job); err != nil {
		slog.Error("webhook enqueue failed", "task_id", id, "url", req.Webhook, "error", err)
		o.finishTask(id, res, models.NewScrapeError(models.ErrCodeDelivery, err.Error(), err).ToDetail(), 0)
	}
}

// finishTask moves a task to its terminal state. A delivered scrape
// failure is still a failed task.
func (o *Orchestrator) finishTask(id string, res *models.ScrapeResult, detail *models.ErrorDetail, deliveryAttempts int) {
	status := models.TaskSucceeded
	if detail != nil || res == nil || !res.Success {
		status = models.TaskFailed
	}
	if o.tasks.Update(id, func(t *models.Task) {
		t.Status = status
		t.Error = detail
		t.DeliveryAttempts = deliveryAttempts
	}) {
		metrics.ActiveTasks.Dec()
		slog.Info("task finished", "task_id", id, "status", status, "delivery_attempts", deliveryAttempts)
	}
}

// failureDetail maps the terminal fetch error to an ErrorDetail.
func failureDetail(err error) *models.ErrorDetail {
	var fe *engine.FetchError
	switch {
	case errors.As(err, &fe) && fe.Timeout():
		return &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: fe.Error()}
	case errors.As(err, &fe) && fe.Permanent() && fe.StatusCode == 0:
		return &models.ErrorDetail{Code: models.ErrCodeNavigation, Message: fe.Error()}
	case errors.As(err, &fe) && fe.Permanent():
		return &models.ErrorDetail{Code: models.ErrCodePermanentFetch, Message: fe.Error()}
	case errors.As(err, &fe):
		return &models.ErrorDetail{Code: models.ErrCodeTransientFetch, Message: fe.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: err.Error()}
	}

	var ve *models.ValidationError
	var se *models.ScrapeError
	if errors.As(err, &ve) || errors.As(err, &se) {
		return models.DetailFromError(err)
	}
	if retry.Retryable(err) {
		return &models.ErrorDetail{Code: models.ErrCodeTransientFetch, Message: err.Error()}
	}
	return &models.ErrorDetail{Code: models.ErrCodePermanentFetch, Message: err.Error()}
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case retry.Retryable(err):
		return "transient"
	default:
		return "permanent"
	}
}
