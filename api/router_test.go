package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/scrapeflow/cache"
	"github.com/use-agent/scrapeflow/config"
	"github.com/use-agent/scrapeflow/engine"
	"github.com/use-agent/scrapeflow/extract"
	"github.com/use-agent/scrapeflow/models"
	"github.com/use-agent/scrapeflow/orchestrator"
)

const testKey = "test-key"

type fakeService struct {
	mu       sync.Mutex
	requests []*models.ScrapeRequest
	result   *models.ScrapeResult
	asyncErr error
	tasks    map[string]*models.Task
	stats    orchestrator.Stats
}

func (f *fakeService) Scrape(_ context.Context, req *models.ScrapeRequest) *models.ScrapeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.result != nil {
		return f.result
	}
	return &models.ScrapeResult{
		Success: true,
		URL:     req.URL,
		Data: map[models.Category]models.CategoryResult{
			models.CategoryText: {Text: &models.TextContent{Title: "Example"}},
		},
		Provenance: models.Provenance{Tier: req.Tier, Attempts: 1, CacheStatus: models.CacheMiss},
	}
}

func (f *fakeService) ScrapeAsync(req *models.ScrapeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.asyncErr != nil {
		return "", f.asyncErr
	}
	return "task-1", nil
}

func (f *fakeService) GetTask(id string) (*models.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeService) Stats() orchestrator.Stats { return f.stats }

func (f *fakeService) last() *models.ScrapeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{testKey}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
}

func newTestRouter(t *testing.T, svc *fakeService, cfg *config.Config) *gin.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, Deps{
		Service:   svc,
		Engines:   []string{"http", "rod"},
		StartTime: time.Now(),
	}, cfg)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestScrape_Sync(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodPost, "/api/v1/scrape", `{"url":"https://example.com","extract_text":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.ScrapeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "Example", res.Data[models.CategoryText].Text.Title)

	req := svc.last()
	require.NotNil(t, req)
	assert.True(t, req.ExtractText)
}

func TestScrape_WebhookIsAccepted(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodPost, "/api/v1/scrape", `{"url":"https://example.com","webhook":"https://hooks.example.com/x"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var res models.AsyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "task-1", res.TaskID)
	assert.Equal(t, string(models.TaskPending), res.Status)
	assert.Equal(t, "https://hooks.example.com/x", res.Webhook)
}

func TestScrape_AsyncClosed(t *testing.T) {
	svc := &fakeService{asyncErr: orchestrator.ErrClosed}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodPost, "/api/v1/scrape", `{"url":"https://example.com","webhook":"https://hooks.example.com/x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestScrape_Validation(t *testing.T) {
	r := newTestRouter(t, &fakeService{}, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{}`},
		{"bad scheme", `{"url":"ftp://example.com"}`},
		{"relative", `{"url":"/just/a/path"}`},
		{"bad tier", `{"url":"https://example.com","tier":"turbo"}`},
		{"negative retries", `{"url":"https://example.com","max_retries":-1}`},
		{"malformed json", `{"url":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/scrape", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var res models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.Equal(t, models.ErrCodeInvalidInput, res.Error.Code)
		})
	}
}

func TestScrape_FailureStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{models.ErrCodeTimeout, http.StatusGatewayTimeout},
		{models.ErrCodePermanentFetch, http.StatusBadGateway},
		{models.ErrCodeTransientFetch, http.StatusBadGateway},
		{models.ErrCodeNavigation, http.StatusBadGateway},
		{models.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &fakeService{
				result: models.FailedResult("https://example.com", models.TierAdvanced, 4,
					&models.ErrorDetail{Code: tt.code, Message: "boom"}),
			}
			r := newTestRouter(t, svc, testConfig())

			w := do(r, http.MethodPost, "/api/v1/scrape", `{"url":"https://example.com"}`)
			require.Equal(t, tt.status, w.Code)

			var res models.ScrapeResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.False(t, res.Success)
			assert.Equal(t, 4, res.Error.Attempts)
		})
	}
}

func TestScrapeSimple_ExpandsCategories(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodPost, "/api/v1/scrape/simple", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := svc.last()
	require.NotNil(t, req)
	assert.Equal(t, models.TierSimple, req.Tier)
	assert.True(t, req.ExtractLinks)
	assert.True(t, req.ExtractImages)
	assert.True(t, req.ExtractText)
	assert.True(t, req.ExtractStructuredData)
}

func TestScrapeFast_NoRetries(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodPost, "/api/v1/scrape/fast", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := svc.last()
	require.NotNil(t, req)
	assert.Equal(t, models.TierFast, req.Tier)
	assert.Equal(t, 0, req.Retries())
	assert.True(t, req.ExtractText)
}

func TestGetTask(t *testing.T) {
	svc := &fakeService{tasks: map[string]*models.Task{
		"t1": {ID: "t1", Status: models.TaskSucceeded, DeliveryAttempts: 2},
	}}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodGet, "/api/v1/tasks/t1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res models.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.TaskSucceeded, res.Task.Status)
	assert.Equal(t, 2, res.Task.DeliveryAttempts)

	w = do(r, http.MethodGet, "/api/v1/tasks/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	var er models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &er))
	assert.Equal(t, models.ErrCodeNotFound, er.Error.Code)
}

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	return &engine.FetchResult{
		HTML:       "<html><head><title>Example</title></head><body><p>Hello there.</p></body></html>",
		StatusCode: http.StatusOK,
		FinalURL:   req.URL,
		EngineName: "static",
	}, nil
}

func TestGetTask_OmitsWebhookSecret(t *testing.T) {
	orch := orchestrator.New(staticFetcher{}, extract.New(nil, 0), cache.NewMemory(10), nil, orchestrator.Options{})
	t.Cleanup(orch.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := NewRouter(ctx, Deps{Service: orch, Engines: []string{"static"}, StartTime: time.Now()}, testConfig())

	w := do(r, http.MethodPost, "/api/v1/scrape",
		`{"url":"https://example.com","webhook":"https://hooks.example.com/x","webhook_secret":"do-not-echo"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "do-not-echo")

	var accepted models.AsyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.TaskID)

	w = do(r, http.MethodGet, "/api/v1/tasks/"+accepted.TaskID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "do-not-echo")
	assert.NotContains(t, w.Body.String(), "webhook_secret")

	var res models.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Task)
	require.NotNil(t, res.Task.Request)
	assert.Equal(t, "https://hooks.example.com/x", res.Task.Request.Webhook)
}

func TestHealth(t *testing.T) {
	svc := &fakeService{stats: orchestrator.Stats{CacheSize: 3, ActiveTasks: 1, QueueDepth: 0}}
	r := newTestRouter(t, svc, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "healthy", res.Status)
	assert.Equal(t, 3, res.CacheSize)
	assert.Equal(t, 1, res.ActiveTasks)
	assert.Equal(t, []string{"http", "rod"}, res.Engines)
}

func TestHealth_DegradedOnBacklog(t *testing.T) {
	svc := &fakeService{stats: orchestrator.Stats{QueueDepth: 500}}
	r := newTestRouter(t, svc, testConfig())

	w := do(r, http.MethodGet, "/api/v1/health", "")
	var res models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "degraded", res.Status)
}

func TestAuth(t *testing.T) {
	r := newTestRouter(t, &fakeService{}, testConfig())
	body := `{"url":"https://example.com"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/scrape", strings.NewReader(body))
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/scrape", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	r := newTestRouter(t, &fakeService{}, cfg)

	body := `{"url":"https://example.com"}`
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/scrape", body).Code)

	w := do(r, http.MethodPost, "/api/v1/scrape", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var res models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.ErrCodeRateLimited, res.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, &fakeService{}, testConfig())
	do(r, http.MethodGet, "/api/v1/health", "")

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scrapeflow_http_requests_total")
}
