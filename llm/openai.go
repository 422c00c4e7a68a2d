package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/use-agent/scrapeflow/models"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI analyzes page text through any OpenAI-compatible chat
// completions endpoint.
type OpenAI struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	maxTokens     int
	maxInputChars int
}

// Options configures an analyzer.
type Options struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	MaxInputChars int
}

// NewOpenAI creates an OpenAI-compatible analyzer. Pass a nil httpClient
// to use a default client.
func NewOpenAI(opts Options, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOpenAIBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultOpenAIModel
	}
	if opts.MaxInputChars == 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	return &OpenAI{
		httpClient:    httpClient,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:        opts.APIKey,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		maxInputChars: opts.MaxInputChars,
	}
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal OpenAI chat completion response we need.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatErrorResponse captures an API error from the provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Analyze sends text with a JSON-mode prompt and decodes the requested
// outputs.
func (c *OpenAI) Analyze(ctx context.Context, text string, cfg *models.AIExtractionConfig) (*models.AIResult, error) {
	if cfg.IsEmpty() {
		return &models.AIResult{}, nil
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(cfg)},
			{Role: "user", Content: truncate(text, c.maxInputChars)},
		},
		Temperature:    0,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to read LLM response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp chatErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return nil, classifyStatus(resp.StatusCode, errResp.Error.Message)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to parse LLM response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned no choices", nil)
	}

	res, err := parseAnalysis(chatResp.Choices[0].Message.Content, cfg)
	if err != nil {
		return nil, err
	}
	res.Model = chatResp.Model
	if res.Model == "" {
		res.Model = c.model
	}
	res.Usage = &models.LLMUsage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}
	return res, nil
}
