package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/use-agent/scrapeflow/models"
)

const (
	defaultAnthropicModel     = "claude-haiku-4-5-20251001"
	defaultAnthropicMaxTokens = 1024
)

// Anthropic analyzes page text through the Anthropic Messages API.
type Anthropic struct {
	client        sdk.Client
	model         string
	maxTokens     int64
	maxInputChars int
}

// NewAnthropic creates an analyzer backed by the official SDK. Extra
// request options are appended after the ones derived from opts.
func NewAnthropic(opts Options, extra ...option.RequestOption) *Anthropic {
	if opts.Model == "" {
		opts.Model = defaultAnthropicModel
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultAnthropicMaxTokens
	}
	if opts.MaxInputChars == 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, extra...)

	return &Anthropic{
		client:        sdk.NewClient(reqOpts...),
		model:         opts.Model,
		maxTokens:     int64(opts.MaxTokens),
		maxInputChars: opts.MaxInputChars,
	}
}

// Analyze sends text with the analysis prompt and decodes the requested
// outputs from the first text block of the reply.
func (a *Anthropic) Analyze(ctx context.Context, text string, cfg *models.AIExtractionConfig) (*models.AIResult, error) {
	if cfg.IsEmpty() {
		return &models.AIResult{}, nil
	}

	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: sdk.Float(0),
		System:      []sdk.TextBlockParam{{Text: buildSystemPrompt(cfg)}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(truncate(text, a.maxInputChars))),
		},
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			se := classifyStatus(apiErr.StatusCode, "anthropic: "+strings.ToLower(http.StatusText(apiErr.StatusCode)))
			se.Err = err
			return nil, se
		}
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned no text", nil)
	}

	res, err := parseAnalysis(out.String(), cfg)
	if err != nil {
		return nil, err
	}
	res.Model = string(msg.Model)
	res.Usage = &models.LLMUsage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return res, nil
}
