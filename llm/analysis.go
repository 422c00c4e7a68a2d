// Package llm implements the AI analyzers behind the ai_extraction
// category: an OpenAI-compatible chat client and an Anthropic client.
package llm

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"github.com/use-agent/scrapeflow/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxInputChars caps the page text sent to a model.
const DefaultMaxInputChars = 48000

// analysis is the JSON object the model is asked to return.
type analysis struct {
	Entities  []models.Entity   `json:"entities"`
	Sentiment *models.Sentiment `json:"sentiment"`
	Keywords  []string          `json:"keywords"`
	Summary   string            `json:"summary"`
	Custom    any               `json:"custom"`
}

// buildSystemPrompt describes the JSON object to return, listing only the
// outputs cfg asks for.
func buildSystemPrompt(cfg *models.AIExtractionConfig) string {
	var fields []string
	if cfg.Entities {
		fields = append(fields, `- "entities": array of {"text": string, "type": one of PERSON, ORGANIZATION, LOCATION, PRODUCT, EVENT, OTHER}`)
	}
	if cfg.Sentiment {
		fields = append(fields, `- "sentiment": {"label": "positive" | "neutral" | "negative", "score": number from -1 to 1}`)
	}
	if cfg.Keywords {
		fields = append(fields, `- "keywords": array of up to 10 short keyword strings, most relevant first`)
	}
	if cfg.Summary {
		fields = append(fields, `- "summary": string of at most 3 sentences`)
	}
	if p := strings.TrimSpace(cfg.CustomPrompt); p != "" {
		fields = append(fields, fmt.Sprintf(`- "custom": any JSON value answering this instruction: %s`, p))
	}

	return fmt.Sprintf(`You are a web page analysis assistant. Analyze the provided page content and return a single JSON object with these fields:

%s

Rules:
- Return ONLY valid JSON, no markdown fences or explanation.
- Omit nothing from the list above; use an empty value when the content has no answer.
- Base every answer on the content only.`, strings.Join(fields, "\n"))
}

// parseAnalysis decodes the model output and keeps only the outputs cfg
// asked for.
func parseAnalysis(raw string, cfg *models.AIExtractionConfig) (*models.AIResult, error) {
	raw = stripFences(raw)

	var a analysis
	if err := json.UnmarshalFromString(raw, &a); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned invalid JSON", err)
	}

	res := &models.AIResult{}
	if cfg.Entities {
		res.Entities = a.Entities
		if res.Entities == nil {
			res.Entities = []models.Entity{}
		}
	}
	if cfg.Sentiment {
		res.Sentiment = a.Sentiment
	}
	if cfg.Keywords {
		res.Keywords = a.Keywords
		if res.Keywords == nil {
			res.Keywords = []string{}
		}
	}
	if cfg.Summary {
		res.Summary = strings.TrimSpace(a.Summary)
	}
	if strings.TrimSpace(cfg.CustomPrompt) != "" {
		res.Custom = a.Custom
	}
	return res, nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite
// being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// truncate cuts text to at most n runes.
func truncate(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

// classifyStatus maps a provider HTTP status to a coded error.
func classifyStatus(statusCode int, msg string) *models.ScrapeError {
	if msg == "" {
		msg = "LLM API error"
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeLLMAuthFailure, msg, nil)
	case http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeLLMRateLimited, msg, nil)
	default:
		return models.NewScrapeError(models.ErrCodeLLMFailure, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
