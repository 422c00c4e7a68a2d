package llm

import (
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/use-agent/scrapeflow/config"
	"github.com/use-agent/scrapeflow/extract"
)

// New builds the analyzer selected by cfg.Provider. An empty provider
// disables AI extraction and returns a nil analyzer.
func New(cfg config.AIConfig) (extract.Analyzer, error) {
	opts := Options{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		MaxInputChars: cfg.MaxInputChars,
	}

	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		return NewOpenAI(opts, &http.Client{Timeout: cfg.Timeout}), nil
	case "anthropic":
		var extra []option.RequestOption
		if cfg.Timeout > 0 {
			extra = append(extra, option.WithRequestTimeout(cfg.Timeout))
		}
		return NewAnthropic(opts, extra...), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
