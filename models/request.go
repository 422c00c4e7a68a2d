package models

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultMaxRetries is used when a request does not set MaxRetries.
const DefaultMaxRetries = 3

// Tier names a canned speed/quality profile.
type Tier string

const (
	TierFast     Tier = "fast"
	TierSimple   Tier = "simple"
	TierAdvanced Tier = "advanced"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFast, TierSimple, TierAdvanced:
		return true
	}
	return false
}

// SelectorKind tells the extractor how to evaluate a Selector.
type SelectorKind string

const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
)

// Selector pulls named values out of the fetched page.
type Selector struct {
	// Name is the key under which matches are reported. Callers must keep
	// names unique; a later duplicate overwrites an earlier one.
	Name string `json:"name"`

	// Selector is the CSS or XPath expression.
	Selector string `json:"selector"`

	// Kind is "css" (default) or "xpath".
	Kind SelectorKind `json:"kind,omitempty"`

	// Attribute, when set, is read from each match instead of its text.
	Attribute string `json:"attribute,omitempty"`
}

// AIExtractionConfig toggles the AI-derived extraction outputs.
// Any subset may be active; an all-false config is a valid no-op.
type AIExtractionConfig struct {
	Entities     bool   `json:"extract_entities,omitempty"`
	Sentiment    bool   `json:"extract_sentiment,omitempty"`
	Keywords     bool   `json:"extract_keywords,omitempty"`
	Summary      bool   `json:"extract_summary,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// IsEmpty reports whether the config asks for nothing.
func (c *AIExtractionConfig) IsEmpty() bool {
	if c == nil {
		return true
	}
	return !c.Entities && !c.Sentiment && !c.Keywords && !c.Summary &&
		strings.TrimSpace(c.CustomPrompt) == ""
}

// ScrapeRequest is the payload for POST /api/v1/scrape.
type ScrapeRequest struct {
	// URL is the target page to scrape. Required.
	URL string `json:"url" binding:"required"`

	// Selectors are evaluated in order against the fetched page.
	Selectors []Selector `json:"selectors,omitempty"`

	// AIExtraction enables AI-derived categories.
	AIExtraction *AIExtractionConfig `json:"ai_extraction,omitempty"`

	ExtractStructuredData bool `json:"extract_structured_data,omitempty"`
	ExtractLinks          bool `json:"extract_links,omitempty"`
	ExtractImages         bool `json:"extract_images,omitempty"`
	ExtractText           bool `json:"extract_text,omitempty"`

	// Webhook, when set, switches the request to asynchronous delivery.
	Webhook string `json:"webhook,omitempty"`

	// WebhookSecret signs webhook bodies with HMAC-SHA256.
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// CacheKey overrides the derived cache key verbatim.
	CacheKey string `json:"cache_key,omitempty"`

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3.
	MaxRetries *int `json:"max_retries,omitempty"`

	// Tier selects the fetch/extraction profile.
	// "fast", "simple" or "advanced" (default).
	Tier Tier `json:"tier,omitempty"`

	// CacheTTL is the cache lifetime in seconds. 0 uses the server default.
	CacheTTL int `json:"cache_ttl,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.Tier == "" {
		r.Tier = TierAdvanced
	}
	if r.MaxRetries == nil {
		n := DefaultMaxRetries
		r.MaxRetries = &n
	}
	for i := range r.Selectors {
		if r.Selectors[i].Kind == "" {
			r.Selectors[i].Kind = SelectorCSS
		}
	}
}

// Retries returns the effective retry count.
func (r *ScrapeRequest) Retries() int {
	if r.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

// Validate checks the request invariants. It does not apply defaults.
func (r *ScrapeRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return NewValidationError("url", "url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return NewValidationError("url", fmt.Sprintf("malformed url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("url", "url must use http or https")
	}
	if u.Host == "" {
		return NewValidationError("url", "url must be absolute")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return NewValidationError("max_retries", "max_retries must be >= 0")
	}
	if r.Tier != "" && !r.Tier.Valid() {
		return NewValidationError("tier", fmt.Sprintf("unknown tier %q", r.Tier))
	}
	if r.CacheTTL < 0 {
		return NewValidationError("cache_ttl", "cache_ttl must be >= 0")
	}
	if r.Webhook != "" {
		w, err := url.Parse(r.Webhook)
		if err != nil || (w.Scheme != "http" && w.Scheme != "https") || w.Host == "" {
			return NewValidationError("webhook", "webhook must be an absolute http(s) url")
		}
	}
	for i, s := range r.Selectors {
		if s.Name == "" {
			return NewValidationError("selectors", fmt.Sprintf("selector %d has no name", i))
		}
		if strings.TrimSpace(s.Selector) == "" {
			return NewValidationError("selectors", fmt.Sprintf("selector %q is empty", s.Name))
		}
		switch s.Kind {
		case "", SelectorCSS, SelectorXPath:
		default:
			return NewValidationError("selectors", fmt.Sprintf("selector %q has unknown kind %q", s.Name, s.Kind))
		}
	}
	return nil
}

// Clone returns a deep copy so async tasks keep a stable snapshot.
func (r *ScrapeRequest) Clone() *ScrapeRequest {
	c := *r
	if r.Selectors != nil {
		c.Selectors = append([]Selector(nil), r.Selectors...)
	}
	if r.AIExtraction != nil {
		ai := *r.AIExtraction
		c.AIExtraction = &ai
	}
	if r.MaxRetries != nil {
		n := *r.MaxRetries
		c.MaxRetries = &n
	}
	return &c
}

// SimpleRequest is the payload for POST /api/v1/scrape/simple.
type SimpleRequest struct {
	URL        string `json:"url" binding:"required"`
	ExtractAll *bool  `json:"extract_all,omitempty"`
	Webhook    string `json:"webhook,omitempty"`
}

// ToScrapeRequest expands the simple payload into a full simple-tier request.
func (r *SimpleRequest) ToScrapeRequest() *ScrapeRequest {
	all := r.ExtractAll == nil || *r.ExtractAll
	req := &ScrapeRequest{
		URL:                   r.URL,
		Tier:                  TierSimple,
		ExtractStructuredData: all,
		ExtractLinks:          all,
		ExtractImages:         all,
		ExtractText:           all,
		Webhook:               r.Webhook,
	}
	req.Defaults()
	return req
}

// FastRequest is the payload for POST /api/v1/scrape/fast.
type FastRequest struct {
	URL          string `json:"url" binding:"required"`
	ExtractBasic *bool  `json:"extract_basic,omitempty"`
}

// ToScrapeRequest expands the fast payload into a fast-tier request.
// Basic extraction is the page text; retries are disabled for speed.
func (r *FastRequest) ToScrapeRequest() *ScrapeRequest {
	basic := r.ExtractBasic == nil || *r.ExtractBasic
	zero := 0
	req := &ScrapeRequest{
		URL:         r.URL,
		Tier:        TierFast,
		ExtractText: basic,
		MaxRetries:  &zero,
	}
	req.Defaults()
	return req
}
