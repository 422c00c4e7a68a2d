package models

import "time"

// Category is one extraction strategy applied to a fetched page.
type Category string

const (
	CategorySelectors      Category = "selectors"
	CategoryStructuredData Category = "structured_data"
	CategoryLinks          Category = "links"
	CategoryImages         Category = "images"
	CategoryText           Category = "text"
	CategoryAI             Category = "ai_extraction"
)

// AllCategories lists every category in dispatch order.
var AllCategories = []Category{
	CategorySelectors,
	CategoryStructuredData,
	CategoryLinks,
	CategoryImages,
	CategoryText,
	CategoryAI,
}

// CategoryResult is the outcome of one category. Exactly one payload field
// matching the category is set on success; Error is set on failure.
type CategoryResult struct {
	Selectors      map[string][]string `json:"selectors,omitempty"`
	StructuredData *StructuredData     `json:"structured_data,omitempty"`
	Links          *LinksResult        `json:"links,omitempty"`
	Images         []Image             `json:"images,omitempty"`
	Text           *TextContent        `json:"text,omitempty"`
	AI             *AIResult           `json:"ai,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// Failed reports whether this category produced an error.
func (c CategoryResult) Failed() bool { return c.Error != nil }

// LinksResult separates extracted links into internal and external groups.
type LinksResult struct {
	Internal []Link `json:"internal"`
	External []Link `json:"external"`
}

// Count returns the total number of links.
func (l *LinksResult) Count() int {
	if l == nil {
		return 0
	}
	return len(l.Internal) + len(l.External)
}

// Link represents a hyperlink extracted from the page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Image represents an image element extracted from the page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// StructuredData holds machine-readable metadata embedded in the page.
type StructuredData struct {
	JSONLD    []any             `json:"json_ld,omitempty"`
	Microdata []MicrodataItem   `json:"microdata,omitempty"`
	OpenGraph map[string]string `json:"open_graph,omitempty"`
	Twitter   map[string]string `json:"twitter,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// MicrodataItem is one itemscope element and its itemprop values.
type MicrodataItem struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string][]string `json:"properties"`
}

// TextContent is the readable main content of the page.
type TextContent struct {
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	Markdown string `json:"markdown,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Byline   string `json:"byline,omitempty"`
	Tokens   int    `json:"tokens"`

	// HTMLPreview is the start of the raw page HTML, set by the fast tier.
	HTMLPreview string `json:"html_preview,omitempty"`
}

// Entity is a named entity found by the AI analyzer.
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Sentiment is the overall tone of the page.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// AIResult is the AI-derived view of the page. Only the toggled fields
// are populated.
type AIResult struct {
	Entities  []Entity   `json:"entities,omitempty"`
	Sentiment *Sentiment `json:"sentiment,omitempty"`
	Keywords  []string   `json:"keywords,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Custom    any        `json:"custom,omitempty"`
	Model     string     `json:"model,omitempty"`
	Usage     *LLMUsage  `json:"usage,omitempty"`
}

// LLMUsage reports token consumption for an AI call.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cache status values reported in Provenance.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Provenance describes how a result was produced.
type Provenance struct {
	Engine      string `json:"engine,omitempty"`
	Tier        Tier   `json:"tier"`
	Attempts    int    `json:"attempts"`
	FinalURL    string `json:"final_url,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	CacheStatus string `json:"cache_status,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// ScrapeResult is the merged outcome of a scrape. When Success is false,
// Data is nil and Error describes the terminal failure.
type ScrapeResult struct {
	Success     bool                        `json:"success"`
	URL         string                      `json:"url"`
	Data        map[Category]CategoryResult `json:"data,omitempty"`
	Provenance  Provenance                  `json:"provenance"`
	CompletedAt time.Time                   `json:"completed_at"`
	Error       *ErrorDetail                `json:"error,omitempty"`
}

// WithCacheStatus returns a shallow copy carrying the given cache status.
// The Data map is shared and must be treated as read-only.
func (r *ScrapeResult) WithCacheStatus(status string) *ScrapeResult {
	c := *r
	c.Provenance.CacheStatus = status
	return &c
}

// FailedResult builds a terminal failure result.
func FailedResult(url string, tier Tier, attempts int, detail *ErrorDetail) *ScrapeResult {
	if detail != nil {
		detail.Attempts = attempts
	}
	return &ScrapeResult{
		Success:     false,
		URL:         url,
		Provenance:  Provenance{Tier: tier, Attempts: attempts},
		CompletedAt: time.Now(),
		Error:       detail,
	}
}

// CacheEntry is a stored result with its lifetime.
type CacheEntry struct {
	Key       string        `json:"key"`
	Result    *ScrapeResult `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is stale at now. An entry exactly TTL
// old is expired.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}
