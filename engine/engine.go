package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/use-agent/scrapeflow/profile"
)

// Engine is the interface that all fetch engines must implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "http", "rod", "chromedp").
	Name() string

	// Fetch retrieves the page content for the given request.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// Fetcher is the fetch boundary the orchestrator depends on. Dispatcher
// implements it by racing engines; a single Engine also satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Cookies []http.Cookie
	Timeout time.Duration
	Stealth bool

	// Browser behaviour, taken from the tier profile.
	Wait           profile.WaitStrategy
	SettleDelay    time.Duration
	RemoveOverlays bool
	BlockResources []string

	// PreferHTTP lets the plain HTTP engine run before any browser.
	PreferHTTP bool
}

// NewFetchRequest builds a FetchRequest for url under p.
func NewFetchRequest(url string, p profile.FetchProfile) *FetchRequest {
	return &FetchRequest{
		URL:            url,
		Timeout:        p.Timeout,
		Wait:           p.Wait,
		SettleDelay:    p.SettleDelay,
		RemoveOverlays: p.RemoveOverlays,
		BlockResources: p.BlockResources,
		PreferHTTP:     p.PreferHTTP,
	}
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string

	// NeedsRender is set by the HTTP engine when the page looks like a
	// script-rendered shell. The dispatcher prefers a browser result.
	NeedsRender bool
}
