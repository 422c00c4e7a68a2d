// Package scraper drives a pooled headless Chromium through rod. It is the
// browser behind the "rod" and "rod-stealth" engines.
package scraper

import (
	"log/slog"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/use-agent/scrapeflow/config"
	"github.com/use-agent/scrapeflow/engine"
)

// Scraper manages the global browser lifecycle and the page pool.
// It is safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	cfg         config.BrowserConfig
	maxPages    int
	activePages atomic.Int32
}

// NewScraper launches a headless browser and initialises the reusable page pool.
func NewScraper(cfg config.BrowserConfig) (*Scraper, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &engine.FetchError{Kind: engine.Permanent, Engine: "rod", Err: err}
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, &engine.FetchError{Kind: engine.Permanent, Engine: "rod", Err: err}
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}
	slog.Info("page pool created", "maxPages", maxPages)

	return &Scraper{
		browser:  browser,
		pagePool: rod.NewPagePool(maxPages),
		cfg:      cfg,
		maxPages: maxPages,
	}, nil
}

// ActivePages returns the number of pages currently in use.
func (s *Scraper) ActivePages() int {
	return int(s.activePages.Load())
}

// MaxPages returns the page pool capacity.
func (s *Scraper) MaxPages() int {
	return s.maxPages
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: draining page pool")
	s.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	slog.Info("scraper shutting down: closing browser")
	if err := s.browser.Close(); err != nil {
		slog.Warn("closing browser", "error", err)
	}
}
