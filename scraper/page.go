package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/scrapeflow/engine"
	"github.com/use-agent/scrapeflow/profile"
)

const engineName = "rod"

// Fetch loads req.URL in a pooled tab and returns the rendered HTML.
// It matches engine.RodFetchFunc.
//
// Lifecycle:
//
//  1. Timeout guard
//  2. Acquire page from the pool
//  3. DEFER: about:blank + return to pool
//  4. Stealth, headers and cookies
//  5. Hijack router for blocked resource types
//  6. Idle waiter (registered before navigation)
//  7. Navigate, then wait per strategy and settle
//  8. Status check, overlay removal, HTML + title + final URL
//
// Steps 4-6 must happen before Navigate: scripts, interception and idle
// listeners only apply to navigations started after they are installed.
func (s *Scraper) Fetch(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// ── 2. Acquire page from pool ─────────────────────────────────────
	s.activePages.Add(1)
	defer s.activePages.Add(-1)

	page, err := s.pagePool.Get(func() (*rod.Page, error) {
		return s.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return nil, engine.Classify(engineName, err)
	}

	// ── 3. Cleanup uses the page without request context so it runs
	// even after the deadline.
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		s.pagePool.Put(page)
	}()

	// ── 4. Stealth, headers, cookies ──────────────────────────────────
	if req.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}
	applyHeaders(page, req)
	applyCookies(page, req)

	// ── 5. Hijack router ──────────────────────────────────────────────
	router := setupHijack(page, req.BlockResources, len(req.BlockResources) > 0)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	p := page.Context(ctx)

	// ── 6. Idle waiter ────────────────────────────────────────────────
	// WaitRequestIdle uses the Fetch domain, which conflicts with the
	// hijack router, so it is only used when nothing is intercepted.
	var waitIdle func()
	if req.Wait == profile.WaitNetworkIdle && router == nil {
		waitIdle = p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	}

	// ── 7. Navigate and wait ──────────────────────────────────────────
	if err := p.Navigate(req.URL); err != nil {
		return nil, engine.Classify(engineName, contextErr(ctx, err))
	}
	wait(p, req.Wait, waitIdle)
	if req.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, engine.Classify(engineName, ctx.Err())
		case <-time.After(req.SettleDelay):
		}
	}

	// ── 8. Extract ────────────────────────────────────────────────────
	statusCode := 0
	if res, evalErr := p.Eval(engine.NavigationStatusJS); evalErr == nil {
		statusCode = res.Value.Int()
	}
	if statusCode >= 400 {
		return nil, engine.StatusError(engineName, statusCode)
	}

	if req.RemoveOverlays {
		_, _ = p.Eval(engine.RemoveOverlaysJS)
	}

	rawHTML, err := p.HTML()
	if err != nil {
		return nil, engine.Classify(engineName, contextErr(ctx, err))
	}

	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	return &engine.FetchResult{
		HTML:       rawHTML,
		Title:      evalStringOrEmpty(p, `() => document.title`),
		StatusCode: statusCode,
		FinalURL:   finalURL,
		EngineName: engineName,
	}, nil
}

func wait(p *rod.Page, strategy profile.WaitStrategy, waitIdle func()) {
	switch {
	case waitIdle != nil:
		waitIdle()
	case strategy == profile.WaitLoad:
		if err := p.WaitLoad(); err != nil {
			slog.Debug("WaitLoad failed, proceeding with current DOM", "error", err)
		}
	default:
		if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
		}
	}
}

// applyHeaders sets custom headers plus a search-engine Referer unless the
// caller supplied one.
func applyHeaders(page *rod.Page, req *engine.FetchRequest) {
	headers := make(map[string]string, len(req.Headers)+1)
	if _, ok := req.Headers["Referer"]; !ok {
		if u, err := url.Parse(req.URL); err == nil {
			headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	if len(headers) == 0 {
		return
	}
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: m}.Call(page)
}

func applyCookies(page *rod.Page, req *engine.FetchRequest) {
	for _, c := range req.Cookies {
		domain := c.Domain
		if domain == "" {
			if u, err := url.Parse(req.URL); err == nil {
				domain = u.Host
			}
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		_, _ = proto.NetworkSetCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   path,
		}.Call(page)
	}
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// contextErr prefers the context's error so deadlines classify as timeouts.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
