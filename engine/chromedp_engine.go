package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/use-agent/scrapeflow/profile"
)

// ChromedpEngine fetches pages through a second, independently launched
// Chrome driven by chromedp. Each fetch runs in its own tab.
type ChromedpEngine struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

// NewChromedpEngine starts an exec allocator. The browser process itself is
// launched lazily on the first fetch.
func NewChromedpEngine(headless bool, browserBin string) *ChromedpEngine {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(chromeUA),
	)
	if browserBin != "" {
		opts = append(opts, chromedp.ExecPath(browserBin))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromedpEngine{allocCtx: allocCtx, cancelAlloc: cancel}
}

func (e *ChromedpEngine) Name() string { return "chromedp" }

// Close shuts the browser down.
func (e *ChromedpEngine) Close() {
	e.cancelAlloc()
}

func (e *ChromedpEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	tabCtx, cancelTab := chromedp.NewContext(e.allocCtx)
	defer cancelTab()
	// The tab derives from the allocator, not the request; tie them together.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, req.Timeout)
		defer cancel()
	}

	var (
		mu         sync.Mutex
		statusCode int
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			mu.Lock()
			statusCode = int(resp.Response.Status)
			mu.Unlock()
		}
	})

	headers := network.Headers{}
	for k, v := range req.Headers {
		headers[k] = v
	}

	var title, finalURL, rawHTML string
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		navigateAndWait(req.URL, lifecycleEvent(req.Wait)),
	}
	if req.SettleDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(req.SettleDelay))
	}
	if req.RemoveOverlays {
		tasks = append(tasks, chromedp.Evaluate("("+RemoveOverlaysJS+")()", nil))
	}
	tasks = append(tasks,
		chromedp.Title(&title),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &rawHTML, chromedp.ByQuery),
	)

	start := time.Now()
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if tabCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, Classify(e.Name(), err)
	}
	slog.Debug("chromedp fetch done", "url", req.URL, "duration", time.Since(start))

	mu.Lock()
	code := statusCode
	mu.Unlock()
	if code >= 400 {
		return nil, StatusError(e.Name(), code)
	}

	return &FetchResult{
		HTML:       rawHTML,
		Title:      title,
		StatusCode: code,
		FinalURL:   finalURL,
		EngineName: e.Name(),
	}, nil
}

// lifecycleEvent maps a wait strategy to the CDP lifecycle event name.
func lifecycleEvent(w profile.WaitStrategy) string {
	switch w {
	case profile.WaitNetworkIdle:
		return "networkIdle"
	case profile.WaitDOMStable:
		return "DOMContentLoaded"
	default:
		return "load"
	}
}

func navigateAndWait(url, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		// Listen before navigating so the event cannot be missed.
		fired := make(chan struct{})
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		var once sync.Once
		chromedp.ListenTarget(lctx, func(ev any) {
			if lc, ok := ev.(*page.EventLifecycleEvent); ok && lc.Name == eventName {
				once.Do(func() { close(fired) })
			}
		})

		// Navigate itself waits for the load event and reports net::ERR_*
		// page load errors.
		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-fired:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
