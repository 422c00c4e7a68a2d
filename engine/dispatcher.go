package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// Dispatcher coordinates multi-engine racing with staged escalation.
// It starts the fastest engine first and progressively escalates to heavier
// engines if earlier ones fail or time out. It implements Fetcher.
type Dispatcher struct {
	engines          []Engine
	escalationDelays []time.Duration
	memory           *DomainMemory
}

// NewDispatcher creates a Dispatcher with the given engines and escalation delays.
// engines[i] starts after escalationDelays[i] from the race beginning.
// The first delay should be 0 (immediate start). memory may be nil.
func NewDispatcher(engines []Engine, escalationDelays []time.Duration, memory *DomainMemory) *Dispatcher {
	// Ensure we have at least as many delays as engines.
	delays := make([]time.Duration, len(engines))
	copy(delays, escalationDelays)
	return &Dispatcher{
		engines:          engines,
		escalationDelays: delays,
		memory:           memory,
	}
}

// Engines returns the configured engine names in escalation order.
func (d *Dispatcher) Engines() []string {
	names := make([]string, len(d.engines))
	for i, e := range d.engines {
		names[i] = e.Name()
	}
	return names
}

// Fetch runs the multi-engine race for the given request and returns
// the first successful result.
func (d *Dispatcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if len(d.engines) == 0 {
		return nil, &FetchError{Kind: Permanent, Engine: "dispatcher", Err: errors.New("no engines configured")}
	}
	domain := extractDomain(req.URL)

	// Check domain memory for a previously successful engine.
	if remembered := d.memory.Get(domain); remembered != "" {
		for _, eng := range d.engines {
			if eng.Name() != remembered {
				continue
			}
			slog.Debug("domain memory hit", "domain", domain, "engine", remembered)
			result, err := eng.Fetch(ctx, req)
			if err == nil && !result.NeedsRender {
				return result, nil
			}
			// A status from the target itself will not change by switching engines.
			var fe *FetchError
			if errors.As(err, &fe) && fe.Permanent() && fe.StatusCode > 0 {
				return nil, err
			}
			slog.Info("domain memory miss, running full race",
				"domain", domain, "engine", remembered, "error", err)
			d.memory.Delete(domain)
			break
		}
	}

	return d.race(ctx, req, domain)
}

type stage struct {
	engine Engine
	delay  time.Duration
}

// stages picks the engines for req. Without PreferHTTP the plain HTTP
// engine is skipped whenever a browser engine is available.
func (d *Dispatcher) stages(req *FetchRequest) []stage {
	var out []stage
	for i, e := range d.engines {
		if !req.PreferHTTP && e.Name() == "http" && len(d.engines) > 1 {
			continue
		}
		out = append(out, stage{engine: e, delay: d.escalationDelays[i]})
	}
	// Re-base so the first selected engine starts immediately.
	if base := out[0].delay; base > 0 {
		for i := range out {
			out[i].delay -= base
		}
	}
	return out
}

// race runs the selected engines with staged delays and returns the first
// success. A result flagged NeedsRender is held back while other engines
// are still running.
func (d *Dispatcher) race(ctx context.Context, req *FetchRequest, domain string) (*FetchResult, error) {
	type raceResult struct {
		result *FetchResult
		err    error
	}

	stages := d.stages(req)

	raceCtx, raceCancel := context.WithCancel(ctx)
	defer raceCancel()

	results := make(chan raceResult, len(stages))
	var wg sync.WaitGroup

	for _, st := range stages {
		wg.Add(1)
		go func(e Engine, delay time.Duration) {
			defer wg.Done()

			// Wait for the escalation delay or context cancellation.
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-raceCtx.Done():
					timer.Stop()
					results <- raceResult{err: raceCtx.Err()}
					return
				case <-timer.C:
				}
			}

			slog.Debug("engine starting", "engine", e.Name(), "url", req.URL)
			result, err := e.Fetch(raceCtx, req)
			if err != nil {
				slog.Debug("engine failed", "engine", e.Name(), "url", req.URL, "error", err)
			}
			results <- raceResult{result: result, err: err}
		}(st.engine, st.delay)
	}

	// Close results channel when all goroutines finish.
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		fallback  *FetchResult
		permErr   error
		transient error
		received  int
	)
	for rr := range results {
		received++
		if rr.err != nil {
			var fe *FetchError
			if errors.As(rr.err, &fe) && fe.Permanent() {
				permErr = rr.err
			} else if !errors.Is(rr.err, context.Canceled) || transient == nil {
				transient = rr.err
			}
			continue
		}
		if rr.result.NeedsRender && received < len(stages) {
			if fallback == nil {
				fallback = rr.result
			}
			continue
		}
		// First success wins; cancel all other engines.
		raceCancel()
		slog.Info("engine won race", "engine", rr.result.EngineName, "url", req.URL)
		d.memory.Set(domain, rr.result.EngineName)
		return rr.result, nil
	}

	if fallback != nil {
		slog.Info("using unrendered result, browser engines failed", "engine", fallback.EngineName, "url", req.URL)
		return fallback, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, Classify("dispatcher", err)
	}
	if transient != nil {
		return nil, transient
	}
	if permErr != nil {
		return nil, permErr
	}
	return nil, &FetchError{Kind: Transient, Engine: "dispatcher", Err: fmt.Errorf("all engines failed for %s", req.URL)}
}

// extractDomain parses the hostname from a URL string.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
