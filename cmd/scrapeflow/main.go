package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/use-agent/scrapeflow/api"
	"github.com/use-agent/scrapeflow/api/handler"
	"github.com/use-agent/scrapeflow/cache"
	"github.com/use-agent/scrapeflow/config"
	"github.com/use-agent/scrapeflow/engine"
	"github.com/use-agent/scrapeflow/extract"
	"github.com/use-agent/scrapeflow/llm"
	"github.com/use-agent/scrapeflow/orchestrator"
	"github.com/use-agent/scrapeflow/retry"
	"github.com/use-agent/scrapeflow/scraper"
	"github.com/use-agent/scrapeflow/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Load configuration ───────────────────────────────────────
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("scrapeflow starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"engines", cfg.Engine.Engines,
		"cache", cfg.Cache.Backend,
	)

	// ── 3. Fetch engines ────────────────────────────────────────────
	engines, sc, cdp, err := buildEngines(cfg)
	if err != nil {
		slog.Error("failed to initialise engines", "error", err)
		os.Exit(1)
	}
	memory := engine.NewDomainMemory(cfg.Engine.DomainMemoryTTL)
	fetcher := engine.NewDispatcher(engines, cfg.Engine.EscalationDelays, memory)

	// ── 4. Result cache ─────────────────────────────────────────────
	store, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		slog.Error("failed to initialise cache", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}

	// ── 5. Extraction and AI analyzer ───────────────────────────────
	analyzer, err := llm.New(cfg.AI)
	if err != nil {
		slog.Error("failed to initialise AI analyzer", "error", err)
		os.Exit(1)
	}
	if analyzer == nil {
		slog.Info("AI extraction disabled: no provider configured")
	}
	extractor := extract.New(analyzer, cfg.Extract.Concurrency)

	// ── 6. Webhook delivery and orchestration ───────────────────────
	notifier := webhook.NewDispatcher(webhook.Options{
		Workers:     cfg.Webhook.Workers,
		QueueSize:   cfg.Webhook.QueueSize,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Timeout:     cfg.Webhook.Timeout,
		Policy: retry.Policy{
			Initial:    cfg.Webhook.Initial,
			Multiplier: cfg.Webhook.Multiplier,
			Max:        cfg.Webhook.Max,
		},
	})
	notifier.Start()

	orch := orchestrator.New(fetcher, extractor, store, notifier, orchestrator.Options{
		Policy: retry.Policy{
			Initial:    cfg.Retry.Initial,
			Multiplier: cfg.Retry.Multiplier,
			Max:        cfg.Retry.Max,
		},
		CacheTTL:           cfg.Cache.TTL,
		MaxConcurrent:      cfg.Tasks.MaxConcurrent,
		TaskRetention:      cfg.Tasks.Retention,
		CacheSweepInterval: cfg.Cache.SweepInterval,
		TaskSweepInterval:  cfg.Tasks.SweepInterval,
	})
	orch.Start()

	// ── 7. Setup router ─────────────────────────────────────────────
	deps := api.Deps{
		Service:   orch,
		Engines:   fetcher.Engines(),
		StartTime: time.Now(),
	}
	if sc != nil {
		deps.Pool = sc
	}
	router := api.NewRouter(ctx, deps, cfg)

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Tasks first so their final deliveries are queued before the
	// dispatcher stops accepting jobs. The queue then drains under its
	// own deadline.
	orch.Close()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelDrain()
	if err := notifier.Shutdown(drainCtx); err != nil {
		slog.Warn("webhook queue not fully drained", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Warn("closing cache", "error", err)
	}
	if sc != nil {
		sc.Close()
	}
	if cdp != nil {
		cdp.Close()
	}
	slog.Info("scrapeflow stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// buildEngines creates the configured engines in escalation order. The
// browser is only launched when a rod engine is enabled.
func buildEngines(cfg *config.Config) ([]engine.Engine, *scraper.Scraper, *engine.ChromedpEngine, error) {
	var (
		engines []engine.Engine
		sc      *scraper.Scraper
		cdp     *engine.ChromedpEngine
	)
	for _, name := range cfg.Engine.Engines {
		switch name {
		case "http":
			engines = append(engines, engine.NewHTTPEngine())
		case "rod", "rod-stealth":
			if sc == nil {
				var err error
				if sc, err = scraper.NewScraper(cfg.Browser); err != nil {
					return nil, nil, nil, fmt.Errorf("launch browser: %w", err)
				}
			}
			engines = append(engines, engine.NewRodEngine(sc.Fetch, name == "rod-stealth"))
		case "chromedp":
			if cdp == nil {
				cdp = engine.NewChromedpEngine(cfg.Browser.Headless, cfg.Browser.BrowserBin)
			}
			engines = append(engines, cdp)
		default:
			return nil, nil, nil, fmt.Errorf("unknown engine %q", name)
		}
	}
	if len(engines) == 0 {
		return nil, nil, nil, errors.New("no engines enabled")
	}
	return engines, sc, cdp, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemory(cfg.MaxEntries), nil
	case "redis":
		return cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "memcached":
		return cache.NewMemcached(cfg.MemcachedServers)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// initLogger installs the default slog logger: tint for text output,
// JSON otherwise. Source paths are trimmed to the file name.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	replaceAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if src, ok := a.Value.Any().(*slog.Source); ok {
				src.File = filepath.Base(src.File)
			}
		}
		return a
	}

	var h slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		h = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       level,
			ReplaceAttr: replaceAttr,
			TimeFormat:  time.DateTime,
		})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       level,
			ReplaceAttr: replaceAttr,
		})
	}
	slog.SetDefault(slog.New(h))
}

var _ handler.PagePool = (*scraper.Scraper)(nil)
