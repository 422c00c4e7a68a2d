// Package extract runs the per-category extraction strategies over a
// fetched page and merges their outcomes.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/scrapeflow/engine"
	"github.com/use-agent/scrapeflow/models"
	"github.com/use-agent/scrapeflow/profile"
)

// DefaultConcurrency bounds how many categories run at once.
const DefaultConcurrency = 4

// Analyzer derives AI outputs from page text.
type Analyzer interface {
	Analyze(ctx context.Context, text string, cfg *models.AIExtractionConfig) (*models.AIResult, error)
}

// ErrNoAnalyzer is reported on the ai_extraction category when no AI
// backend is configured.
var ErrNoAnalyzer = errors.New("no AI backend configured")

// Extractor dispatches extraction categories. It is safe for concurrent use.
type Extractor struct {
	analyzer    Analyzer
	md          *converter.Converter
	concurrency int
}

// New creates an Extractor. analyzer may be nil, in which case AI
// categories fail with ErrNoAnalyzer.
func New(analyzer Analyzer, concurrency int) *Extractor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Extractor{
		analyzer:    analyzer,
		md:          newMarkdownConverter(),
		concurrency: concurrency,
	}
}

// page is the parsed view shared by all categories of one Extract call.
// goquery traversal is read-only, so the document can be shared.
type page struct {
	html    string
	baseURL string
	title   string
	doc     *goquery.Document
	tier    models.Tier

	article func() *readable
}

// Extract runs every category planned for req under p against the fetched
// page. A failing category carries its own Error and never affects the
// others.
func (e *Extractor) Extract(ctx context.Context, res *engine.FetchResult, req *models.ScrapeRequest, p profile.FetchProfile) map[models.Category]models.CategoryResult {
	plan := p.Plan(req)
	out := make(map[models.Category]models.CategoryResult, len(plan))
	if len(plan) == 0 {
		return out
	}

	baseURL := res.FinalURL
	if baseURL == "" {
		baseURL = req.URL
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		detail := &models.ErrorDetail{
			Code:    models.ErrCodeExtraction,
			Message: fmt.Sprintf("parse html: %v", err),
		}
		for _, c := range plan {
			out[c] = models.CategoryResult{Error: detail}
		}
		return out
	}

	pg := &page{
		html:    res.HTML,
		baseURL: baseURL,
		title:   res.Title,
		doc:     doc,
		tier:    p.Tier,
	}
	pg.article = sync.OnceValue(func() *readable {
		return e.readable(pg)
	})

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.concurrency)

	for _, c := range plan {
		g.Go(func() error {
			r := e.runCategory(ctx, c, pg, req)
			mu.Lock()
			out[c] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// runCategory executes one category, converting panics and errors into
// a category-level ErrorDetail.
func (e *Extractor) runCategory(ctx context.Context, c models.Category, pg *page, req *models.ScrapeRequest) (r models.CategoryResult) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("extraction panic",
				"category", c, "url", pg.baseURL, "panic", p,
				"stack", string(debug.Stack()),
			)
			r = models.CategoryResult{Error: &models.ErrorDetail{
				Code:    models.ErrCodeExtraction,
				Message: fmt.Sprintf("%s extraction panicked: %v", c, p),
			}}
		}
	}()

	var err error
	switch c {
	case models.CategorySelectors:
		r.Selectors = extractSelectors(pg, req.Selectors)
	case models.CategoryStructuredData:
		r.StructuredData = extractStructuredData(pg.doc)
	case models.CategoryLinks:
		var links models.LinksResult
		links, err = extractLinks(pg.doc, pg.baseURL)
		r.Links = &links
	case models.CategoryImages:
		r.Images, err = extractImages(pg.doc, pg.baseURL)
	case models.CategoryText:
		r.Text, err = e.extractText(pg)
	case models.CategoryAI:
		r.AI, err = e.extractAI(ctx, pg, req.AIExtraction)
	default:
		err = fmt.Errorf("unknown category %q", c)
	}

	if err != nil {
		slog.Warn("extraction category failed",
			"category", c, "url", pg.baseURL, "error", err,
		)
		return models.CategoryResult{Error: categoryError(c, err)}
	}
	return r
}

// categoryError keeps coded errors (LLM failures) and reports everything
// else as EXTRACTION_FAILED.
func categoryError(c models.Category, err error) *models.ErrorDetail {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se.ToDetail()
	}
	code := models.ErrCodeExtraction
	if c == models.CategoryAI {
		code = models.ErrCodeLLMFailure
	}
	return &models.ErrorDetail{Code: code, Message: err.Error()}
}

func (e *Extractor) extractAI(ctx context.Context, pg *page, cfg *models.AIExtractionConfig) (*models.AIResult, error) {
	if cfg.IsEmpty() {
		return &models.AIResult{}, nil
	}
	if e.analyzer == nil {
		return nil, ErrNoAnalyzer
	}
	art := pg.article()
	text := art.text
	if art.title != "" {
		text = art.title + "\n\n" + text
	}
	return e.analyzer.Analyze(ctx, text, cfg)
}
