package extract

import (
	"log/slog"
	nurl "net/url"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"

	"github.com/use-agent/scrapeflow/models"
)

// minContentLength is the shortest readability text accepted as the main
// content. Anything shorter falls back to the whole body.
const minContentLength = 50

// htmlPreviewRunes caps the raw HTML returned with a fast-tier preview.
const htmlPreviewRunes = 1000

// readable is the main content of a page after readability.
type readable struct {
	title   string
	byline  string
	excerpt string
	html    string
	text    string
}

// readable runs readability once per page. Failures fall back to the
// document body so the text and AI categories always have input.
func (e *Extractor) readable(pg *page) *readable {
	fallback := func() *readable {
		body := pg.doc.Find("body")
		if body.Length() == 0 {
			body = pg.doc.Selection
		}
		clone := body.Clone()
		clone.Find("script,style,noscript,template").Remove()
		html, _ := clone.Html()
		return &readable{
			title: pg.pageTitle(),
			html:  html,
			text:  collapseSpace(clone.Text()),
		}
	}

	parsed, err := nurl.Parse(pg.baseURL)
	if err != nil {
		slog.Warn("readability: invalid base url, using body", "url", pg.baseURL, "error", err)
		return fallback()
	}

	article, err := readability.FromReader(strings.NewReader(pg.html), parsed)
	if err != nil {
		slog.Warn("readability: extraction failed, using body", "url", pg.baseURL, "error", err)
		return fallback()
	}

	text := collapseSpace(article.TextContent)
	if utf8.RuneCountInString(text) < minContentLength {
		slog.Debug("readability: content too short, using body", "url", pg.baseURL, "length", len(text))
		return fallback()
	}

	title := article.Title
	if title == "" {
		title = pg.pageTitle()
	}
	return &readable{
		title:   title,
		byline:  article.Byline,
		excerpt: article.Excerpt,
		html:    article.Content,
		text:    text,
	}
}

// pageTitle prefers the engine-reported title over the <title> element.
func (pg *page) pageTitle() string {
	if pg.title != "" {
		return pg.title
	}
	return strings.TrimSpace(pg.doc.Find("title").First().Text())
}

func (e *Extractor) extractText(pg *page) (*models.TextContent, error) {
	art := pg.article()

	md, err := e.md.ConvertString(art.html, converter.WithDomain(pg.baseURL))
	if err != nil {
		return nil, err
	}

	tc := &models.TextContent{
		Text:     art.text,
		Markdown: strings.TrimSpace(md),
		Excerpt:  art.excerpt,
		Byline:   art.byline,
		Tokens:   EstimateTokens(art.text),
	}
	// The fast tier is a preview: title, text and the head of the raw HTML.
	if pg.tier == models.TierFast {
		tc.Title = pg.pageTitle()
		tc.HTMLPreview = headRunes(pg.html, htmlPreviewRunes)
		tc.Markdown = ""
		tc.Byline = ""
		return tc, nil
	}
	tc.Title = art.title
	return tc, nil
}

// newMarkdownConverter builds a goroutine-safe converter: base strips
// scripts and styles, commonmark renders the rest, and tables keep
// minimal cell padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// EstimateTokens approximates the token count as runes / 3, which sits
// between English (~4 chars/token) and CJK (~1.5 chars/token).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}

// headRunes returns at most the first n runes of s.
func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
