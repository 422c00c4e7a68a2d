package extract

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/use-agent/scrapeflow/models"
)

// extractSelectors evaluates the selectors in request order. Each name maps
// to the non-empty text (or attribute) values of its matches. A selector
// that does not compile yields an empty list and a warning; it never fails
// the category.
func extractSelectors(pg *page, selectors []models.Selector) map[string][]string {
	out := make(map[string][]string, len(selectors))
	for _, sel := range selectors {
		var (
			values []string
			err    error
		)
		switch sel.Kind {
		case models.SelectorXPath:
			values, err = queryXPath(pg.doc, sel)
		default:
			values, err = queryCSS(pg.doc, sel)
		}
		if err != nil {
			slog.Warn("invalid selector",
				"name", sel.Name, "selector", sel.Selector, "kind", sel.Kind,
				"url", pg.baseURL, "error", err,
			)
			values = []string{}
		}
		out[sel.Name] = values
	}
	return out
}

func queryCSS(doc *goquery.Document, sel models.Selector) ([]string, error) {
	m, err := cascadia.Compile(sel.Selector)
	if err != nil {
		return nil, err
	}
	values := []string{}
	doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		var v string
		if sel.Attribute != "" {
			v = s.AttrOr(sel.Attribute, "")
		} else {
			v = s.Text()
		}
		if v = collapseSpace(v); v != "" {
			values = append(values, v)
		}
	})
	return values, nil
}

func queryXPath(doc *goquery.Document, sel models.Selector) ([]string, error) {
	values := []string{}
	if len(doc.Nodes) == 0 {
		return values, nil
	}
	nodes, err := htmlquery.QueryAll(doc.Nodes[0], sel.Selector)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		v := nodeValue(n, sel.Attribute)
		if v = collapseSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// nodeValue reads attr from an element, or the text of any node. XPath
// expressions such as //a/@href select attribute nodes directly.
func nodeValue(n *html.Node, attr string) string {
	if attr != "" && n.Type == html.ElementNode {
		return htmlquery.SelectAttr(n, attr)
	}
	return strings.TrimSpace(htmlquery.InnerText(n))
}
