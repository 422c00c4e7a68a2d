package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"

	"github.com/use-agent/scrapeflow/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// extractStructuredData gathers JSON-LD blocks, microdata items and the
// Open Graph, Twitter card and named meta tags.
func extractStructuredData(doc *goquery.Document) *models.StructuredData {
	sd := &models.StructuredData{
		OpenGraph: map[string]string{},
		Twitter:   map[string]string{},
		Meta:      map[string]string{},
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var v any
		if err := json.UnmarshalFromString(raw, &v); err != nil {
			return
		}
		// A top-level array is a list of independent blocks.
		if list, ok := v.([]any); ok {
			sd.JSONLD = append(sd.JSONLD, list...)
			return
		}
		sd.JSONLD = append(sd.JSONLD, v)
	})

	doc.Find("[itemscope]").Each(func(_ int, s *goquery.Selection) {
		// Nested items are reported as properties of their parent only.
		if s.ParentsFiltered("[itemscope]").Length() > 0 && s.Is("[itemprop]") {
			return
		}
		sd.Microdata = append(sd.Microdata, microdataItem(s))
	})

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		key := strings.ToLower(strings.TrimSpace(s.AttrOr("property", s.AttrOr("name", ""))))
		switch {
		case key == "":
		case strings.HasPrefix(key, "og:"):
			sd.OpenGraph[strings.TrimPrefix(key, "og:")] = content
		case strings.HasPrefix(key, "twitter:"):
			sd.Twitter[strings.TrimPrefix(key, "twitter:")] = content
		default:
			if _, named := s.Attr("name"); named {
				sd.Meta[key] = content
			}
		}
	})

	return sd
}

func microdataItem(scope *goquery.Selection) models.MicrodataItem {
	item := models.MicrodataItem{
		Type:       scope.AttrOr("itemtype", ""),
		Properties: map[string][]string{},
	}
	scope.Find("[itemprop]").Each(func(_ int, s *goquery.Selection) {
		// Skip properties owned by a nested scope.
		owner := s.ParentsFiltered("[itemscope]").First()
		if owner.Length() == 0 || owner.Get(0) != scope.Get(0) {
			return
		}
		v := microdataValue(s)
		if v == "" {
			return
		}
		for _, name := range strings.Fields(s.AttrOr("itemprop", "")) {
			item.Properties[name] = append(item.Properties[name], v)
		}
	})
	return item
}

// microdataValue follows the HTML microdata value rules for the common
// elements.
func microdataValue(s *goquery.Selection) string {
	if _, ok := s.Attr("itemscope"); ok {
		return s.AttrOr("itemtype", "")
	}
	switch goquery.NodeName(s) {
	case "meta":
		return strings.TrimSpace(s.AttrOr("content", ""))
	case "a", "area", "link":
		return strings.TrimSpace(s.AttrOr("href", ""))
	case "img", "audio", "video", "source", "embed", "iframe":
		return strings.TrimSpace(s.AttrOr("src", ""))
	case "object":
		return strings.TrimSpace(s.AttrOr("data", ""))
	case "time":
		if dt, ok := s.Attr("datetime"); ok {
			return strings.TrimSpace(dt)
		}
	case "data", "meter":
		return strings.TrimSpace(s.AttrOr("value", ""))
	}
	return collapseSpace(s.Text())
}
